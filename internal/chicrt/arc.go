package chicrt

// arcHeader is the {strong, weak, size, align, drop_fn, type_id} record
// spec.md §4.6 Reference counting describes, stored immediately before the
// payload at the address returned to callers.
type arcHeader struct {
	strong, weak, size, align, dropFn, typeID uint32
}

const arcHeaderSize = 24

func (rt *Runtime) readArcHeader(addr uint32) arcHeader {
	b := rt.Mem.Read(addr, arcHeaderSize)
	return arcHeader{
		strong: getU32(b[0:4]), weak: getU32(b[4:8]), size: getU32(b[8:12]),
		align: getU32(b[12:16]), dropFn: getU32(b[16:20]), typeID: getU32(b[20:24]),
	}
}

func (rt *Runtime) writeArcHeader(addr uint32, h arcHeader) {
	buf := make([]byte, arcHeaderSize)
	putU32(buf[0:4], h.strong)
	putU32(buf[4:8], h.weak)
	putU32(buf[8:12], h.size)
	putU32(buf[12:16], h.align)
	putU32(buf[16:20], h.dropFn)
	putU32(buf[20:24], h.typeID)
	rt.Mem.Write(addr, buf)
}

// lastObjectNew records the address of the most recently allocated
// object_new instance. arc_new substitutes it for the payload source when
// the emitter passes a null src pointer, a debug-mode fallback spec.md §4.6
// and §9 document as required for some MIR patterns where the payload
// pointer is only constructed after the arc_new call itself.
var lastObjectNew uint32
var haveLastObjectNew bool

func init() {
	register("object_new", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32); err != nil {
			return nil, err
		}
		m := rt.typeTable[args[0].I32]
		size, align := m.size, m.align
		if align == 0 {
			align = 4
		}
		addr := rt.alloc.bump(size, align)
		lastObjectNew = addr
		haveLastObjectNew = true
		return []Value{I32(int32(addr))}, nil
	})

	register("arc_new", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32, KindI32, KindI32, KindI32, KindI32); err != nil {
			return nil, err
		}
		out, src, size, align, dropFn, typeID := args[0].U32(), args[1].U32(), args[2].U32(), args[3].U32(), args[4].U32(), args[5].U32()
		if src == 0 && haveLastObjectNew {
			src = lastObjectNew
		}
		headerAlign := align
		if headerAlign < 4 {
			headerAlign = 4
		}
		headerAddr := rt.alloc.bump(arcHeaderSize+size, headerAlign)
		rt.writeArcHeader(headerAddr, arcHeader{strong: 1, weak: 1, size: size, align: align, dropFn: dropFn, typeID: typeID})
		if size > 0 && src != 0 {
			rt.Mem.Write(headerAddr+arcHeaderSize, rt.Mem.Read(src, size))
		}
		rt.Mem.Write(out, func() []byte {
			b := make([]byte, 4)
			putU32(b, headerAddr)
			return b
		}())
		return nil, nil
	})

	register("arc_clone", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32); err != nil {
			return nil, err
		}
		addr := args[0].U32()
		h := rt.readArcHeader(addr)
		h.strong++
		rt.writeArcHeader(addr, h)
		return []Value{I32(int32(addr))}, nil
	})

	register("arc_drop", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32); err != nil {
			return nil, err
		}
		addr := args[0].U32()
		h := rt.readArcHeader(addr)
		if h.strong > 0 {
			h.strong--
		}
		if h.strong == 0 {
			if h.dropFn != 0 && callDropGlue != nil {
				callDropGlue(h.dropFn, addr+arcHeaderSize)
			}
			if h.weak == 0 {
				rt.writeArcHeader(addr, arcHeader{})
				return nil, nil
			}
		}
		rt.writeArcHeader(addr, h)
		return nil, nil
	})

	register("arc_downgrade", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32); err != nil {
			return nil, err
		}
		addr := args[0].U32()
		h := rt.readArcHeader(addr)
		h.weak++
		rt.writeArcHeader(addr, h)
		return []Value{I32(int32(addr))}, nil
	})

	register("weak_upgrade", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32); err != nil {
			return nil, err
		}
		addr := args[0].U32()
		h := rt.readArcHeader(addr)
		if h.strong == 0 {
			return []Value{I32(0)}, nil
		}
		h.strong++
		rt.writeArcHeader(addr, h)
		return []Value{I32(int32(addr))}, nil
	})

	register("arc_get", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32); err != nil {
			return nil, err
		}
		return []Value{I32(int32(args[0].U32() + arcHeaderSize))}, nil
	})

	register("arc_get_mut", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32); err != nil {
			return nil, err
		}
		addr := args[0].U32()
		h := rt.readArcHeader(addr)
		if h.strong != 1 || h.weak != 1 {
			return []Value{I32(0)}, nil
		}
		return []Value{I32(int32(addr + arcHeaderSize))}, nil
	})

	register("strong_count", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32); err != nil {
			return nil, err
		}
		return []Value{I32(int32(rt.readArcHeader(args[0].U32()).strong))}, nil
	})

	register("weak_count", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32); err != nil {
			return nil, err
		}
		return []Value{I32(int32(rt.readArcHeader(args[0].U32()).weak))}, nil
	})
}
