package chicrt

// vecRepr is the {len, cap, ptr, elem_size, elem_align, drop_fn} record a
// growable vector uses; drop_fn is a wasm function index (0 means "no drop
// glue") invoked on every live element when the vector itself drops.
type vecRepr struct {
	len, cap, ptr, elemSize, elemAlign, dropFn uint32
}

const vecRecordSize = 24

func (rt *Runtime) readVec(addr uint32) vecRepr {
	b := rt.Mem.Read(addr, vecRecordSize)
	return vecRepr{
		len: getU32(b[0:4]), cap: getU32(b[4:8]), ptr: getU32(b[8:12]),
		elemSize: getU32(b[12:16]), elemAlign: getU32(b[16:20]), dropFn: getU32(b[20:24]),
	}
}

func (rt *Runtime) writeVec(addr uint32, v vecRepr) {
	buf := make([]byte, vecRecordSize)
	putU32(buf[0:4], v.len)
	putU32(buf[4:8], v.cap)
	putU32(buf[8:12], v.ptr)
	putU32(buf[12:16], v.elemSize)
	putU32(buf[16:20], v.elemAlign)
	putU32(buf[20:24], v.dropFn)
	rt.Mem.Write(addr, buf)
}

func (rt *Runtime) ensureVecCapacity(v *vecRepr, needed uint32) {
	if v.cap >= needed {
		return
	}
	newCap := v.cap * 2
	if newCap < needed {
		newCap = needed
	}
	if newCap < 4 {
		newCap = 4
	}
	newPtr := rt.alloc.bump(newCap*v.elemSize, v.elemAlign)
	if v.len > 0 {
		rt.Mem.Write(newPtr, rt.Mem.Read(v.ptr, v.len*v.elemSize))
	}
	v.ptr = newPtr
	v.cap = newCap
}

// callDropGlue invokes a registered drop_fn by wasm function index on one
// element address. The interpreter wires this hook in at construction time;
// chicrt itself only knows the index, not how to call back into wasm.
var callDropGlue func(fnIdx uint32, elemAddr uint32)

// SetDropGlueCaller lets the interpreter register the callback chicrt uses
// to run user drop glue during vec_drop and arc_drop.
func SetDropGlueCaller(fn func(fnIdx uint32, elemAddr uint32)) { callDropGlue = fn }

func init() {
	register("vec_with_capacity", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32, KindI32, KindI32, KindI32); err != nil {
			return nil, err
		}
		out, elemSize, elemAlign, cap, dropFn := args[0].U32(), args[1].U32(), args[2].U32(), args[3].U32(), args[4].U32()
		v := vecRepr{elemSize: elemSize, elemAlign: elemAlign, dropFn: dropFn}
		if cap > 0 {
			v.ptr = rt.alloc.bump(cap*elemSize, elemAlign)
			v.cap = cap
		}
		rt.writeVec(out, v)
		return nil, nil
	})

	register("vec_clone", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32); err != nil {
			return nil, err
		}
		out, src := args[0].U32(), args[1].U32()
		v := rt.readVec(src)
		clone := v
		clone.cap = v.len
		if v.len > 0 {
			clone.ptr = rt.alloc.bump(v.len*v.elemSize, v.elemAlign)
			rt.Mem.Write(clone.ptr, rt.Mem.Read(v.ptr, v.len*v.elemSize))
		}
		rt.writeVec(out, clone)
		return nil, nil
	})

	register("vec_drop", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32); err != nil {
			return nil, err
		}
		v := rt.readVec(args[0].U32())
		if v.dropFn != 0 && callDropGlue != nil {
			for i := uint32(0); i < v.len; i++ {
				callDropGlue(v.dropFn, v.ptr+i*v.elemSize)
			}
		}
		rt.writeVec(args[0].U32(), vecRepr{})
		return nil, nil
	})

	register("vec_push", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32); err != nil {
			return nil, err
		}
		addr, elemRecord := args[0].U32(), args[1].U32()
		v := rt.readVec(addr)
		rt.ensureVecCapacity(&v, v.len+1)
		rt.Mem.Write(v.ptr+v.len*v.elemSize, rt.Mem.Read(elemRecord, v.elemSize))
		v.len++
		rt.writeVec(addr, v)
		return []Value{I32(StatusOK)}, nil
	})

	register("vec_pop", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32); err != nil {
			return nil, err
		}
		addr, out := args[0].U32(), args[1].U32()
		v := rt.readVec(addr)
		if v.len == 0 {
			return []Value{I32(StatusOutOfBounds)}, nil
		}
		v.len--
		rt.Mem.Write(out, rt.Mem.Read(v.ptr+v.len*v.elemSize, v.elemSize))
		rt.writeVec(addr, v)
		return []Value{I32(StatusOK)}, nil
	})

	register("vec_get", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32); err != nil {
			return nil, err
		}
		addr, idx := args[0].U32(), args[1].U32()
		v := rt.readVec(addr)
		if idx >= v.len {
			return []Value{I32(0)}, nil
		}
		return []Value{I32(int32(v.ptr + idx*v.elemSize))}, nil
	})

	register("vec_set", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32, KindI32); err != nil {
			return nil, err
		}
		addr, idx, elemRecord := args[0].U32(), args[1].U32(), args[2].U32()
		v := rt.readVec(addr)
		if idx >= v.len {
			return []Value{I32(StatusOutOfBounds)}, nil
		}
		rt.Mem.Write(v.ptr+idx*v.elemSize, rt.Mem.Read(elemRecord, v.elemSize))
		return []Value{I32(StatusOK)}, nil
	})

	register("vec_truncate", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32); err != nil {
			return nil, err
		}
		addr, n := args[0].U32(), args[1].U32()
		v := rt.readVec(addr)
		if n < v.len {
			v.len = n
		}
		rt.writeVec(addr, v)
		return nil, nil
	})

	register("vec_reserve", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32); err != nil {
			return nil, err
		}
		addr, additional := args[0].U32(), args[1].U32()
		v := rt.readVec(addr)
		rt.ensureVecCapacity(&v, v.len+additional)
		rt.writeVec(addr, v)
		return []Value{I32(StatusOK)}, nil
	})

	register("vec_into_array", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32); err != nil {
			return nil, err
		}
		v := rt.readVec(args[0].U32())
		return []Value{I32(int32(v.ptr))}, nil
	})

	register("array_into_vec", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32); err != nil {
			return nil, err
		}
		out, arrayPtr := args[0].U32(), args[1].U32()
		rt.writeVec(out, vecRepr{ptr: arrayPtr})
		return nil, nil
	})

	register("vec_copy_to_array", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32); err != nil {
			return nil, err
		}
		addr, dstArray := args[0].U32(), args[1].U32()
		v := rt.readVec(addr)
		if v.len > 0 {
			rt.Mem.Write(dstArray, rt.Mem.Read(v.ptr, v.len*v.elemSize))
		}
		return []Value{I32(StatusOK)}, nil
	})
}
