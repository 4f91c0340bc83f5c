package chicrt

// spanRepr is the {data_ptr, len, elem_size, elem_align} record spec.md
// §4.6 Spans describes.
type spanRepr struct {
	dataPtr, length, elemSize, elemAlign uint32
}

// dangling is the sentinel pointer a zero-length or zero-elem-size span
// reports instead of a real address.
const dangling uint32 = 1

func (rt *Runtime) readSpan(addr uint32) spanRepr {
	b := rt.Mem.Read(addr, 16)
	return spanRepr{getU32(b[0:4]), getU32(b[4:8]), getU32(b[8:12]), getU32(b[12:16])}
}

func (rt *Runtime) writeSpan(addr uint32, s spanRepr) {
	buf := make([]byte, 16)
	putU32(buf[0:4], s.dataPtr)
	putU32(buf[4:8], s.length)
	putU32(buf[8:12], s.elemSize)
	putU32(buf[12:16], s.elemAlign)
	rt.Mem.Write(addr, buf)
}

func init() {
	buildFromRaw := func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32, KindI32, KindI32, KindI32); err != nil {
			return nil, err
		}
		out, valuePtrRecord, length, elemSize, elemAlign := args[0].U32(), args[1].U32(), args[2].U32(), args[3].U32(), args[4].U32()
		ptr, _, _ := rt.readRecord(valuePtrRecord)
		s := spanRepr{dataPtr: ptr, length: length, elemSize: elemSize, elemAlign: elemAlign}
		if length == 0 || elemSize == 0 {
			s.dataPtr = dangling
		}
		rt.writeSpan(out, s)
		return nil, nil
	}
	register("span_from_raw_const", buildFromRaw)
	register("span_from_raw_mut", buildFromRaw)

	sliceFn := func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32, KindI32, KindI32); err != nil {
			return nil, err
		}
		out, src, start, end := args[0].U32(), args[1].U32(), args[2].U32(), args[3].U32()
		s := rt.readSpan(src)
		if start > end || end > s.length {
			rt.writeSpan(out, spanRepr{dataPtr: dangling, elemSize: s.elemSize, elemAlign: s.elemAlign})
			return nil, nil
		}
		newLen := end - start
		out2 := spanRepr{length: newLen, elemSize: s.elemSize, elemAlign: s.elemAlign}
		if newLen == 0 || s.elemSize == 0 {
			out2.dataPtr = dangling
		} else {
			out2.dataPtr = s.dataPtr + start*s.elemSize
		}
		rt.writeSpan(out, out2)
		return nil, nil
	}
	register("span_slice_const", sliceFn)
	register("span_slice_mut", sliceFn)

	ptrAt := func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32); err != nil {
			return nil, err
		}
		addr, idx := args[0].U32(), args[1].U32()
		s := rt.readSpan(addr)
		if idx >= s.length || s.elemSize == 0 {
			return []Value{I32(0)}, nil
		}
		return []Value{I32(int32(s.dataPtr + idx*s.elemSize))}, nil
	}
	register("span_ptr_at_const", ptrAt)
	register("span_ptr_at_mut", ptrAt)

	register("span_copy_to", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32); err != nil {
			return nil, err
		}
		dstAddr, srcAddr := args[0].U32(), args[1].U32()
		dst := rt.readSpan(dstAddr)
		src := rt.readSpan(srcAddr)
		if dst.elemSize != src.elemSize || dst.length != src.length {
			return []Value{I32(StatusOutOfBounds)}, nil
		}
		n := src.length * src.elemSize
		if n > 0 {
			rt.Mem.Write(dst.dataPtr, rt.Mem.Read(src.dataPtr, n))
		}
		return []Value{I32(StatusOK)}, nil
	})
}
