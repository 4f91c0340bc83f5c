package chicrt

// allocator is a bump allocator over the interpreter's linear memory, with a
// Go-side side table recording each bumped block's size and alignment; free
// deletes a block's entry, while realloc and free take the block's pointer
// and size from the caller's {ptr, size, align} record. Reclaimed space is
// never reused (spec.md §4.6 "does not
// reclaim memory because the allocator is bump" — the same policy the spec
// states explicitly for arc_drop applies to the allocator as a whole).
type allocator struct {
	mem    Memory
	cursor uint32
	blocks map[uint32]blockMeta
}

type blockMeta struct {
	size, align uint32
}

// allocBase keeps the bump region well clear of the stack-pointer global's
// initial value (module.StackBase) and any per-function frames bump-grown
// downward from it; the heap instead grows upward from a fixed high-water
// mark reserved for it.
const allocBase = 1 << 21

func newAllocator(mem Memory) *allocator {
	return &allocator{mem: mem, cursor: allocBase, blocks: map[uint32]blockMeta{}}
}

func alignUp(v, align uint32) uint32 {
	if align <= 1 {
		return v
	}
	if r := v % align; r != 0 {
		return v + (align - r)
	}
	return v
}

func (a *allocator) ensureCapacity(end uint32) {
	for end > a.mem.Size() {
		if _, ok := a.mem.Grow(1); !ok {
			return
		}
	}
}

// bump reserves size bytes at align, growing memory as needed.
func (a *allocator) bump(size, align uint32) uint32 {
	ptr := alignUp(a.cursor, align)
	a.ensureCapacity(ptr + size)
	a.cursor = ptr + size
	a.blocks[ptr] = blockMeta{size: size, align: align}
	return ptr
}

func (a *allocator) free(ptr uint32) {
	delete(a.blocks, ptr)
}

func (a *allocator) sizeOf(ptr uint32) (uint32, bool) {
	b, ok := a.blocks[ptr]
	return b.size, ok
}

// writeRecord writes {ptr, size, align} at out, the shape every
// alloc/alloc_zeroed/realloc caller reads back (spec.md §4.6 Allocator).
func (rt *Runtime) writeRecord(out uint32, ptr, size, align uint32) {
	buf := make([]byte, 12)
	putU32(buf[0:4], ptr)
	putU32(buf[4:8], size)
	putU32(buf[8:12], align)
	rt.Mem.Write(out, buf)
}

func (rt *Runtime) readRecord(addr uint32) (ptr, size, align uint32) {
	b := rt.Mem.Read(addr, 12)
	return getU32(b[0:4]), getU32(b[4:8]), getU32(b[8:12])
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func init() {
	register("alloc", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32, KindI32); err != nil {
			return nil, err
		}
		out, size, align := args[0].U32(), args[1].U32(), args[2].U32()
		ptr := rt.alloc.bump(size, align)
		rt.writeRecord(out, ptr, size, align)
		return nil, nil
	})

	register("alloc_zeroed", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32, KindI32); err != nil {
			return nil, err
		}
		out, size, align := args[0].U32(), args[1].U32(), args[2].U32()
		ptr := rt.alloc.bump(size, align)
		rt.Mem.Write(ptr, make([]byte, size))
		rt.writeRecord(out, ptr, size, align)
		return nil, nil
	})

	register("realloc", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32, KindI32, KindI32); err != nil {
			return nil, err
		}
		out, oldRecord, newSize, align := args[0].U32(), args[1].U32(), args[2].U32(), args[3].U32()
		oldPtr, oldSize, oldAlign := rt.readRecord(oldRecord)
		if align == 0 {
			align = oldAlign
		}
		newPtr := rt.alloc.bump(newSize, align)
		n := oldSize
		if newSize < n {
			n = newSize
		}
		if n > 0 {
			rt.Mem.Write(newPtr, rt.Mem.Read(oldPtr, n))
		}
		rt.alloc.free(oldPtr)
		rt.writeRecord(out, newPtr, newSize, align)
		return nil, nil
	})

	register("free", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32); err != nil {
			return nil, err
		}
		ptr, _, _ := rt.readRecord(args[0].U32())
		rt.alloc.free(ptr)
		return nil, nil
	})

	register("memcpy", func(rt *Runtime, args []Value) ([]Value, error) {
		return rawCopy(rt, args, false)
	})
	register("memmove", func(rt *Runtime, args []Value) ([]Value, error) {
		return rawCopy(rt, args, false)
	})
	register("memset", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32, KindI32); err != nil {
			return nil, err
		}
		dst, val, n := args[0].U32(), byte(args[1].I32), args[2].U32()
		buf := make([]byte, n)
		for i := range buf {
			buf[i] = val
		}
		rt.Mem.Write(dst, buf)
		return []Value{I32(int32(dst))}, nil
	})

	register("chic_rt_memcpy", func(rt *Runtime, args []Value) ([]Value, error) {
		return recordCopy(rt, args)
	})
	register("chic_rt_memmove", func(rt *Runtime, args []Value) ([]Value, error) {
		return recordCopy(rt, args)
	})
	register("chic_rt_memset", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32); err != nil {
			return nil, err
		}
		record, val := args[0].U32(), byte(args[1].I32)
		ptr, size, _ := rt.readRecord(record)
		buf := make([]byte, size)
		for i := range buf {
			buf[i] = val
		}
		rt.Mem.Write(ptr, buf)
		return nil, nil
	})
}

func rawCopy(rt *Runtime, args []Value, _ bool) ([]Value, error) {
	if err := expect(args, KindI32, KindI32, KindI32); err != nil {
		return nil, err
	}
	dst, src, n := args[0].U32(), args[1].U32(), args[2].U32()
	if n > 0 {
		rt.Mem.Write(dst, rt.Mem.Read(src, n))
	}
	return []Value{I32(int32(dst))}, nil
}

func recordCopy(rt *Runtime, args []Value) ([]Value, error) {
	if err := expect(args, KindI32, KindI32, KindI32); err != nil {
		return nil, err
	}
	dstRecord, srcRecord, n := args[0].U32(), args[1].U32(), args[2].U32()
	dstPtr, _, _ := rt.readRecord(dstRecord)
	srcPtr, _, _ := rt.readRecord(srcRecord)
	if n > 0 {
		rt.Mem.Write(dstPtr, rt.Mem.Read(srcPtr, n))
	}
	return nil, nil
}
