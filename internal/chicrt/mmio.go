package chicrt

// mmio_read/mmio_write model memory-mapped register access (spec.md §4.6
// MMIO) as ordinary linear-memory loads/stores at the given address, since
// this bridge has no real device backing any address range. widthBytes is
// 1, 2, 4, or 8.
func init() {
	register("mmio_read", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32, KindI32); err != nil {
			return nil, err
		}
		addr, width := args[0].U32(), args[1].U32()
		b := rt.Mem.Read(addr, width)
		var v uint64
		for i := uint32(0); i < width && i < 8; i++ {
			v |= uint64(b[i]) << (8 * i)
		}
		return []Value{I64(int64(v))}, nil
	})

	register("mmio_write", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI64, KindI32, KindI32); err != nil {
			return nil, err
		}
		addr, val, width := args[0].U32(), uint64(args[1].I64), args[2].U32()
		// args[3] carries an ordering/fence flag the single-threaded
		// interpreter has no use for.
		b := make([]byte, width)
		for i := uint32(0); i < width && i < 8; i++ {
			b[i] = byte(val >> (8 * i))
		}
		rt.Mem.Write(addr, b)
		return nil, nil
	})
}
