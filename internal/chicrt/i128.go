package chicrt

import "math/big"

// i128 values are 16-byte little-endian records, read/written at a_ptr,
// b_ptr, out_ptr. Every op shares the fixed (out, a, b) call shape even
// where b (neg/not) or the wasm result (cmp/eq store their verdict into
// *out instead of returning it) go unused, per spec.md §4.6's description
// of a single entry point per operator.
func readI128(rt *Runtime, addr uint32, signed bool) *big.Int {
	b := rt.Mem.Read(addr, 16)
	le := make([]byte, 16)
	for i := 0; i < 16; i++ {
		le[i] = b[15-i]
	}
	n := new(big.Int).SetBytes(le)
	if signed && b[15]&0x80 != 0 {
		mod := new(big.Int).Lsh(big.NewInt(1), 128)
		n.Sub(n, mod)
	}
	return n
}

func writeI128(rt *Runtime, addr uint32, v *big.Int) {
	mod := new(big.Int).Lsh(big.NewInt(1), 128)
	u := new(big.Int).Mod(v, mod)
	be := u.FillBytes(make([]byte, 16))
	le := make([]byte, 16)
	for i := 0; i < 16; i++ {
		le[i] = be[15-i]
	}
	rt.Mem.Write(addr, le)
}

func writeI128Word(rt *Runtime, addr uint32, v int32) {
	b := make([]byte, 4)
	putU32(b, uint32(v))
	rt.Mem.Write(addr, b)
}

func init() {
	binOp := func(signed bool, fn func(a, b *big.Int) *big.Int) hostFunc {
		return func(rt *Runtime, args []Value) ([]Value, error) {
			if err := expect(args, KindI32, KindI32, KindI32); err != nil {
				return nil, err
			}
			out, aPtr, bPtr := args[0].U32(), args[1].U32(), args[2].U32()
			a, b := readI128(rt, aPtr, signed), readI128(rt, bPtr, signed)
			writeI128(rt, out, fn(a, b))
			return nil, nil
		}
	}
	unaryOp := func(signed bool, fn func(a *big.Int) *big.Int) hostFunc {
		return func(rt *Runtime, args []Value) ([]Value, error) {
			if err := expect(args, KindI32, KindI32, KindI32); err != nil {
				return nil, err
			}
			out, aPtr := args[0].U32(), args[1].U32()
			a := readI128(rt, aPtr, signed)
			writeI128(rt, out, fn(a))
			return nil, nil
		}
	}
	cmpOp := func(signed bool) hostFunc {
		return func(rt *Runtime, args []Value) ([]Value, error) {
			if err := expect(args, KindI32, KindI32, KindI32); err != nil {
				return nil, err
			}
			out, aPtr, bPtr := args[0].U32(), args[1].U32(), args[2].U32()
			a, b := readI128(rt, aPtr, signed), readI128(rt, bPtr, signed)
			writeI128Word(rt, out, int32(a.Cmp(b)))
			return nil, nil
		}
	}

	register("i128_add", binOp(true, func(a, b *big.Int) *big.Int { return new(big.Int).Add(a, b) }))
	register("i128_sub", binOp(true, func(a, b *big.Int) *big.Int { return new(big.Int).Sub(a, b) }))
	register("i128_mul", binOp(true, func(a, b *big.Int) *big.Int { return new(big.Int).Mul(a, b) }))
	register("i128_div", binOp(true, func(a, b *big.Int) *big.Int { return new(big.Int).Quo(a, b) }))
	register("i128_div_u", binOp(false, func(a, b *big.Int) *big.Int { return new(big.Int).Div(a, b) }))
	register("i128_rem", binOp(true, func(a, b *big.Int) *big.Int { return new(big.Int).Rem(a, b) }))
	register("i128_rem_u", binOp(false, func(a, b *big.Int) *big.Int { return new(big.Int).Mod(a, b) }))
	register("i128_cmp", cmpOp(true))
	register("i128_cmp_u", cmpOp(false))
	register("i128_eq", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32, KindI32); err != nil {
			return nil, err
		}
		out, aPtr, bPtr := args[0].U32(), args[1].U32(), args[2].U32()
		a, b := readI128(rt, aPtr, true), readI128(rt, bPtr, true)
		writeI128Word(rt, out, boolToI32(a.Cmp(b) == 0))
		return nil, nil
	})
	register("i128_neg", unaryOp(true, func(a *big.Int) *big.Int { return new(big.Int).Neg(a) }))
	register("i128_not", unaryOp(true, func(a *big.Int) *big.Int { return new(big.Int).Not(a) }))
	register("i128_and", binOp(true, func(a, b *big.Int) *big.Int { return new(big.Int).And(a, b) }))
	register("i128_or", binOp(true, func(a, b *big.Int) *big.Int { return new(big.Int).Or(a, b) }))
	register("i128_xor", binOp(true, func(a, b *big.Int) *big.Int { return new(big.Int).Xor(a, b) }))
	register("i128_shl", binOp(true, func(a, b *big.Int) *big.Int { return new(big.Int).Lsh(a, uint(b.Uint64()&127)) }))
	register("i128_shl_u", binOp(false, func(a, b *big.Int) *big.Int { return new(big.Int).Lsh(a, uint(b.Uint64()&127)) }))
	register("i128_shr", binOp(true, func(a, b *big.Int) *big.Int { return new(big.Int).Rsh(a, uint(b.Uint64()&127)) }))
	register("i128_shr_u", binOp(false, func(a, b *big.Int) *big.Int { return new(big.Int).Rsh(a, uint(b.Uint64()&127)) }))
}
