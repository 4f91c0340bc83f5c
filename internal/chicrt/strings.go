package chicrt

import (
	"fmt"
	"strconv"
	"unicode/utf8"
)

// Status codes returned by the fallible string operations (spec.md §4.6
// Strings).
const (
	StatusOK              int32 = 0
	StatusUTF8Error       int32 = 1
	StatusCapacityOverflow int32 = 2
	StatusAllocFailure    int32 = 3
	StatusInvalidPointer  int32 = 4
	StatusOutOfBounds     int32 = 5
)

// Every string repr is a 12-byte {len, cap, ptr} record. This backend keeps
// every string heap-backed rather than implementing the small-string inline
// optimisation the spec's SSO wording implies; behaviourally equivalent,
// documented as a simplification in DESIGN.md.
type stringRepr struct {
	len, cap, ptr uint32
}

func (rt *Runtime) readString(addr uint32) stringRepr {
	b := rt.Mem.Read(addr, 12)
	return stringRepr{len: getU32(b[0:4]), cap: getU32(b[4:8]), ptr: getU32(b[8:12])}
}

func (rt *Runtime) writeString(addr uint32, s stringRepr) {
	buf := make([]byte, 12)
	putU32(buf[0:4], s.len)
	putU32(buf[4:8], s.cap)
	putU32(buf[8:12], s.ptr)
	rt.Mem.Write(addr, buf)
}

func (rt *Runtime) ensureStringCapacity(s *stringRepr, needed uint32) {
	if s.cap >= needed {
		return
	}
	newCap := s.cap * 2
	if newCap < needed {
		newCap = needed
	}
	if newCap < 8 {
		newCap = 8
	}
	newPtr := rt.alloc.bump(newCap, 1)
	if s.len > 0 {
		rt.Mem.Write(newPtr, rt.Mem.Read(s.ptr, s.len))
	}
	s.ptr = newPtr
	s.cap = newCap
}

func (rt *Runtime) stringAppendBytes(addr uint32, data []byte) int32 {
	s := rt.readString(addr)
	rt.ensureStringCapacity(&s, s.len+uint32(len(data)))
	rt.Mem.Write(s.ptr+s.len, data)
	s.len += uint32(len(data))
	rt.writeString(addr, s)
	return StatusOK
}

func init() {
	register("string_new", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32); err != nil {
			return nil, err
		}
		rt.writeString(args[0].U32(), stringRepr{})
		return nil, nil
	})

	register("string_with_capacity", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32); err != nil {
			return nil, err
		}
		out, n := args[0].U32(), args[1].U32()
		s := stringRepr{}
		if n > 0 {
			s.ptr = rt.alloc.bump(n, 1)
			s.cap = n
		}
		rt.writeString(out, s)
		return nil, nil
	})

	register("string_from_slice", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32); err != nil {
			return nil, err
		}
		out, slicePtr := args[0].U32(), args[1].U32()
		dataPtr, length := readDataLen(rt, slicePtr)
		s := stringRepr{}
		if length > 0 {
			s.ptr = rt.alloc.bump(length, 1)
			s.cap = length
			s.len = length
			rt.Mem.Write(s.ptr, rt.Mem.Read(dataPtr, length))
		}
		rt.writeString(out, s)
		return nil, nil
	})

	register("string_from_char", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32); err != nil {
			return nil, err
		}
		out, cp := args[0].U32(), args[1].I32
		var buf [utf8.UTFMax]byte
		n := utf8.EncodeRune(buf[:], rune(cp))
		s := stringRepr{}
		if n > 0 {
			s.ptr = rt.alloc.bump(uint32(n), 1)
			s.cap = uint32(n)
			s.len = uint32(n)
			rt.Mem.Write(s.ptr, buf[:n])
		}
		rt.writeString(out, s)
		return nil, nil
	})

	appendSlice := func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32); err != nil {
			return nil, err
		}
		out, slicePtr := args[0].U32(), args[1].U32()
		dataPtr, length := readDataLen(rt, slicePtr)
		data := rt.Mem.Read(dataPtr, length)
		if !utf8.Valid(data) {
			return []Value{I32(StatusUTF8Error)}, nil
		}
		return []Value{I32(rt.stringAppendBytes(out, data))}, nil
	}
	register("string_push_slice", appendSlice)
	register("string_append_slice", appendSlice)

	register("string_append_bool", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32); err != nil {
			return nil, err
		}
		out, v := args[0].U32(), args[1].I32
		word := "false"
		if v != 0 {
			word = "true"
		}
		return []Value{I32(rt.stringAppendBytes(out, []byte(word)))}, nil
	})

	register("string_append_signed", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI64); err != nil {
			return nil, err
		}
		out, v := args[0].U32(), args[1].I64
		return []Value{I32(rt.stringAppendBytes(out, []byte(strconv.FormatInt(v, 10))))}, nil
	})

	register("string_append_unsigned", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI64); err != nil {
			return nil, err
		}
		out, v := args[0].U32(), uint64(args[1].I64)
		return []Value{I32(rt.stringAppendBytes(out, []byte(strconv.FormatUint(v, 10))))}, nil
	})

	register("string_append_f32", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindF32); err != nil {
			return nil, err
		}
		out, v := args[0].U32(), args[1].F32
		return []Value{I32(rt.stringAppendBytes(out, []byte(fmt.Sprintf("%g", v))))}, nil
	})

	register("string_append_f64", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindF64); err != nil {
			return nil, err
		}
		out, v := args[0].U32(), args[1].F64
		return []Value{I32(rt.stringAppendBytes(out, []byte(fmt.Sprintf("%g", v))))}, nil
	})

	register("string_truncate", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32); err != nil {
			return nil, err
		}
		out, n := args[0].U32(), args[1].U32()
		s := rt.readString(out)
		if n > s.len {
			return []Value{I32(StatusOutOfBounds)}, nil
		}
		s.len = n
		rt.writeString(out, s)
		return []Value{I32(StatusOK)}, nil
	})

	register("string_reserve", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32); err != nil {
			return nil, err
		}
		out, additional := args[0].U32(), args[1].U32()
		s := rt.readString(out)
		rt.ensureStringCapacity(&s, s.len+additional)
		rt.writeString(out, s)
		return []Value{I32(StatusOK)}, nil
	})

	register("string_as_slice", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32); err != nil {
			return nil, err
		}
		addr, sliceOut := args[0].U32(), args[1].U32()
		s := rt.readString(addr)
		writeDataLen(rt, sliceOut, s.ptr, s.len)
		return nil, nil
	})

	cloneFn := func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32); err != nil {
			return nil, err
		}
		out, src := args[0].U32(), args[1].U32()
		s := rt.readString(src)
		clone := stringRepr{len: s.len, cap: s.len}
		if s.len > 0 {
			clone.ptr = rt.alloc.bump(s.len, 1)
			rt.Mem.Write(clone.ptr, rt.Mem.Read(s.ptr, s.len))
		}
		rt.writeString(out, clone)
		return nil, nil
	}
	register("string_clone", cloneFn)
	register("string_clone_slice", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32); err != nil {
			return nil, err
		}
		out, slicePtr := args[0].U32(), args[1].U32()
		dataPtr, length := readDataLen(rt, slicePtr)
		s := stringRepr{}
		if length > 0 {
			s.ptr = rt.alloc.bump(length, 1)
			s.cap = length
			s.len = length
			rt.Mem.Write(s.ptr, rt.Mem.Read(dataPtr, length))
		}
		rt.writeString(out, s)
		return nil, nil
	})

	register("string_drop", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32); err != nil {
			return nil, err
		}
		s := rt.readString(args[0].U32())
		if s.ptr != 0 {
			rt.alloc.free(s.ptr)
		}
		rt.writeString(args[0].U32(), stringRepr{})
		return nil, nil
	})
}

// readDataLen/writeDataLen read and write the {data_ptr, len} pair shared by
// slice, span, and vec-borrow records throughout this package.
func readDataLen(rt *Runtime, addr uint32) (ptr, length uint32) {
	b := rt.Mem.Read(addr, 8)
	return getU32(b[0:4]), getU32(b[4:8])
}

func writeDataLen(rt *Runtime, addr uint32, ptr, length uint32) {
	buf := make([]byte, 8)
	putU32(buf[0:4], ptr)
	putU32(buf[4:8], length)
	rt.Mem.Write(addr, buf)
}
