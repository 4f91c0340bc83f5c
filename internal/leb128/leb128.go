// Package leb128 implements the LEB128 variable-length integer encoding used
// throughout the wasm binary format (module builder section lengths,
// instruction immediates, custom-section payload fields — spec.md §6).
package leb128

import (
	"bytes"
	"io"
	"math/bits"

	"github.com/pkg/errors"
)

// EncodeUint32 encodes v as an unsigned LEB128 byte sequence.
func EncodeUint32(v uint32) []byte { return EncodeUint64(uint64(v)) }

// EncodeUint64 encodes v as an unsigned LEB128 byte sequence.
func EncodeUint64(v uint64) []byte {
	out := make([]byte, 0, 10)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			break
		}
	}
	return out
}

// EncodeInt32 encodes v as a signed LEB128 byte sequence.
func EncodeInt32(v int32) []byte { return EncodeInt64(int64(v)) }

// EncodeInt64 encodes v as a signed LEB128 byte sequence.
func EncodeInt64(v int64) []byte {
	out := make([]byte, 0, 10)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		done := (v == 0 && !signBitSet) || (v == -1 && signBitSet)
		if !done {
			b |= 0x80
		}
		out = append(out, b)
		if done {
			break
		}
	}
	return out
}

// LoadUint32 decodes an unsigned LEB128 value from the front of buf,
// returning the value, the number of bytes consumed, and an error if the
// encoding overflows 32 bits or is truncated.
func LoadUint32(buf []byte) (uint32, uint64, error) {
	v, n, err := LoadUint64(buf)
	if err != nil {
		return 0, n, err
	}
	if v > 0xFFFFFFFF {
		return 0, n, errors.New("leb128: value overflows uint32")
	}
	// A 5-byte encoding can carry bits beyond 32; the wasm spec requires the
	// unused high bits of the final byte be zero.
	if n == 5 && buf[4]&0xF0 != 0 {
		return 0, n, errors.New("leb128: unused high bits must be zero")
	}
	return uint32(v), n, nil
}

// LoadUint64 decodes an unsigned LEB128 value from the front of buf.
func LoadUint64(buf []byte) (uint64, uint64, error) {
	var result uint64
	var shift uint
	var i int
	for {
		if i >= len(buf) {
			return 0, 0, errors.New("leb128: unexpected end of buffer")
		}
		b := buf[i]
		i++
		if shift >= 64 {
			return 0, 0, errors.New("leb128: too many bytes")
		}
		chunk := uint64(b & 0x7f)
		if shift == 63 && chunk > 1 {
			return 0, 0, errors.New("leb128: value overflows uint64")
		}
		result |= chunk << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	return result, uint64(i), nil
}

// LoadInt32 decodes a signed LEB128 value from the front of buf.
func LoadInt32(buf []byte) (int32, uint64, error) {
	v, n, err := decodeSigned(buf, 32)
	if err != nil {
		return 0, n, err
	}
	return int32(v), n, nil
}

// LoadInt64 decodes a signed LEB128 value from the front of buf.
func LoadInt64(buf []byte) (int64, uint64, error) {
	return decodeSigned(buf, 64)
}

func decodeSigned(buf []byte, width int) (int64, uint64, error) {
	var result int64
	var shift uint
	var i int
	var b byte
	for {
		if i >= len(buf) {
			return 0, 0, errors.New("leb128: unexpected end of buffer")
		}
		b = buf[i]
		i++
		if int(shift) >= bits.UintSize*8 {
			return 0, 0, errors.New("leb128: too many bytes")
		}
		chunk := int64(b & 0x7f)
		result |= chunk << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	if shift < uint(width) && b&0x40 != 0 {
		result |= -1 << shift
	}
	if width < 64 {
		hi := result >> uint(width-1)
		if hi != 0 && hi != -1 {
			return 0, 0, errors.New("leb128: value overflows target width")
		}
	}
	return result, uint64(i), nil
}

// DecodeInt33AsInt64 decodes a 33-bit signed LEB128 value (as used by wasm
// block types) from r, widened to int64.
func DecodeInt33AsInt64(r *bytes.Reader) (int64, uint64, error) {
	var result int64
	var shift uint
	var i uint64
	var b byte
	for {
		next, err := r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return 0, i, errors.New("leb128: unexpected end of reader")
			}
			return 0, i, err
		}
		b = next
		i++
		chunk := int64(b & 0x7f)
		result |= chunk << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	if shift < 33 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, i, nil
}
