package interpreter_test

import (
	"testing"

	"github.com/Chic-lang/Chic-sub011/internal/chicrt"
	"github.com/Chic-lang/Chic-sub011/internal/interpreter"
	"github.com/Chic-lang/Chic-sub011/internal/leb128"
	"github.com/Chic-lang/Chic-sub011/internal/testing/require"
	wbinary "github.com/Chic-lang/Chic-sub011/internal/wasmgen/binary"
	"github.com/Chic-lang/Chic-sub011/internal/wasmgen/module"
)

func op(b *[]byte, o wbinary.Opcode) { *b = append(*b, byte(o)) }
func u32(b *[]byte, v uint32)        { *b = append(*b, leb128.EncodeUint32(v)...) }
func i32c(b *[]byte, v int32)        { *b = append(*b, leb128.EncodeInt32(v)...) }

func TestAddExportedFunction(t *testing.T) {
	var body []byte
	op(&body, wbinary.OpLocalGet)
	u32(&body, 0)
	op(&body, wbinary.OpLocalGet)
	u32(&body, 1)
	op(&body, wbinary.OpI32Add)
	op(&body, wbinary.OpEnd)

	mod := &module.Module{
		Types: []module.FuncType{
			{Params: []wbinary.ValueType{wbinary.ValueTypeI32, wbinary.ValueTypeI32}, Results: []wbinary.ValueType{wbinary.ValueTypeI32}},
		},
		FuncTypeIndices: []uint32{0},
		Code:            []module.CodeEntry{{Body: body}},
		Memory:          module.MemoryLimits{Min: 1},
		Exports:         []module.Export{{Name: "add", Kind: wbinary.ExternalKindFunc, Index: 0}},
	}

	interp, err := interpreter.New(mod)
	require.NoError(t, err)

	results, err := interp.Call("add", chicrt.I32(3), chicrt.I32(4))
	require.NoError(t, err)
	require.Equal(t, 1, len(results))
	require.Equal(t, int32(7), results[0].I32)
}

func TestIfElseWritesResultLocal(t *testing.T) {
	// abs(x): locals = [x, result]; branches through if/else into the
	// result local, then falls off the end reading it back.
	var body []byte
	op(&body, wbinary.OpLocalGet)
	u32(&body, 0)
	op(&body, wbinary.OpI32Const)
	i32c(&body, 0)
	op(&body, wbinary.OpI32LtS)
	op(&body, wbinary.OpIf)
	body = append(body, wbinary.BlockTypeEmpty)
	op(&body, wbinary.OpLocalGet)
	u32(&body, 0)
	op(&body, wbinary.OpI32Const)
	i32c(&body, -1)
	op(&body, wbinary.OpI32Mul)
	op(&body, wbinary.OpLocalSet)
	u32(&body, 1)
	op(&body, wbinary.OpElse)
	op(&body, wbinary.OpLocalGet)
	u32(&body, 0)
	op(&body, wbinary.OpLocalSet)
	u32(&body, 1)
	op(&body, wbinary.OpEnd)
	op(&body, wbinary.OpLocalGet)
	u32(&body, 1)
	op(&body, wbinary.OpEnd)

	mod := &module.Module{
		Types: []module.FuncType{
			{Params: []wbinary.ValueType{wbinary.ValueTypeI32}, Results: []wbinary.ValueType{wbinary.ValueTypeI32}},
		},
		FuncTypeIndices: []uint32{0},
		Code: []module.CodeEntry{{
			Locals: []module.LocalGroup{{Count: 1, Type: wbinary.ValueTypeI32}},
			Body:   body,
		}},
		Memory:  module.MemoryLimits{Min: 1},
		Exports: []module.Export{{Name: "abs", Kind: wbinary.ExternalKindFunc, Index: 0}},
	}

	interp, err := interpreter.New(mod)
	require.NoError(t, err)

	results, err := interp.Call("abs", chicrt.I32(-5))
	require.NoError(t, err)
	require.Equal(t, int32(5), results[0].I32)

	results, err = interp.Call("abs", chicrt.I32(5))
	require.NoError(t, err)
	require.Equal(t, int32(5), results[0].I32)
}

func TestCallIndirectTypeMismatchTraps(t *testing.T) {
	var retI32 []byte
	op(&retI32, wbinary.OpI32Const)
	i32c(&retI32, 1)
	op(&retI32, wbinary.OpEnd)

	var caller []byte
	op(&caller, wbinary.OpI32Const) // table index
	i32c(&caller, 0)
	op(&caller, wbinary.OpCallIndirect)
	u32(&caller, 1) // expects type index 1 (the i64-returning signature)
	u32(&caller, 0) // table index immediate, always 0
	op(&caller, wbinary.OpEnd)

	mod := &module.Module{
		Types: []module.FuncType{
			{Results: []wbinary.ValueType{wbinary.ValueTypeI32}},
			{Results: []wbinary.ValueType{wbinary.ValueTypeI64}},
		},
		FuncTypeIndices: []uint32{0, 0},
		Code: []module.CodeEntry{
			{Body: retI32},
			{Body: caller},
		},
		Memory:   module.MemoryLimits{Min: 1},
		TableMin: 1,
		Elements: []module.ElementSegment{{Offset: 0, FuncIndices: []uint32{0}}},
		Exports:  []module.Export{{Name: "caller", Kind: wbinary.ExternalKindFunc, Index: 1}},
	}

	interp, err := interpreter.New(mod)
	require.NoError(t, err)

	_, err = interp.Call("caller")
	require.Error(t, err)
}
