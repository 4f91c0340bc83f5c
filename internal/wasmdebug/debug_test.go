package wasmdebug

import (
	"errors"
	"testing"

	"github.com/Chic-lang/Chic-sub011/internal/testing/require"
	wbinary "github.com/Chic-lang/Chic-sub011/internal/wasmgen/binary"
)

func TestFuncName(t *testing.T) {
	tests := []struct {
		name, moduleName, funcName string
		funcIdx                    uint32
		expected                   string
	}{
		{name: "empty module", moduleName: "", funcName: "y", expected: ".y"},
		{name: "empty function", moduleName: "x", funcIdx: 255, expected: "x.$255"},
		{name: "no special characters", moduleName: "x", funcName: "y", expected: "x.y"},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, FuncName(tc.moduleName, tc.funcName, tc.funcIdx))
		})
	}
}

func TestSignature(t *testing.T) {
	i32, i64 := wbinary.ValueTypeI32, wbinary.ValueTypeI64
	tests := []struct {
		name                    string
		paramTypes, resultTypes []wbinary.ValueType
		expected                string
	}{
		{name: "v_v", expected: "x.y()"},
		{name: "i32_v", paramTypes: []wbinary.ValueType{i32}, expected: "x.y(i32)"},
		{name: "v_i64", resultTypes: []wbinary.ValueType{i64}, expected: "x.y() i64"},
		{name: "i32_i64i32", paramTypes: []wbinary.ValueType{i32}, resultTypes: []wbinary.ValueType{i64, i32}, expected: "x.y(i32) (i64,i32)"},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, signature("x.y", tc.paramTypes, tc.resultTypes))
		})
	}
}

func TestErrorBuilder(t *testing.T) {
	cause := errors.New("invalid argument")

	b := NewErrorBuilder()
	b.AddFrame("wasm.fn_b", []wbinary.ValueType{wbinary.ValueTypeI32}, nil)
	b.AddFrame("wasm.fn_a", nil, nil)
	wrapped := b.FromRecovered(cause)

	require.Equal(t, cause, errors.Unwrap(wrapped))
	require.Equal(t, "invalid argument\nwasm stack trace:\n\twasm.fn_b(i32)\n\twasm.fn_a()", wrapped.Error())
}
