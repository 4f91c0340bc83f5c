// Package wasmdebug formats wasm-level diagnostics: a function's
// qualified name, its signature, and a stack trace assembled from nested
// call frames, grounded on tetratelabs-wazero's internal/wasmdebug
// package (only its test file survived retrieval; FuncName/signature/
// ErrorBuilder are reconstructed here to match debug_test.go's documented
// input/output table exactly).
package wasmdebug

import (
	"fmt"
	"strings"

	wbinary "github.com/Chic-lang/Chic-sub011/internal/wasmgen/binary"
)

// FuncName renders "<module>.<function>", falling back to "$<index>" when
// funcName is empty (an unnamed or stripped function).
func FuncName(moduleName, funcName string, funcIdx uint32) string {
	if funcName == "" {
		funcName = fmt.Sprintf("$%d", funcIdx)
	}
	return moduleName + "." + funcName
}

func valueTypeName(v wbinary.ValueType) string {
	switch v {
	case wbinary.ValueTypeI32:
		return "i32"
	case wbinary.ValueTypeI64:
		return "i64"
	case wbinary.ValueTypeF32:
		return "f32"
	default:
		return "f64"
	}
}

func joinTypes(types []wbinary.ValueType) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = valueTypeName(t)
	}
	return strings.Join(names, ",")
}

// signature renders "<name>(<params>) <results>", matching wazero's
// wasmdebug stack-trace line format: a single result prints bare, multiple
// results are parenthesized, zero results print nothing after "()".
func signature(name string, paramTypes, resultTypes []wbinary.ValueType) string {
	s := name + "(" + joinTypes(paramTypes) + ")"
	switch len(resultTypes) {
	case 0:
		return s
	case 1:
		return s + " " + valueTypeName(resultTypes[0])
	default:
		return s + " (" + joinTypes(resultTypes) + ")"
	}
}

// frame is one call-stack entry, innermost first.
type frame struct {
	line string
}

// ErrorBuilder accumulates call frames (innermost added first, the way a
// trap unwinds) and renders them into one wrapped error.
type ErrorBuilder interface {
	AddFrame(funcName string, paramTypes, resultTypes []wbinary.ValueType)
	FromRecovered(recovered error) error
}

type errorBuilder struct {
	frames []frame
}

// NewErrorBuilder returns an empty ErrorBuilder.
func NewErrorBuilder() ErrorBuilder { return &errorBuilder{} }

func (b *errorBuilder) AddFrame(funcName string, paramTypes, resultTypes []wbinary.ValueType) {
	b.frames = append(b.frames, frame{line: signature(funcName, paramTypes, resultTypes)})
}

// FromRecovered wraps recovered into a traceError carrying the accumulated
// stack trace, unwrapping back to recovered via errors.Unwrap.
func (b *errorBuilder) FromRecovered(recovered error) error {
	lines := make([]string, len(b.frames))
	for i, f := range b.frames {
		lines[i] = "\t" + f.line
	}
	return &traceError{
		cause: recovered,
		trace: strings.Join(lines, "\n"),
	}
}

type traceError struct {
	cause error
	trace string
}

func (e *traceError) Error() string {
	if e.trace == "" {
		return e.cause.Error()
	}
	return e.cause.Error() + "\nwasm stack trace:\n" + e.trace
}

func (e *traceError) Unwrap() error { return e.cause }
