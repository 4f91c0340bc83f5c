// Package interpreter implements the wasm32 execution engine of spec.md
// §4.7: a value stack, a call stack with depth tracking, growable linear
// memory, a funcref table, and an import-dispatch boundary into
// internal/chicrt. It is grounded on tetratelabs-wazero's interpreter
// engine (internal/engine/interpreter): one compiled function body walked
// directly, rather than re-lowered into another IR, since this backend's
// instruction subset is exactly what internal/wasmgen/emitter produces.
package interpreter

import (
	"math"

	"github.com/pkg/errors"

	"github.com/Chic-lang/Chic-sub011/internal/chiclog"
	"github.com/Chic-lang/Chic-sub011/internal/chicrt"
	"github.com/Chic-lang/Chic-sub011/internal/wasmdebug"
	wbinary "github.com/Chic-lang/Chic-sub011/internal/wasmgen/binary"
	"github.com/Chic-lang/Chic-sub011/internal/wasmgen/module"
)

// Value is one wasm numeric argument or result crossing the embedder
// boundary; an alias of chicrt.Value so the same constructors (chicrt.I32,
// chicrt.I64, ...) work on both sides of the call.
type Value = chicrt.Value

// maxCallDepth bounds recursion the same way a real engine bounds its
// native call stack; exceeding it traps rather than overflowing Go's stack.
const maxCallDepth = 2048

// Interpreter holds one instantiated module: its memory, globals, table,
// and the chicrt.Runtime bridging import calls.
type Interpreter struct {
	mod       *module.Module
	mem       *linearMemory
	globals   []int64
	globalTys []wbinary.ValueType
	table     []uint32
	funcTypes []module.FuncType // indexed by the full function-index space
	rt        *chicrt.Runtime

	matches   map[uint32]*controlMatches // cached per local function index
	callDepth int

	// frames is the active call chain, innermost last, used to render a
	// wasmdebug stack trace on trap. Unlike callDepth it is popped only on
	// a successful return, so a panic or an error return leaves it intact
	// for Call to read before the next call resets it.
	frames []uint32

	opts ExecuteOptions
}

// ExecuteOptions configures one Call/CallWithOptions invocation beyond its
// name and arguments (spec.md §4.7 "Options include a coverage hook, an
// error hook, and optional async-result length/alignment hints").
type ExecuteOptions struct {
	// CoverageHook, if set, is invoked once per instruction decoded, keyed
	// by the executing function's wasm index and its byte offset within
	// that function's body.
	CoverageHook func(funcIdx uint32, pc int)

	// ErrorHook, if set, receives the error CallWithOptions returns, already
	// wrapped in the wasmdebug stack trace; errors.Unwrap on it yields the
	// raw trap/execution cause.
	ErrorHook func(err error)

	// AsyncResultLen/AsyncResultAlign accept a caller-supplied hint for an
	// awaited future's result shape. Unused by this implementation: nothing
	// in the interpreter or chic_rt reads an awaited future's result, so
	// there is nothing for a hint to affect. The fields exist to keep the options shape complete against spec.md
	// §4.7's contract.
	AsyncResultLen   uint32
	AsyncResultAlign uint32
}

// funcDisplayName names funcIdx for a stack trace: its export name if one
// exists, else chic_rt/env for imports, else a bare index.
func (i *Interpreter) funcDisplayName(funcIdx uint32) (modName, name string) {
	for _, ex := range i.mod.Exports {
		if ex.Kind == wbinary.ExternalKindFunc && ex.Index == funcIdx {
			return "wasm", ex.Name
		}
	}
	if funcIdx < i.numImportedFuncs() {
		imp := i.mod.Imports[funcIdx]
		return imp.Module, imp.Name
	}
	return "wasm", ""
}

const noTableEntry = ^uint32(0)

// New instantiates mod: allocates linear memory, seeds globals, builds the
// funcref table from its element segments, and wires a fresh chicrt.Runtime
// for import calls.
func New(mod *module.Module) (*Interpreter, error) {
	minPages := mod.Memory.Min
	maxPages := mod.Memory.Max
	if !mod.Memory.HasMax {
		maxPages = 0
	}
	mem := newLinearMemory(minPages, maxPages)

	i := &Interpreter{
		mod:     mod,
		mem:     mem,
		matches: map[uint32]*controlMatches{},
	}
	i.rt = chicrt.New(mem)
	chicrt.SetDropGlueCaller(i.callDropGlue)

	for _, g := range mod.Globals {
		i.globals = append(i.globals, g.Init)
		i.globalTys = append(i.globalTys, g.Type)
	}

	for _, imp := range mod.Imports {
		i.funcTypes = append(i.funcTypes, mod.Types[imp.TypeIndex])
	}
	for _, ti := range mod.FuncTypeIndices {
		i.funcTypes = append(i.funcTypes, mod.Types[ti])
	}

	if mod.TableMin > 0 {
		i.table = make([]uint32, mod.TableMin)
		for idx := range i.table {
			i.table[idx] = noTableEntry
		}
		for _, seg := range mod.Elements {
			for j, fi := range seg.FuncIndices {
				i.table[seg.Offset+uint32(j)] = fi
			}
		}
	}

	chiclog.Base().WithFields(map[string]interface{}{
		"functions": len(mod.Code),
		"imports":   len(mod.Imports),
		"memory":    minPages,
	}).Debug("interpreter: instantiated module")

	return i, nil
}

// callDropGlue lets internal/chicrt invoke user-defined drop glue (vec_drop,
// arc_drop) by wasm function index, something it has
// no other way to reach back into bytecode to do.
func (i *Interpreter) callDropGlue(fnIdx uint32, elemAddr uint32) {
	_, _ = i.call(fnIdx, []uint64{uint64(elemAddr)})
}

// numImportedFuncs is how many entries at the front of the function-index
// space are imports.
func (i *Interpreter) numImportedFuncs() uint32 { return uint32(len(i.mod.Imports)) }

// ExportedFuncIndex resolves an export name to its function index.
func (i *Interpreter) ExportedFuncIndex(name string) (uint32, error) {
	for _, ex := range i.mod.Exports {
		if ex.Kind == wbinary.ExternalKindFunc && ex.Name == name {
			return ex.Index, nil
		}
	}
	return 0, errors.Errorf("interpreter: no exported function named %q", name)
}

// Call invokes the exported function named name with args, converting
// between the typed Value boundary and the raw uint64 stack representation.
func (i *Interpreter) Call(name string, args ...Value) ([]Value, error) {
	return i.CallWithOptions(name, ExecuteOptions{}, args...)
}

// CallWithOptions is Call plus spec.md §4.7's coverage/error hooks.
func (i *Interpreter) CallWithOptions(name string, opts ExecuteOptions, args ...Value) (results []Value, err error) {
	idx, err := i.ExportedFuncIndex(name)
	if err != nil {
		return nil, err
	}
	ft := i.funcTypes[idx]
	if len(args) != len(ft.Params) {
		return nil, errors.Errorf("interpreter: %s wants %d arguments, got %d", name, len(ft.Params), len(args))
	}
	raw := make([]uint64, len(args))
	for j, a := range args {
		raw[j] = valueToRaw(a)
	}

	i.opts = opts
	i.frames = nil
	defer func() {
		if r := recover(); r != nil {
			te, ok := r.(trapError)
			if !ok {
				panic(r)
			}
			err = i.traceError(te.err)
		}
		if err != nil && opts.ErrorHook != nil {
			opts.ErrorHook(err)
		}
	}()

	rawResults, callErr := i.call(idx, raw)
	if callErr != nil {
		return nil, i.traceError(callErr)
	}
	for j, rv := range rawResults {
		results = append(results, rawToValue(rv, ft.Results[j]))
	}
	return results, nil
}

// traceError wraps cause with a wasmdebug stack trace built from the call
// chain still on i.frames (innermost last; walked in reverse so AddFrame
// receives the innermost frame first),
// then clears it so the next top-level Call starts clean.
func (i *Interpreter) traceError(cause error) error {
	b := wasmdebug.NewErrorBuilder()
	for j := len(i.frames) - 1; j >= 0; j-- {
		idx := i.frames[j]
		mod, name := i.funcDisplayName(idx)
		ft := i.funcTypes[idx]
		b.AddFrame(wasmdebug.FuncName(mod, name, idx), ft.Params, ft.Results)
	}
	i.frames = nil
	return b.FromRecovered(cause)
}

func valueToRaw(v Value) uint64 {
	switch v.Kind {
	case chicrt.KindI32:
		return uint64(uint32(v.I32))
	case chicrt.KindI64:
		return uint64(v.I64)
	case chicrt.KindF32:
		return uint64(math.Float32bits(v.F32))
	default:
		return math.Float64bits(v.F64)
	}
}

func rawToValue(raw uint64, ty wbinary.ValueType) Value {
	switch ty {
	case wbinary.ValueTypeI32:
		return chicrt.I32(int32(uint32(raw)))
	case wbinary.ValueTypeI64:
		return chicrt.I64(int64(raw))
	case wbinary.ValueTypeF32:
		return chicrt.F32v(math.Float32frombits(uint32(raw)))
	default:
		return chicrt.F64v(math.Float64frombits(raw))
	}
}

// call dispatches to either the chicrt bridge (imports) or a local function
// body, tracking recursion depth against maxCallDepth.
func (i *Interpreter) call(funcIdx uint32, args []uint64) ([]uint64, error) {
	i.callDepth++
	defer func() { i.callDepth-- }()
	if i.callDepth > maxCallDepth {
		panic(trapError{errors.New("interpreter: call stack exhausted")})
	}

	// Pushed here, popped only on the success path below: a trap or error
	// return leaves the chain intact so Call can render it as a trace.
	i.frames = append(i.frames, funcIdx)

	numImported := i.numImportedFuncs()
	ft := i.funcTypes[funcIdx]

	if funcIdx < numImported {
		imp := i.mod.Imports[funcIdx]
		chicArgs := make([]Value, len(args))
		for j, raw := range args {
			chicArgs[j] = rawToValue(raw, ft.Params[j])
		}
		results, err := i.rt.Call(imp.Name, chicArgs)
		if err != nil {
			return nil, err
		}
		raw := make([]uint64, len(results))
		for j, r := range results {
			raw[j] = valueToRaw(r)
		}
		i.frames = i.frames[:len(i.frames)-1]
		return raw, nil
	}

	local := funcIdx - numImported
	entry := i.mod.Code[local]

	locals := make([]uint64, len(ft.Params))
	copy(locals, args)
	for _, lg := range entry.Locals {
		for c := uint32(0); c < lg.Count; c++ {
			locals = append(locals, 0)
		}
	}

	m, ok := i.matches[funcIdx]
	if !ok {
		var err error
		m, err = scanControlFlow(entry.Body)
		if err != nil {
			return nil, err
		}
		i.matches[funcIdx] = m
	}

	results, err := i.run(funcIdx, entry.Body, m, locals, len(ft.Results))
	if err != nil {
		return nil, err
	}
	i.frames = i.frames[:len(i.frames)-1]
	return results, nil
}
