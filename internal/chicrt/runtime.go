// Package chicrt implements the chic_rt/env runtime bridge of spec.md §4.6:
// the single largest subsystem, invoked from the interpreter's call-dispatch
// loop with a slice of wasm values per import call. It is grounded on
// tetratelabs-wazero's internal/wasm/host.go (a Go function registered
// against a wasm import signature, dispatched by name) for the calling
// convention, generalised here to validate arity/kind itself rather than
// relying on reflection, since every chic_rt signature is already fixed and
// known (module.StandardRuntimeImports).
package chicrt

import (
	"github.com/pkg/errors"
)

// ValueKind tags a Value's payload, mirroring the four wasm numeric types.
type ValueKind int

const (
	KindI32 ValueKind = iota
	KindI64
	KindF32
	KindF64
)

// Value is one wasm numeric value, passed to and returned from every
// chic_rt/env host function.
type Value struct {
	Kind ValueKind
	I32  int32
	I64  int64
	F32  float32
	F64  float64
}

func I32(v int32) Value  { return Value{Kind: KindI32, I32: v} }
func I64(v int64) Value  { return Value{Kind: KindI64, I64: v} }
func F32v(v float32) Value { return Value{Kind: KindF32, F32: v} }
func F64v(v float64) Value { return Value{Kind: KindF64, F64: v} }

// U32 reinterprets an i32 Value's bit pattern as unsigned, the convention
// used throughout this package for pointers, lengths, and flags.
func (v Value) U32() uint32 { return uint32(v.I32) }

// Memory is the linear-memory surface the runtime bridge reads and writes.
// The interpreter implements this directly over its byte-slice-backed
// memory; tests can supply a simple in-process fake.
type Memory interface {
	Read(ptr uint32, n uint32) []byte
	Write(ptr uint32, data []byte)
	Size() uint32          // current size in bytes
	Grow(deltaPages uint32) (previousPages uint32, ok bool)
}

// ErrArity/ErrKind are wrapped with the expected/actual count or the
// argument index by expect.
var (
	ErrArity = errors.New("chic_rt: wrong argument count")
	ErrKind  = errors.New("chic_rt: wrong argument kind")
)

func expect(args []Value, kinds ...ValueKind) error {
	if len(args) != len(kinds) {
		return errors.Wrapf(ErrArity, "want %d got %d", len(kinds), len(args))
	}
	for i, k := range kinds {
		if args[i].Kind != k {
			return errors.Wrapf(ErrKind, "argument %d", i)
		}
	}
	return nil
}

// Runtime holds every piece of bridge-side state that outlives a single
// call: the allocator's bookkeeping, the arc/borrow/async/exception/type
// tables. One Runtime serves one interpreter execution.
type Runtime struct {
	Mem Memory

	alloc      *allocator
	borrows    *borrowTracker
	scheduler  *asyncScheduler
	exception  exceptionSlot
	typeTable  map[int32]typeMeta
	asyncToken map[int32]*tokenState
	nextToken  int32

	hostOut []byte // captured env.write output, for tests and CLI tooling
}

// New constructs a Runtime over mem with empty bookkeeping state.
func New(mem Memory) *Runtime {
	return &Runtime{
		Mem:        mem,
		alloc:      newAllocator(mem),
		borrows:    newBorrowTracker(),
		scheduler:  newAsyncScheduler(),
		typeTable:  map[int32]typeMeta{},
		asyncToken: map[int32]*tokenState{},
	}
}

// hostFunc is the dispatch signature every bridge entry point implements.
type hostFunc func(rt *Runtime, args []Value) ([]Value, error)

// table is one map that each themed file fills through register from its
// init, so each file declares its own names without a central giant switch.
var table map[string]hostFunc

func register(name string, fn hostFunc) {
	if table == nil {
		table = map[string]hostFunc{}
	}
	table[name] = fn
}

// Call dispatches one chic_rt.<name> or env.<name> import by its bare name
// (without the module prefix — the interpreter already knows which module
// an import index belongs to).
func (rt *Runtime) Call(name string, args []Value) ([]Value, error) {
	fn, ok := table[name]
	if !ok {
		return nil, errors.Errorf("chic_rt: unknown host function %q", name)
	}
	return fn(rt, args)
}
