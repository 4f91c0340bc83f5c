// Package module defines the in-memory wasm32 module shape shared by the
// emitter/builder (producer) and the interpreter (consumer), mirroring the
// role tetratelabs-wazero's internal/wasm package plays for its own decoder
// and engines: one struct set, two directions of travel.
package module

import "github.com/Chic-lang/Chic-sub011/internal/wasmgen/binary"

// FuncType is a wasm function signature: a vector of parameter types and a
// vector of result types (wasm32 MVP allows at most one result).
type FuncType struct {
	Params  []binary.ValueType
	Results []binary.ValueType
}

// Equal reports whether two signatures are structurally identical, used by
// the builder to intern duplicate types into a single type-section entry.
func (f FuncType) Equal(o FuncType) bool {
	if len(f.Params) != len(o.Params) || len(f.Results) != len(o.Results) {
		return false
	}
	for i := range f.Params {
		if f.Params[i] != o.Params[i] {
			return false
		}
	}
	for i := range f.Results {
		if f.Results[i] != o.Results[i] {
			return false
		}
	}
	return true
}

// Import describes a single imported function, the only import kind this
// backend emits: every chic_rt hook crosses the module boundary as a
// function import (spec.md §4.6 "Runtime bridge").
type Import struct {
	Module    string
	Name      string
	TypeIndex uint32
}

// Global is a single mutable or immutable i32/i64 global with a constant
// initializer. Build emits exactly one: the mutable i32 stack-pointer
// global, initialised to StackBase.
type Global struct {
	Type    binary.ValueType
	Mutable bool
	Init    int64
}

// MemoryLimits carries the wasm32 memory section's min/max page counts.
type MemoryLimits struct {
	Min uint32
	Max uint32 // 0 means "no declared maximum"
	HasMax bool
}

// LocalGroup is a run-length-encoded group of locals sharing one type, the
// encoding the wasm code section requires for a function's local declarations.
type LocalGroup struct {
	Count uint32
	Type  binary.ValueType
}

// CodeEntry is one function body: its local declarations and the already
// wasm-opcode-encoded instruction stream (including the trailing end opcode).
type CodeEntry struct {
	Locals []LocalGroup
	Body   []byte
}

// ExportKind mirrors binary.ExternalKind for the export section.
type ExportKind = binary.ExternalKind

// Export names a function, memory, global, or table for the host/embedder.
type Export struct {
	Name  string
	Kind  ExportKind
	Index uint32
}

// ElementSegment is an active table segment populating function indices
// starting at Offset, used to back indirect calls (function pointers, vtable
// dispatch) emitted by the function emitter.
type ElementSegment struct {
	Offset      uint32
	FuncIndices []uint32
}

// CustomSection is an opaque, named, emitter-or-builder produced payload.
// spec.md §4.6 names five: chic.metadata, chic.hints, chic.iface.defaults,
// chx.alias.contracts, and the per-function async plan section.
type CustomSection struct {
	Name string
	Data []byte
}

// Module is the complete in-memory representation of one wasm32 module,
// built by Build and consumed directly by internal/interpreter, or
// serialized to bytes by Encode.
type Module struct {
	Types   []FuncType
	Imports []Import

	// FuncTypeIndices has one entry per non-imported function, indexing Types.
	// len(FuncTypeIndices) == len(Code).
	FuncTypeIndices []uint32
	Code            []CodeEntry

	Memory MemoryLimits

	// TableMin is the number of table elements (function references); 0 means
	// no table section is emitted.
	TableMin uint32
	Elements []ElementSegment

	Globals []Global
	Exports []Export
	Customs []CustomSection
}

// NumImportedFuncs returns how many of the module's function-index-space
// entries are imports, since imported functions are numbered before
// locally-defined ones in every index that touches funcidx.
func (m *Module) NumImportedFuncs() uint32 {
	var n uint32
	for _, imp := range m.Imports {
		_ = imp
		n++
	}
	return n
}

// FuncIndexOfLocal converts a zero-based index into Code/FuncTypeIndices into
// the module-wide function index space (imports numbered first).
func (m *Module) FuncIndexOfLocal(i int) uint32 {
	return m.NumImportedFuncs() + uint32(i)
}
