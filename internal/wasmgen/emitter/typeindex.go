package emitter

import (
	"fmt"

	"github.com/Chic-lang/Chic-sub011/internal/wasmgen/module"
)

// TypeIndex numbers wasm function types in exactly the order
// module.canonicalizeSignatures will later assign them: standard runtime
// imports first, then extern MIR imports, then each function's own
// signature, deduplicated by (params, results) shape. It exists because
// call_indirect needs a type index baked into the bytecode at emission
// time, before module.Build has run.
type TypeIndex struct {
	index map[string]uint32
}

func typeKey(ft module.FuncType) string {
	return fmt.Sprintf("%v->%v", ft.Params, ft.Results)
}

// NewTypeIndex mirrors module.Build's canonicalizeSignatures ordering:
// externImports and functionSigs must be passed in the exact order they'll
// appear in BuildInput.ExternImports and BuildInput.Functions.
func NewTypeIndex(externImports []module.RuntimeImport, functionSigs []module.FuncType) *TypeIndex {
	ti := &TypeIndex{index: map[string]uint32{}}
	var n uint32
	intern := func(ft module.FuncType) {
		k := typeKey(ft)
		if _, ok := ti.index[k]; ok {
			return
		}
		ti.index[k] = n
		n++
	}
	for _, ri := range module.StandardRuntimeImports() {
		intern(module.FuncType{Params: ri.Params, Results: ri.Results})
	}
	for _, ri := range externImports {
		intern(module.FuncType{Params: ri.Params, Results: ri.Results})
	}
	for _, ft := range functionSigs {
		intern(ft)
	}
	return ti
}

// Lookup returns the canonical type index for ft, if any function or
// import in the program has that exact shape.
func (ti *TypeIndex) Lookup(ft module.FuncType) (uint32, bool) {
	idx, ok := ti.index[typeKey(ft)]
	return idx, ok
}
