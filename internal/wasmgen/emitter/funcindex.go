package emitter

import "github.com/Chic-lang/Chic-sub011/internal/wasmgen/module"

// FuncIndex maps MIR function names (including synthesized async poll/drop
// shims) and chic_rt/env runtime hook names to their final wasm function
// index. The emitter needs these while lowering a single function body, but
// the numbering only exists once every function in the program is known, so
// the caller builds one FuncIndex up front and shares it across every
// EmitFunction call (see the top-level Compile wiring).
type FuncIndex struct {
	runtime map[string]uint32
	funcs   map[string]uint32
}

// NewFuncIndex numbers the full wasm function-index space in the exact
// order module.Build will later assign it: the standard chic_rt/env imports
// first, then externMIRNames (one per MIR extern function, in the order
// they'll appear in BuildInput.ExternImports), then functionNames (one per
// locally-defined or synthesized function, in BuildInput.Functions order).
func NewFuncIndex(externMIRNames []string, functionNames []string) *FuncIndex {
	fi := &FuncIndex{runtime: map[string]uint32{}, funcs: map[string]uint32{}}
	var idx uint32
	for _, ri := range module.StandardRuntimeImports() {
		fi.runtime[ri.Module+"."+ri.Name] = idx
		idx++
	}
	for _, name := range externMIRNames {
		fi.funcs[name] = idx
		idx++
	}
	for _, name := range functionNames {
		fi.funcs[name] = idx
		idx++
	}
	return fi
}

// RuntimeCall returns the function index of the named chic_rt hook.
func (fi *FuncIndex) RuntimeCall(name string) uint32 { return fi.runtime["chic_rt."+name] }

// Lookup returns the function index of a MIR-named function (extern,
// regular, or a synthesized poll/drop shim).
func (fi *FuncIndex) Lookup(name string) (uint32, bool) {
	idx, ok := fi.funcs[name]
	return idx, ok
}
