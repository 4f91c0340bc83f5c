// Package api includes the types end-users and wasmgen itself share, kept
// deliberately small and free of any dependency on internal/* so callers can
// import it without pulling in the emitter/interpreter packages.
package api

import "github.com/Chic-lang/Chic-sub011/mir"

// Kind names the artefact kind a Compile call produces. It is the public
// mirror of mir.ChicKind, kept distinct so callers never need to import the
// mir package themselves (spec.md §6).
type Kind int

const (
	KindExecutable Kind = iota
	KindStaticLibrary
	KindDynamicLibrary
)

// ToMIR converts a Kind to the mir.ChicKind the lowering pipeline consumes.
func (k Kind) ToMIR() mir.ChicKind {
	switch k {
	case KindStaticLibrary:
		return mir.ChicStaticLibrary
	case KindDynamicLibrary:
		return mir.ChicDynamicLibrary
	default:
		return mir.ChicExecutable
	}
}

func (k Kind) String() string {
	switch k {
	case KindStaticLibrary:
		return "static_library"
	case KindDynamicLibrary:
		return "dynamic_library"
	default:
		return "executable"
	}
}

// Target names the compilation target. wasm32 is the only target this
// backend supports; the field exists so a future target doesn't require
// breaking the Options shape (mirrors tetratelabs-wazero's RuntimeConfig,
// which carries forward-looking fields the same way).
type Target int

const (
	TargetWasm32 Target = iota
)

func (t Target) String() string {
	switch t {
	case TargetWasm32:
		return "wasm32"
	default:
		return "unknown"
	}
}

// CompileResult is everything a successful Compile call hands back: the
// encoded wasm32 binary, its optional textual companion, and the
// diagnostics accumulated along the way (spec.md §4.3 "the core phase
// accumulates but does not fail fast").
type CompileResult struct {
	Binary []byte
	Text   string // "" unless Options.EmitText was set

	Diagnostics []Diagnostic
}

// Diagnostic is one accumulated async-lowering or borrow finding, reported
// rather than raised as an error (spec.md §7 "Lowering diagnostics").
type Diagnostic struct {
	Code     string
	Message  string
	Function string
}
