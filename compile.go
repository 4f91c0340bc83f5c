// Package wasmgen is the public entry point of the backend: Compile takes a
// fully type-checked mir.Module and runs the whole borrow/async/layout/
// emit/build pipeline described by spec.md §4, handing back an
// api.CompileResult. Its shape (a plain Options struct passed by value, a
// single Compile function, no builder chaining) mirrors
// tetratelabs-wazero's RuntimeConfig/CompiledModule pattern rather than a
// fluent builder, since this backend has no incremental compilation step to
// amortize.
package wasmgen

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/Chic-lang/Chic-sub011/api"
	"github.com/Chic-lang/Chic-sub011/internal/asyncir"
	"github.com/Chic-lang/Chic-sub011/internal/borrow"
	"github.com/Chic-lang/Chic-sub011/internal/chiclog"
	"github.com/Chic-lang/Chic-sub011/internal/layout"
	"github.com/Chic-lang/Chic-sub011/internal/wasmgen/binary"
	"github.com/Chic-lang/Chic-sub011/internal/wasmgen/emitter"
	"github.com/Chic-lang/Chic-sub011/internal/wasmgen/module"
	"github.com/Chic-lang/Chic-sub011/mir"
)

// Options configures one Compile call (spec.md §2 "Configuration"). Kind is
// authoritative over mod.Kind: the same MIR module can be requested as an
// executable or a library depending on how the caller invokes Compile, the
// way a single wazero-compiled module can be instantiated under different
// RuntimeConfig settings.
type Options struct {
	Target api.Target
	Kind   api.Kind
	NoMain bool

	// EmitText additionally renders the minimal `.wat`-style companion
	// spec.md §4.5 describes (module.RenderText); left empty otherwise.
	EmitText bool

	// TypeLayouts seeds the layout table with struct/class/enum/union
	// layouts an earlier compiler phase already resolved; the wasm backend
	// never derives these itself (spec.md §4.1 "given a type and the
	// layout table").
	TypeLayouts map[string]*layout.TypeLayout

	// DefaultFramePolicy applies to an async function whose own
	// mir.FramePolicy is the zero value (FramePolicyNone), e.g. one
	// implicitly promoted rather than user-annotated. Generator functions
	// do not receive it.
	DefaultFramePolicy mir.FramePolicy

	LinearMemoryMinPages uint32
}

// findEntryFunction implements spec.md §9 invariant 9: the shallowest `Main`
// declaration wins; ties break by earliest module order.
func findEntryFunction(mod *mir.Module) *mir.Function {
	var best *mir.Function
	bestDepth := -1
	for _, fn := range mod.Functions {
		segs := strings.Split(fn.Name, "::")
		if segs[len(segs)-1] != "Main" {
			continue
		}
		depth := len(segs) - 1
		if best == nil || depth < bestDepth {
			best, bestDepth = fn, depth
		}
	}
	return best
}

// isAsync reports whether fn carries an attached async or generator state
// machine, i.e. it needs poll/drop/entry synthesis rather than a single
// EmitFunction call.
func isAsync(fn *mir.Function) bool {
	return fn.Body != nil && (fn.Body.Async != nil || fn.Body.Generator != nil)
}

func framePolicyOf(fn *mir.Function) mir.FramePolicy {
	if fn.Body.Async != nil {
		return fn.Body.Async.Policy
	}
	return mir.FramePolicy{}
}

// asyncEntrySig computes the wasm32 FuncType of an async/generator
// function's own entry point: its argument mapping is identical to an
// ordinary function's (SignatureToFuncType's Params rule), but it always
// returns a single i32 frame-pointer handle rather than its own Sig.Return,
// matching what EmitAsyncEntry actually emits.
func asyncEntrySig(fn *mir.Function, res *layout.Resolver) module.FuncType {
	return module.FuncType{
		Params:  emitter.SignatureToFuncType(fn.Sig, res).Params,
		Results: []binary.ValueType{binary.ValueTypeI32},
	}
}

// Compile runs spec.md §4's full pipeline: per-function borrow analysis,
// async/generator frame-layout registration and policy checking, wasm32
// emission, and final module assembly. It does not fail fast on borrow or
// async-policy diagnostics (spec.md §4.3 "the core phase accumulates but
// does not fail fast") but does fail on the first emission or build error,
// since those indicate a MIR shape the backend cannot lower at all rather
// than a finding to report back to the caller.
func Compile(mod *mir.Module, opts Options) (*api.CompileResult, error) {
	table := layout.New(opts.TypeLayouts)
	res := layout.NewResolver(table)

	result := &api.CompileResult{}

	ba := borrow.New()
	for _, fn := range mod.Functions {
		if fn.IsExtern() || fn.Body == nil {
			continue
		}
		for _, d := range ba.Analyze(fn) {
			result.Diagnostics = append(result.Diagnostics, api.Diagnostic{Code: d.Code, Message: d.Message, Function: fn.Name})
		}
	}

	// Async frame layouts must all be registered before any function body
	// is emitted, since a caller can await a future whose frame type is
	// only defined by a later function in module order.
	plans := map[string]*asyncir.Plan{}
	artifacts := map[string]asyncir.Artifact{}
	for _, fn := range mod.Functions {
		if !isAsync(fn) {
			continue
		}
		implicit := framePolicyOf(fn).Kind == mir.FramePolicyNone
		if implicit && fn.Body.Async != nil {
			fn.Body.Async.Policy = opts.DefaultFramePolicy
		}
		plan, artifact, diags, err := asyncir.Lower(fn, table, res, implicit)
		if err != nil {
			return nil, errors.Wrapf(err, "wasmgen: compile %s", fn.Name)
		}
		plans[fn.Name] = plan
		artifacts[fn.Name] = artifact
		for _, d := range diags {
			sev := "error"
			if d.Severity == asyncir.SeverityWarning {
				sev = "warning"
			}
			result.Diagnostics = append(result.Diagnostics, api.Diagnostic{Code: d.Code, Message: sev + ": " + d.Message, Function: fn.Name})
		}
	}

	entry := findEntryFunction(mod)
	entryName := ""
	noMain := opts.NoMain || mod.NoMain
	if entry != nil {
		entryName = entry.Name
	} else if !noMain && opts.Kind == api.KindExecutable {
		return nil, errors.New("wasmgen: compile: executable requires an entry function named Main, none found")
	}

	exported := map[string]bool{}
	for _, name := range mod.Exports {
		exported[name] = true
	}
	if entry != nil {
		exported[entry.Name] = true
	}

	var externNames []string
	var externImports []module.RuntimeImport
	for _, fn := range mod.Functions {
		if !fn.IsExtern() {
			continue
		}
		externNames = append(externNames, fn.Name)
		ft := emitter.SignatureToFuncType(fn.Sig, res)
		importModule := fn.Extern.ModuleName
		if importModule == "" {
			importModule = "env"
		}
		importName := fn.Extern.EntryName
		if importName == "" {
			importName = fn.Name
		}
		externImports = append(externImports, module.RuntimeImport{Module: importModule, Name: importName, Params: ft.Params, Results: ft.Results})
	}

	// functionNames/functionSigs enumerate every locally-defined or
	// synthesized function in the exact order they'll land in
	// BuildInput.Functions, so FuncIndex/TypeIndex agree with module.Build.
	var functionNames []string
	var functionSigs []module.FuncType
	for _, fn := range mod.Functions {
		if fn.IsExtern() || fn.Body == nil {
			continue
		}
		if isAsync(fn) {
			artifact := artifacts[fn.Name]
			functionNames = append(functionNames, fn.Name, artifact.PollSymbol, artifact.DropSymbol)
			functionSigs = append(functionSigs,
				asyncEntrySig(fn, res),
				emitter.SignatureToFuncType(asyncir.PollSignature(), res),
				emitter.SignatureToFuncType(asyncir.DropSignature(), res),
			)
			continue
		}
		functionNames = append(functionNames, fn.Name)
		functionSigs = append(functionSigs, emitter.SignatureToFuncType(fn.Sig, res))
	}

	fi := emitter.NewFuncIndex(externNames, functionNames)
	ti := emitter.NewTypeIndex(externImports, functionSigs)

	var fns []module.FunctionArtifact
	for _, fn := range mod.Functions {
		if fn.IsExtern() || fn.Body == nil {
			continue
		}
		if isAsync(fn) {
			plan := plans[fn.Name]
			artifact := artifacts[fn.Name]
			asyncMeta := artifact.ToModule()

			entryArtifact, err := emitter.EmitAsyncEntry(fn, plan, artifact, res, fi, exported[fn.Name], fn.Name, &asyncMeta)
			if err != nil {
				return nil, errors.Wrapf(err, "wasmgen: compile %s", fn.Name)
			}
			fns = append(fns, entryArtifact)

			pollBody, pollLocals, err := emitter.EmitPollBody(fn, plan, artifact, res, fi, ti)
			if err != nil {
				return nil, errors.Wrapf(err, "wasmgen: compile %s::poll", fn.Name)
			}
			fns = append(fns, module.FunctionArtifact{
				Name: artifact.PollSymbol,
				Sig:  emitter.SignatureToFuncType(asyncir.PollSignature(), res),
				Code: module.CodeEntry{Locals: pollLocals, Body: pollBody},
			})

			dropBody, dropLocals, err := emitter.EmitDropBody(fn, plan, artifact, res, fi, ti)
			if err != nil {
				return nil, errors.Wrapf(err, "wasmgen: compile %s::drop", fn.Name)
			}
			fns = append(fns, module.FunctionArtifact{
				Name: artifact.DropSymbol,
				Sig:  emitter.SignatureToFuncType(asyncir.DropSignature(), res),
				Code: module.CodeEntry{Locals: dropLocals, Body: dropBody},
			})
			continue
		}

		artifact, err := emitter.EmitFunction(fn, res, fi, ti, exported[fn.Name], fn.Name, nil)
		if err != nil {
			return nil, errors.Wrapf(err, "wasmgen: compile %s", fn.Name)
		}
		fns = append(fns, artifact)
	}

	in := module.BuildInput{
		Kind:                 opts.Kind.ToMIR(),
		NoMain:               noMain,
		EntryName:            entryName,
		Functions:            fns,
		ExternImports:        externImports,
		LinearMemoryMinPages: opts.LinearMemoryMinPages,
	}

	built, err := module.Build(in)
	if err != nil {
		return nil, errors.Wrap(err, "wasmgen: compile")
	}

	encoded, err := module.Encode(built)
	if err != nil {
		return nil, errors.Wrap(err, "wasmgen: compile: encode")
	}
	result.Binary = encoded
	if opts.EmitText {
		result.Text = module.RenderText(in, built)
	}

	chiclog.Base().WithFields(map[string]interface{}{
		"functions": len(fns),
		"kind":      opts.Kind.String(),
	}).Debug("wasmgen: compile finished")

	return result, nil
}
