package emitter

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Chic-lang/Chic-sub011/internal/asyncir"
	"github.com/Chic-lang/Chic-sub011/internal/layout"
	"github.com/Chic-lang/Chic-sub011/internal/wasmgen/binary"
	"github.com/Chic-lang/Chic-sub011/internal/wasmgen/module"
	"github.com/Chic-lang/Chic-sub011/mir"
)

// EmitFunction lowers one non-extern MIR function to a module.FunctionArtifact.
// fi and ti must already number the whole program (see NewFuncIndex,
// NewTypeIndex); exported/exportName/async are the caller's decisions from
// earlier passes (export resolution, async lowering) threaded through
// verbatim into the resulting artifact.
func EmitFunction(fn *mir.Function, res *layout.Resolver, fi *FuncIndex, ti *TypeIndex, exported bool, exportName string, async *module.AsyncPlanArtifact) (module.FunctionArtifact, error) {
	if fn.IsExtern() {
		return module.FunctionArtifact{}, errors.Errorf("emitter: %s: cannot emit a body for an extern function", fn.Name)
	}
	if fn.Body == nil {
		return module.FunctionArtifact{}, errors.Errorf("emitter: %s: function has no body", fn.Name)
	}
	if len(fn.Body.Blocks) == 0 {
		return module.FunctionArtifact{}, errors.Errorf("emitter: %s: function body has no blocks", fn.Name)
	}

	plan, err := planLocals(fn.Name, fn.Sig, fn.Body, res, true)
	if err != nil {
		return module.FunctionArtifact{}, err
	}

	fc := &funcCtx{
		fnName:   fn.Name,
		sig:      fn.Sig,
		body:     fn.Body,
		plan:     plan,
		resolver: res,
		fi:       fi,
		ti:       ti,
	}

	body, err := fc.assembleBody(fn.Body.Blocks[0].ID, true)
	if err != nil {
		return module.FunctionArtifact{}, errors.Wrapf(err, "emitter: %s", fn.Name)
	}

	locals := declTypesToGroups(plan.declTypes)
	sig := signatureToFuncType(fn.Sig, res)

	var hints []string
	for h, on := range fn.Hints {
		if on {
			hints = append(hints, string(h))
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": fn.Name,
		"blocks":   len(fn.Body.Blocks),
		"locals":   len(fn.Body.Locals),
		"bytes":    len(body),
	}).Debug("emitter: lowered function")

	return module.FunctionArtifact{
		Name:       fn.Name,
		Sig:        sig,
		Code:       module.CodeEntry{Locals: locals, Body: body},
		Hints:      hints,
		Exported:   exported,
		ExportName: exportName,
		Async:      async,
	}, nil
}

// EmitPollBody lowers the synthesized poll function body for an async/
// generator function. Its wasm signature is always asyncir.PollSignature's
// fixed (frame_ptr, runtime_ctx_ptr) -> state ABI, never the source
// function's own signature: every local the capture pass recorded in
// plan.Frame is addressed off the frame pointer param at its registered
// offset in frameType, and the dispatch state lives at artifact.StateOffset
// inside that same frame rather than in a dedicated wasm local.
func EmitPollBody(fn *mir.Function, plan *asyncir.Plan, artifact asyncir.Artifact, res *layout.Resolver, fi *FuncIndex, ti *TypeIndex) ([]byte, []module.LocalGroup, error) {
	if fn.Body == nil || len(fn.Body.Blocks) == 0 {
		return nil, nil, errors.Errorf("emitter: %s: async function has no body to lower into a poll shim", fn.Name)
	}

	lp, err := planPollLocals(fn.Name, plan.FrameType, fn.Body, plan.Frame, res,
		[]binary.ValueType{binary.ValueTypeI32, binary.ValueTypeI32})
	if err != nil {
		return nil, nil, err
	}

	const framePtrIdx uint32 = 0
	stateOffset := artifact.StateOffset
	fc := &funcCtx{
		fnName:           fn.Name,
		sig:              asyncir.PollSignature(),
		body:             fn.Body,
		plan:             lp,
		resolver:         res,
		fi:               fi,
		ti:               ti,
		framePtrParamIdx: func() *uint32 { idx := framePtrIdx; return &idx }(),
		setState: func(buf *codeBuf, state uint32) {
			buf.localGet(framePtrIdx)
			buf.i32Const(int32(state))
			buf.store(binary.ValueTypeI32, stateOffset)
		},
		readStateFn: func(buf *codeBuf) {
			buf.localGet(framePtrIdx)
			buf.load(binary.ValueTypeI32, stateOffset)
		},
	}

	body, err := fc.assembleBody(fn.Body.Blocks[0].ID, false)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "emitter: %s: poll body", fn.Name)
	}
	return body, declTypesToGroups(lp.declTypes), nil
}

// EmitDropBody lowers the synthesized drop shim for an async/generator
// function: given the frame pointer alone (asyncir.DropSignature), it reads
// the state the function was last suspended at and runs only the matching
// SuspendPoint's DropBlock to release whatever that suspend point captured,
// then returns. A state that matches no suspend point (never started, run
// to completion, or already dropped) releases nothing.
func EmitDropBody(fn *mir.Function, plan *asyncir.Plan, artifact asyncir.Artifact, res *layout.Resolver, fi *FuncIndex, ti *TypeIndex) ([]byte, []module.LocalGroup, error) {
	if fn.Body == nil || len(fn.Body.Blocks) == 0 {
		return nil, nil, errors.Errorf("emitter: %s: async function has no body for a drop shim", fn.Name)
	}

	lp, err := planPollLocals(fn.Name, plan.FrameType, fn.Body, plan.Frame, res,
		[]binary.ValueType{binary.ValueTypeI32})
	if err != nil {
		return nil, nil, err
	}
	lp.resultType = nil // asyncir.DropSignature returns unit

	const framePtrIdx uint32 = 0
	stateOffset := artifact.StateOffset
	fc := &funcCtx{
		fnName:           fn.Name,
		sig:              asyncir.DropSignature(),
		body:             fn.Body,
		plan:             lp,
		resolver:         res,
		fi:               fi,
		ti:               ti,
		framePtrParamIdx: func() *uint32 { idx := framePtrIdx; return &idx }(),
		readStateFn: func(buf *codeBuf) {
			buf.localGet(framePtrIdx)
			buf.load(binary.ValueTypeI32, stateOffset)
		},
	}

	body, err := fc.assembleDropBody(plan.Suspends)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "emitter: %s: drop body", fn.Name)
	}
	return body, declTypesToGroups(lp.declTypes), nil
}

// asyncEntryScratchAddr is the fixed linear-memory address EmitAsyncEntry
// reuses across every async/generator entry shim to receive chic_rt.alloc's
// {ptr,size,align} out-record (spec.md §4.6 Allocator). Safe to share
// because alloc is a synchronous host call with no reentrant wasm callback
// between the shim's write of the out-address and its read-back of ptr.
const asyncEntryScratchAddr = 0

// EmitAsyncEntry lowers the callable entry point of an async/generator
// function itself, as opposed to its poll/drop shims (EmitPollBody,
// EmitDropBody): it keeps the source function's own signature, allocates
// its AsyncFrame via chic_rt.alloc, copies every argument into the frame
// slot the capture pass registered for it, seeds the frame's State field at
// the function's entry block, and returns the frame pointer as the result.
// That pointer is the future/generator handle callers pass to await_future_*
// and to PollSymbol/DropSymbol directly; chic_rt has no dedicated
// constructor hook for one, so the frame address does double duty as the
// key of the scheduler's seen set (see internal/chicrt/async.go's asyncScheduler).
func EmitAsyncEntry(fn *mir.Function, plan *asyncir.Plan, artifact asyncir.Artifact, res *layout.Resolver, fi *FuncIndex, exported bool, exportName string, asyncMeta *module.AsyncPlanArtifact) (module.FunctionArtifact, error) {
	if fn.Body == nil || len(fn.Body.Blocks) == 0 {
		return module.FunctionArtifact{}, errors.Errorf("emitter: %s: async function has no body to synthesize an entry from", fn.Name)
	}

	layoutEntry, err := res.LookupLayout(mir.TypeRef(plan.FrameType))
	if err != nil {
		return module.FunctionArtifact{}, err
	}
	if layoutEntry == nil || layoutEntry.Size == nil || layoutEntry.Align == nil {
		return module.FunctionArtifact{}, errors.Errorf("emitter: %s: frame type %q has no resolved size/align", fn.Name, plan.FrameType)
	}
	frameSize, frameAlign := *layoutEntry.Size, *layoutEntry.Align

	captured := make(map[mir.LocalID]layout.Field, len(plan.Frame))
	for _, ff := range plan.Frame {
		name := ff.Name
		if name == "" {
			name = frameFieldName(ff.Local)
		}
		field, ok := layoutEntry.FieldByName(name)
		if !ok {
			return module.FunctionArtifact{}, errors.Errorf("emitter: %s: frame field %q missing from registered layout", fn.Name, name)
		}
		captured[ff.Local] = field
	}

	type argParam struct {
		wasmIndex uint32
		wasmType  binary.ValueType
		isMemory  bool
	}
	params := make(map[mir.LocalID]argParam)
	var paramTypes []binary.ValueType
	for i, l := range fn.Body.Locals {
		if l.Kind != mir.LocalKindArg {
			continue
		}
		id := mir.LocalID(i)
		idx := uint32(len(paramTypes))
		if res.RequiresMemory(l.Type) {
			paramTypes = append(paramTypes, binary.ValueTypeI32)
			params[id] = argParam{wasmIndex: idx, isMemory: true}
		} else {
			wt := mapScalarWasmType(l.Type)
			paramTypes = append(paramTypes, wt)
			params[id] = argParam{wasmIndex: idx, wasmType: wt}
		}
		if _, ok := captured[id]; !ok {
			return module.FunctionArtifact{}, errors.Errorf("emitter: %s: argument local %q is not captured in the async frame", fn.Name, l.Name)
		}
	}

	framePtrLocal := uint32(len(paramTypes))
	declTypes := []binary.ValueType{binary.ValueTypeI32}

	buf := &codeBuf{}

	buf.i32Const(asyncEntryScratchAddr)
	buf.i32Const(int32(frameSize))
	buf.i32Const(int32(frameAlign))
	buf.call(fi.RuntimeCall("alloc"))

	buf.i32Const(asyncEntryScratchAddr)
	buf.load(binary.ValueTypeI32, 0)
	buf.localSet(framePtrLocal)

	buf.localGet(framePtrLocal)
	buf.i32Const(int32(fn.Body.Blocks[0].ID))
	buf.store(binary.ValueTypeI32, artifact.StateOffset)

	for i, l := range fn.Body.Locals {
		if l.Kind != mir.LocalKindArg {
			continue
		}
		id := mir.LocalID(i)
		p := params[id]
		field := captured[id]
		if p.isMemory {
			size, _, ok, err := res.AggregateAllocation(l.Type)
			if err != nil {
				return module.FunctionArtifact{}, errors.Wrapf(err, "emitter: %s: argument %q", fn.Name, l.Name)
			}
			if !ok {
				return module.FunctionArtifact{}, errors.Errorf("emitter: %s: argument %q has no resolvable layout", fn.Name, l.Name)
			}
			buf.localGet(framePtrLocal)
			if field.Offset != 0 {
				buf.i32Const(int32(field.Offset))
				buf.op(binary.OpI32Add)
			}
			buf.localGet(p.wasmIndex)
			buf.i32Const(int32(size))
			buf.call(fi.RuntimeCall("memcpy"))
			buf.op(binary.OpDrop) // memcpy returns dst; the shim has no use for it
		} else {
			buf.localGet(framePtrLocal)
			buf.localGet(p.wasmIndex)
			buf.store(p.wasmType, field.Offset)
		}
	}

	buf.localGet(framePtrLocal)
	buf.op(binary.OpReturn)

	var hints []string
	for h, on := range fn.Hints {
		if on {
			hints = append(hints, string(h))
		}
	}

	return module.FunctionArtifact{
		Name: fn.Name,
		Sig: module.FuncType{
			Params:  paramTypes,
			Results: []binary.ValueType{binary.ValueTypeI32},
		},
		Code:       module.CodeEntry{Locals: declTypesToGroups(declTypes), Body: buf.Bytes()},
		Hints:      hints,
		Exported:   exported,
		ExportName: exportName,
		Async:      asyncMeta,
	}, nil
}

func declTypesToGroups(decl []binary.ValueType) []module.LocalGroup {
	var groups []module.LocalGroup
	for _, t := range decl {
		if len(groups) > 0 && groups[len(groups)-1].Type == t {
			groups[len(groups)-1].Count++
			continue
		}
		groups = append(groups, module.LocalGroup{Count: 1, Type: t})
	}
	return groups
}

// SignatureToFuncType maps a MIR signature to its wasm32 FuncType using the
// same scalar/memory-class rules EmitFunction applies to locals (spec.md
// §4.4), exported so the top-level Compile wiring can turn an extern MIR
// function's signature into a module.RuntimeImport without re-deriving it.
func SignatureToFuncType(sig mir.Signature, res *layout.Resolver) module.FuncType {
	return signatureToFuncType(sig, res)
}

func signatureToFuncType(sig mir.Signature, res *layout.Resolver) module.FuncType {
	ft := module.FuncType{}
	for _, p := range sig.Params {
		if res.RequiresMemory(p) {
			ft.Params = append(ft.Params, binary.ValueTypeI32)
		} else {
			ft.Params = append(ft.Params, mapScalarWasmType(p))
		}
	}
	if !isUnitType(sig.Return) {
		if res.RequiresMemory(sig.Return) {
			ft.Results = []binary.ValueType{binary.ValueTypeI32}
		} else {
			ft.Results = []binary.ValueType{mapScalarWasmType(sig.Return)}
		}
	}
	return ft
}
