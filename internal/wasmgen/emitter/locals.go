// Package emitter lowers one MIR function at a time to a wasm32 function
// body, implementing spec.md §4.4. It is grounded on open-policy-agent-opa's
// internal/compiler/wasm/wasm.go (the only retrieval-pack component that
// walks an SSA-like IR and emits a real wasm function body instruction by
// instruction) for the overall "local planning, then statement lowering,
// then terminator lowering" shape, adapted to MIR's basic-block CFG instead
// of OPA's structured-block IR via the relooper "switch inside a loop"
// construction described in localPlan's doc comment below.
package emitter

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/Chic-lang/Chic-sub011/internal/layout"
	"github.com/Chic-lang/Chic-sub011/internal/wasmgen/binary"
	"github.com/Chic-lang/Chic-sub011/mir"
)

// localClass says whether a MIR local lives as a native wasm value-stack
// local or as a slice of the per-function linear-memory frame.
type localClass int

const (
	classScalar localClass = iota
	classMemory
)

type localSlot struct {
	class localClass

	// classScalar
	wasmType  binary.ValueType
	wasmIndex uint32

	// classMemory, non-Arg kind: address = frameBase + frameOffset.
	// classMemory, Arg kind: address = the wasm param at wasmIndex directly
	// (isArgPointer true), no frame slot of its own.
	frameOffset  uint32
	size, align  uint32
	isArgPointer bool
}

// localPlan is the complete wasm-local layout for one function body.
//
// Control flow does not map onto MIR's basic-block CFG directly, since wasm
// only allows structured branches to an enclosing block/loop label. Bodies
// are compiled with the "switch inside a loop" construction: one dispatch
// local (or, for async poll bodies, the frame's State field) selects which
// block's code runs next via a br_table over N nested blocks, each block's
// code ending in an explicit branch back to the dispatch loop (or a return/
// unreachable/trap that leaves the function outright).
type localPlan struct {
	slots []localSlot // parallel to body.Locals

	paramTypes []binary.ValueType
	declTypes  []binary.ValueType // additional locals, appended after params

	frameSize     uint32
	framePtrIndex uint32
	hasFrame      bool

	// stateIndex is the dispatch-loop selector local's wasm index. Unused
	// (and absent from declTypes) when the caller drives dispatch from an
	// async frame field instead (see poll-body emission).
	stateIndex uint32
	hasState   bool

	resultType *binary.ValueType
}

func mapScalarWasmType(ty mir.TypeRef) binary.ValueType {
	switch ty {
	case "i64", "u64", "long", "ulong":
		return binary.ValueTypeI64
	case "float", "f32":
		return binary.ValueTypeF32
	case "double", "f64":
		return binary.ValueTypeF64
	default:
		return binary.ValueTypeI32
	}
}

func isUnitType(ty mir.TypeRef) bool {
	return ty == "" || ty == "unit" || ty == "Unit" || ty == "void"
}

// planLocals classifies every local in body, assigns wasm param/local
// indices, and reserves the linear-memory frame for memory-class locals.
// withDispatchLocal controls whether a dedicated wasm local is reserved for
// the relooper dispatch selector (false for async poll bodies, which store
// their dispatch state in the frame instead).
func planLocals(fnName string, sig mir.Signature, body *mir.Body, res *layout.Resolver, withDispatchLocal bool) (*localPlan, error) {
	plan := &localPlan{slots: make([]localSlot, len(body.Locals))}

	// Pass 1: params, in ArgIdx order, become wasm params 0..ArgCount-1.
	for i, l := range body.Locals {
		if l.Kind != mir.LocalKindArg {
			continue
		}
		requiresMem := res.RequiresMemory(l.Type)
		idx := uint32(len(plan.paramTypes))
		if requiresMem {
			plan.paramTypes = append(plan.paramTypes, binary.ValueTypeI32)
			plan.slots[i] = localSlot{class: classMemory, isArgPointer: true, wasmIndex: idx}
		} else {
			wt := mapScalarWasmType(l.Type)
			plan.paramTypes = append(plan.paramTypes, wt)
			plan.slots[i] = localSlot{class: classScalar, wasmType: wt, wasmIndex: idx}
		}
	}

	// Pass 2: non-arg locals. Scalars get declared wasm locals; memory-class
	// locals get a slice of the per-function frame.
	declBase := uint32(len(plan.paramTypes))
	var frameCursor uint32
	for i, l := range body.Locals {
		if l.Kind == mir.LocalKindArg {
			continue
		}
		if res.RequiresMemory(l.Type) {
			size, align, ok, err := res.AggregateAllocation(l.Type)
			if err != nil {
				return nil, errors.Wrapf(err, "emitter: %s: local %q", fnName, l.Name)
			}
			if !ok {
				return nil, errors.Errorf("emitter: %s: local %q: no resolvable layout for memory-class type %q", fnName, l.Name, l.Type)
			}
			frameCursor = alignUp32(frameCursor, align)
			plan.slots[i] = localSlot{class: classMemory, frameOffset: frameCursor, size: size, align: align}
			frameCursor += size
		} else {
			wt := mapScalarWasmType(l.Type)
			idx := declBase + uint32(len(plan.declTypes))
			plan.declTypes = append(plan.declTypes, wt)
			plan.slots[i] = localSlot{class: classScalar, wasmType: wt, wasmIndex: idx}
		}
	}
	plan.frameSize = frameCursor
	if plan.frameSize > 0 {
		plan.hasFrame = true
		plan.framePtrIndex = declBase + uint32(len(plan.declTypes))
		plan.declTypes = append(plan.declTypes, binary.ValueTypeI32)
	}

	if withDispatchLocal {
		plan.hasState = true
		plan.stateIndex = declBase + uint32(len(plan.declTypes))
		plan.declTypes = append(plan.declTypes, binary.ValueTypeI32)
	}

	if !isUnitType(sig.Return) {
		var rt binary.ValueType
		if res.RequiresMemory(sig.Return) {
			rt = binary.ValueTypeI32
		} else {
			rt = mapScalarWasmType(sig.Return)
		}
		plan.resultType = &rt
	}

	return plan, nil
}

// planPollLocals builds the local plan for an async/generator poll body.
// Unlike planLocals, the wasm signature is the fixed poll ABI (frame
// pointer, runtime context pointer) rather than the source function's own
// params: every local the capture pass recorded in frame lives at its
// registered offset inside frameType, addressed off the frame pointer
// param, and everything else (including every Arg local, which must always
// be captured since a poll body can resume past its prologue) is an
// ordinary error if missing from frame, or a plain wasm local otherwise.
// paramTypes is the caller's fixed ABI prefix (asyncir.PollSignature's two
// i32s for poll, asyncir.DropSignature's single i32 for drop).
func planPollLocals(fnName, frameType string, body *mir.Body, frame []mir.FrameField, res *layout.Resolver, paramTypes []binary.ValueType) (*localPlan, error) {
	layoutEntry, err := res.LookupLayout(mir.TypeRef(frameType))
	if err != nil {
		return nil, errors.Wrapf(err, "emitter: %s: poll frame layout", fnName)
	}
	if layoutEntry == nil {
		return nil, errors.Errorf("emitter: %s: frame type %q was never registered (asyncir.RegisterFrameLayout must run first)", fnName, frameType)
	}

	captured := make(map[mir.LocalID]mir.FrameField, len(frame))
	for _, ff := range frame {
		captured[ff.Local] = ff
	}

	plan := &localPlan{
		slots:      make([]localSlot, len(body.Locals)),
		paramTypes: append([]binary.ValueType{}, paramTypes...),
	}

	for i, l := range body.Locals {
		id := mir.LocalID(i)
		if ff, ok := captured[id]; ok {
			name := ff.Name
			if name == "" {
				name = frameFieldName(ff.Local)
			}
			field, ok := layoutEntry.FieldByName(name)
			if !ok {
				return nil, errors.Errorf("emitter: %s: local %q has no registered field in %q", fnName, l.Name, frameType)
			}
			plan.slots[i] = localSlot{class: classMemory, frameOffset: field.Offset}
			continue
		}
		if l.Kind == mir.LocalKindArg {
			return nil, errors.Errorf("emitter: %s: argument local %q is not captured in the async frame", fnName, l.Name)
		}
		wt := mapScalarWasmType(l.Type)
		idx := uint32(len(plan.paramTypes) + len(plan.declTypes))
		plan.declTypes = append(plan.declTypes, wt)
		plan.slots[i] = localSlot{class: classScalar, wasmType: wt, wasmIndex: idx}
	}

	rt := binary.ValueTypeI32 // asyncir.PollSignature's u32 result
	plan.resultType = &rt

	return plan, nil
}

func frameFieldName(id mir.LocalID) string {
	return fmt.Sprintf("local_%d", id)
}

func alignUp32(off, align uint32) uint32 {
	if align <= 1 {
		return off
	}
	return (off + align - 1) &^ (align - 1)
}
