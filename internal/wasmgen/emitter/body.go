package emitter

import (
	"github.com/pkg/errors"

	"github.com/Chic-lang/Chic-sub011/internal/wasmgen/binary"
	"github.com/Chic-lang/Chic-sub011/internal/wasmgen/module"
	"github.com/Chic-lang/Chic-sub011/mir"
)

// lowerStatement appends the wasm instructions for one MIR statement. It
// never branches; every statement is straight-line code within a block's
// lowered region.
func (fc *funcCtx) lowerStatement(buf *codeBuf, st mir.Statement) error {
	switch st.Kind {
	case mir.StmtAssign:
		return fc.lowerAssign(buf, st.Place, st.RValue)

	case mir.StmtBorrow:
		name := "borrow_shared"
		if st.BorrowKind == mir.BorrowUnique {
			name = "borrow_unique"
		}
		if _, err := fc.emitPlaceAddress(buf, st.Target); err != nil {
			return err
		}
		buf.i32Const(int32(st.BorrowID))
		buf.call(fc.fi.RuntimeCall(name))
		return nil

	case mir.StmtDrop, mir.StmtDeferDrop:
		ty, err := fc.placeType(st.Target)
		if err != nil {
			return err
		}
		if !fc.resolver.RequiresMemory(ty) {
			return nil // scalar locals need no drop glue
		}
		if _, err := fc.emitPlaceAddress(buf, st.Target); err != nil {
			return err
		}
		buf.i32Const(typeTag(ty))
		buf.call(fc.fi.RuntimeCall("drop_glue"))
		return nil

	case mir.StmtDeinit:
		return nil // deinit only matters to the borrow checker, no runtime effect

	case mir.StmtStorageLive, mir.StmtStorageDead:
		return nil

	case mir.StmtDefaultInit, mir.StmtZeroInit, mir.StmtZeroInitRaw:
		return fc.lowerZeroInit(buf, st.Target)

	case mir.StmtRetag:
		return nil // no provenance tracking at the wasm32 level

	case mir.StmtMmioStore:
		if _, err := fc.emitOperand(buf, st.Address); err != nil {
			return err
		}
		if _, err := fc.emitOperand(buf, st.Value); err != nil {
			return err
		}
		buf.i32Const(int32(st.Width))
		buf.i32Const(0) // flags
		buf.call(fc.fi.RuntimeCall("mmio_write"))
		return nil

	case mir.StmtStaticStore:
		if _, err := fc.emitOperand(buf, st.Address); err != nil {
			return err
		}
		vt, err := operandType(fc, st.Value)
		if err != nil {
			return err
		}
		if _, err := fc.emitOperand(buf, st.Value); err != nil {
			return err
		}
		buf.store(mapScalarWasmType(vt), 0)
		return nil

	case mir.StmtAtomicStore:
		// Single-threaded interpreter: atomics degrade to plain stores.
		if _, err := fc.emitOperand(buf, st.Address); err != nil {
			return err
		}
		vt, err := operandType(fc, st.Value)
		if err != nil {
			return err
		}
		if _, err := fc.emitOperand(buf, st.Value); err != nil {
			return err
		}
		buf.store(mapScalarWasmType(vt), 0)
		return nil

	case mir.StmtAtomicFence:
		return nil // no-op without a multi-agent memory model

	case mir.StmtAssert:
		if _, err := fc.emitOperand(buf, st.Condition); err != nil {
			return err
		}
		buf.op(binary.OpI32Eqz)
		buf.blockEmpty(binary.OpIf)
		if err := fc.emitTrapMessage(buf, st.AssertMessage); err != nil {
			return err
		}
		buf.call(fc.fi.RuntimeCall("panic"))
		buf.op(binary.OpUnreachable)
		buf.op(binary.OpEnd)
		return nil

	case mir.StmtInlineAsm, mir.StmtMarkFallibleHandled, mir.StmtGPUDispatch:
		// Not executable in the interpreted wasm32 backend; carried through
		// as a documented limitation (DESIGN.md).
		return nil

	case mir.StmtNop:
		return nil

	case mir.StmtPending:
		return errors.Errorf("emitter: %s: StmtPending reached the backend unresolved", fc.fnName)

	default:
		return errors.Errorf("emitter: %s: unhandled statement kind %v", fc.fnName, st.Kind)
	}
}

// emitTrapMessage pushes the address of the assert message's {data_ptr, len}
// record, the single i32 argument chic_rt.panic takes.
func (fc *funcCtx) emitTrapMessage(buf *codeBuf, msg string) error {
	// Assert messages are compiled without a string pool in this backend;
	// panic is invoked with record address 0 and the interpreter falls back
	// to reporting the asserting function/block instead.
	_ = msg
	buf.i32Const(0)
	return nil
}

// typeTag is a small stable hash of a type name, used as the opaque
// identifier chic_rt's glue registry keys drop/clone/hash/eq functions by.
func typeTag(ty mir.TypeRef) int32 {
	h := uint32(2166136261)
	for i := 0; i < len(ty); i++ {
		h ^= uint32(ty[i])
		h *= 16777619
	}
	return int32(h)
}

func (fc *funcCtx) lowerZeroInit(buf *codeBuf, target mir.Place) error {
	slot := fc.plan.slots[target.Local]
	if slot.class == classScalar {
		if len(target.Projections) != 0 {
			return errors.Errorf("%s: projection on scalar local in zero-init", fc.fnName)
		}
		switch slot.wasmType {
		case binary.ValueTypeI64:
			buf.i64Const(0)
		case binary.ValueTypeF32:
			buf.f32Const(0)
		case binary.ValueTypeF64:
			buf.f64Const(0)
		default:
			buf.i32Const(0)
		}
		buf.localSet(slot.wasmIndex)
		return nil
	}
	ty, err := fc.placeType(target)
	if err != nil {
		return err
	}
	size, _, ok, err := fc.resolver.AggregateAllocation(ty)
	if err != nil {
		return errors.Wrapf(err, "%s: zero-init", fc.fnName)
	}
	if !ok {
		return errors.Errorf("%s: zero-init: no layout for %q", fc.fnName, ty)
	}
	if _, err := fc.emitPlaceAddress(buf, target); err != nil {
		return err
	}
	buf.i32Const(0)
	buf.i32Const(int32(size))
	buf.call(fc.fi.RuntimeCall("memset"))
	buf.op(binary.OpDrop) // memset returns dst
	return nil
}

func (fc *funcCtx) lowerAssign(buf *codeBuf, dst mir.Place, rv mir.RValue) error {
	if rv.Kind == mir.RValueAggregate {
		return fc.lowerAggregateAssign(buf, dst, rv)
	}

	dstSlot := fc.plan.slots[dst.Local]

	// Whole-value copy of a memory-class source into a memory-class
	// destination: RValueUse of a place whose leaf RequiresMemory, lowered
	// as a structural memcpy rather than a scalar load/store.
	if rv.Kind == mir.RValueUse && rv.Operand.Kind == mir.OperandUse {
		srcTy, err := fc.placeType(rv.Operand.Place)
		if err == nil && fc.resolver.RequiresMemory(srcTy) {
			dstTy, err := fc.placeType(dst)
			if err != nil {
				return err
			}
			size, _, ok, err := fc.resolver.AggregateAllocation(dstTy)
			if err != nil {
				return errors.Wrapf(err, "%s: assign", fc.fnName)
			}
			if !ok {
				return errors.Errorf("%s: assign: no layout for %q", fc.fnName, dstTy)
			}
			if _, err := fc.emitPlaceAddress(buf, dst); err != nil {
				return err
			}
			if _, err := fc.emitPlaceAddress(buf, rv.Operand.Place); err != nil {
				return err
			}
			buf.i32Const(int32(size))
			buf.call(fc.fi.RuntimeCall("memcpy"))
			buf.op(binary.OpDrop) // memcpy returns dst
			return nil
		}
	}

	if dstSlot.class == classMemory {
		dstTy, err := fc.placeType(dst)
		if err != nil {
			return err
		}
		if fc.resolver.RequiresMemory(dstTy) {
			return errors.Errorf("%s: assign: r-value kind %v cannot populate memory-class place of type %q", fc.fnName, rv.Kind, dstTy)
		}
	}

	return fc.emitStoreScalar(buf, dst, func(b *codeBuf) (mir.TypeRef, error) {
		return fc.emitRValueScalar(b, rv)
	})
}

// lowerAggregateAssign stores a struct/array literal field by field into a
// memory-class destination.
func (fc *funcCtx) lowerAggregateAssign(buf *codeBuf, dst mir.Place, rv mir.RValue) error {
	dstTy, err := fc.placeType(dst)
	if err != nil {
		return err
	}
	if !fc.resolver.RequiresMemory(dstTy) {
		return errors.Errorf("%s: aggregate literal assigned to scalar-class place of type %q", fc.fnName, dstTy)
	}
	for i, field := range rv.Fields {
		proj := append(append([]mir.Projection{}, dst.Projections...), mir.Projection{Kind: mir.ProjectionField, Index: i})
		fieldPlace := mir.Place{Local: dst.Local, Projections: proj}
		off, leaf, err := fc.resolver.ComputeProjectionOffset(fc.body.Locals[dst.Local].Type, proj)
		if err != nil {
			return err
		}
		if fc.resolver.RequiresMemory(leaf) {
			// A nested aggregate field initialized from a place operand:
			// copy structurally.
			if field.Kind != mir.OperandUse {
				return errors.Errorf("%s: aggregate field %d of memory-class type %q must be initialised from a place", fc.fnName, i, leaf)
			}
			size, _, ok, err := fc.resolver.AggregateAllocation(leaf)
			if err != nil {
				return errors.Wrapf(err, "%s: aggregate field %d", fc.fnName, i)
			}
			if !ok {
				return errors.Errorf("%s: aggregate field %d: no layout for %q", fc.fnName, i, leaf)
			}
			if _, err := fc.emitPlaceAddress(buf, fieldPlace); err != nil {
				return err
			}
			if _, err := fc.emitPlaceAddress(buf, field.Place); err != nil {
				return err
			}
			buf.i32Const(int32(size))
			buf.call(fc.fi.RuntimeCall("memcpy"))
			buf.op(binary.OpDrop) // memcpy returns dst
			continue
		}
		fc.pushRootBase(buf, dst.Local)
		if off != 0 {
			buf.i32Const(int32(off))
			buf.op(binary.OpI32Add)
		}
		vt, err := fc.emitOperand(buf, field)
		if err != nil {
			return err
		}
		buf.store(mapScalarWasmType(vt), 0)
	}
	return nil
}

// ---- terminator lowering --------------------------------------------------

// brLoop branches to the relooper dispatch loop from nesting depth extra
// levels inside a block i's lowered code region (extra accounts for any
// `if` scopes opened within this statement's own lowering).
func brLoop(buf *codeBuf, depthToLoop uint32, extra uint32) {
	buf.op(binary.OpBr)
	buf.u32(depthToLoop + extra)
}

func brTrap(buf *codeBuf, depthToLoop uint32, extra uint32) {
	buf.op(binary.OpBr)
	buf.u32(depthToLoop + extra + 1)
}

func (fc *funcCtx) lowerTerminator(buf *codeBuf, term mir.Terminator, depthToLoop uint32) error {
	switch term.Kind {
	case mir.TermReturn:
		if fc.plan.resultType != nil {
			if _, err := fc.emitLoadValue(buf, mir.Place{Local: 0}); err != nil {
				return err
			}
		}
		fc.emitFrameEpilogue(buf)
		buf.op(binary.OpReturn)
		return nil

	case mir.TermGoto:
		fc.writeState(buf, uint32(term.Target))
		brLoop(buf, depthToLoop, 0)
		return nil

	case mir.TermSwitchInt:
		dty, err := operandType(fc, term.Discriminant)
		if err != nil {
			return err
		}
		vt := mapScalarWasmType(dty)
		for _, arm := range term.Arms {
			if _, err := fc.emitOperand(buf, term.Discriminant); err != nil {
				return err
			}
			switch vt {
			case binary.ValueTypeI64:
				buf.i64Const(arm.Value)
				buf.op(binary.OpI64Eq)
			default:
				buf.i32Const(int32(arm.Value))
				buf.op(binary.OpI32Eq)
			}
			buf.blockEmpty(binary.OpIf)
			fc.writeState(buf, uint32(arm.Target))
			brLoop(buf, depthToLoop, 1)
			buf.op(binary.OpEnd)
		}
		fc.writeState(buf, uint32(term.Otherwise))
		brLoop(buf, depthToLoop, 0)
		return nil

	case mir.TermMatch:
		for _, arm := range term.MatchArms {
			if _, err := fc.emitPlaceAddress(buf, term.MatchPlace); err != nil {
				return err
			}
			buf.call(fc.fi.RuntimeCall("type_tag_of"))
			buf.i32Const(hashVariantName(arm.VariantName))
			buf.op(binary.OpI32Eq)
			buf.blockEmpty(binary.OpIf)
			fc.writeState(buf, uint32(arm.Target))
			brLoop(buf, depthToLoop, 1)
			buf.op(binary.OpEnd)
		}
		fc.writeState(buf, uint32(term.Otherwise))
		brLoop(buf, depthToLoop, 0)
		return nil

	case mir.TermCall:
		return fc.lowerCall(buf, term, depthToLoop)

	case mir.TermYield:
		return fc.lowerSuspend(buf, term.YieldValue, term.ResumeBlock, term.DropBlock, depthToLoop, true)

	case mir.TermAwait:
		return fc.lowerAwait(buf, term, depthToLoop)

	case mir.TermThrow:
		if term.Exception != nil {
			if _, err := fc.emitOperand(buf, *term.Exception); err != nil {
				return err
			}
		} else {
			buf.i32Const(0)
		}
		buf.call(fc.fi.RuntimeCall("throw"))
		buf.op(binary.OpUnreachable)
		return nil

	case mir.TermPanic:
		buf.i32Const(0)
		buf.call(fc.fi.RuntimeCall("panic"))
		buf.op(binary.OpUnreachable)
		return nil

	case mir.TermUnreachable:
		buf.op(binary.OpUnreachable)
		return nil

	case mir.TermPending:
		return errors.Errorf("emitter: %s: TermPending reached the backend unresolved", fc.fnName)

	default:
		return errors.Errorf("emitter: %s: unhandled terminator kind %v", fc.fnName, term.Kind)
	}
}

func hashVariantName(s string) int32 {
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return int32(h)
}

func (fc *funcCtx) lowerCall(buf *codeBuf, term mir.Terminator, depthToLoop uint32) error {
	var paramTys []binary.ValueType
	for i, arg := range term.Args {
		mode := mir.PassingModeValue
		if i < len(term.ArgModes) {
			mode = term.ArgModes[i]
		}
		switch mode {
		case mir.PassingModeRef, mir.PassingModeIn, mir.PassingModeOut:
			if arg.Kind != mir.OperandUse {
				return errors.Errorf("%s: call: ref/in/out argument must be a place", fc.fnName)
			}
			if _, err := fc.emitPlaceAddress(buf, arg.Place); err != nil {
				return err
			}
			paramTys = append(paramTys, binary.ValueTypeI32)
		default:
			ty, err := fc.emitOperand(buf, arg)
			if err != nil {
				return err
			}
			vt := mapScalarWasmType(ty)
			if fc.resolver.RequiresMemory(ty) {
				vt = binary.ValueTypeI32
			}
			paramTys = append(paramTys, vt)
		}
	}

	var resultTys []binary.ValueType
	if term.Destination != nil {
		dty, err := fc.placeType(*term.Destination)
		if err != nil {
			return err
		}
		if !isUnitType(dty) {
			if fc.resolver.RequiresMemory(dty) {
				resultTys = append(resultTys, binary.ValueTypeI32)
			} else {
				resultTys = append(resultTys, mapScalarWasmType(dty))
			}
		}
	}

	switch term.Dispatch {
	case mir.DispatchDirect:
		idx, ok := fc.fi.Lookup(term.CallFunc)
		if !ok {
			return errors.Errorf("%s: call: unresolved function %q", fc.fnName, term.CallFunc)
		}
		buf.call(idx)
	case mir.DispatchIndirect:
		if _, err := fc.emitLoadValue(buf, term.CallFuncPlace); err != nil {
			return err
		}
		tidx, ok := fc.ti.Lookup(module.FuncType{Params: paramTys, Results: resultTys})
		if !ok {
			return errors.Errorf("%s: call: no registered type for indirect call shape", fc.fnName)
		}
		buf.callIndirect(tidx)
	default:
		return errors.Errorf("%s: call: unknown dispatch kind", fc.fnName)
	}

	if term.Destination != nil {
		dty, err := fc.placeType(*term.Destination)
		if err != nil {
			return err
		}
		if !isUnitType(dty) {
			if err := fc.emitStoreScalar(buf, *term.Destination, func(b *codeBuf) (mir.TypeRef, error) {
				return dty, nil
			}); err != nil {
				return err
			}
		}
	}

	fc.writeState(buf, uint32(term.CallTarget))
	brLoop(buf, depthToLoop, 0)
	return nil
}

// lowerSuspend implements TermYield: store the next-resume state, write the
// yielded value into the generator's output slot, and return a "pending"
// sentinel (0) from the poll function so the scheduler re-enters at
// ResumeBlock next time it is polled.
func (fc *funcCtx) lowerSuspend(buf *codeBuf, val mir.Operand, resumeBlock, dropBlock mir.BlockID, depthToLoop uint32, isGenerator bool) error {
	_ = dropBlock
	if _, err := fc.emitOperand(buf, val); err != nil {
		return err
	}
	buf.call(fc.fi.RuntimeCall("async_token_state"))
	fc.writeState(buf, uint32(resumeBlock))
	if fc.plan.resultType != nil {
		buf.i32Const(0) // pending sentinel
	}
	buf.op(binary.OpReturn)
	return nil
}

// lowerAwait implements TermAwait: poll the awaited future once; if it's
// ready, continue at ResumeBlock with its value; otherwise suspend this
// function (store state, return pending) so the scheduler re-polls later.
func (fc *funcCtx) lowerAwait(buf *codeBuf, term mir.Terminator, depthToLoop uint32) error {
	if _, err := fc.emitPlaceAddress(buf, term.FuturePlace); err != nil {
		return err
	}
	buf.call(fc.fi.RuntimeCall("await_future_once"))
	buf.blockEmpty(binary.OpIf)
	if term.Destination != nil {
		dty, err := fc.placeType(*term.Destination)
		if err != nil {
			return err
		}
		if !isUnitType(dty) {
			if _, err := fc.emitPlaceAddress(buf, term.FuturePlace); err != nil {
				return err
			}
			buf.call(fc.fi.RuntimeCall("async_token_state"))
			if err := fc.emitStoreScalar(buf, *term.Destination, func(b *codeBuf) (mir.TypeRef, error) {
				return dty, nil
			}); err != nil {
				return err
			}
		}
	}
	fc.writeState(buf, uint32(term.ResumeBlock))
	brLoop(buf, depthToLoop, 1)
	buf.op(binary.OpEnd)
	fc.writeState(buf, uint32(term.ResumeBlock))
	if fc.plan.resultType != nil {
		buf.i32Const(0)
	}
	buf.op(binary.OpReturn)
	return nil
}

// assembleBody wraps every basic block's lowered code in the relooper
// switch-inside-a-loop construction and returns the finished instruction
// stream, ready to become a CodeEntry.Body.
// seedEntry is true for ordinary synchronous bodies, which always start
// execution at entry. Async poll bodies pass false: their dispatch state was
// already written into the frame by a previous poll call (or by the
// function's prologue, for the very first poll), so the loop top must only
// read and dispatch, never reset it back to the lexical entry block.
func (fc *funcCtx) assembleBody(entry mir.BlockID, seedEntry bool) ([]byte, error) {
	n := uint32(len(fc.body.Blocks))
	buf := &codeBuf{}

	fc.emitFramePrologue(buf)

	if seedEntry {
		fc.writeState(buf, uint32(entry))
	}

	buf.blockEmpty(binary.OpBlock) // $trap, outermost
	buf.blockEmpty(binary.OpLoop)  // $loop
	for i := n; i > 0; i-- {
		buf.blockEmpty(binary.OpBlock)
	}

	fc.readState(buf)
	targets := make([]uint32, n)
	for i := uint32(0); i < n; i++ {
		targets[i] = i
	}
	buf.brTable(targets, n+1)

	for i := uint32(0); i < n; i++ {
		buf.op(binary.OpEnd) // closes block $b{i}
		depthToLoop := n - i - 1
		blk := fc.body.Blocks[i]
		for _, st := range blk.Statements {
			if err := fc.lowerStatement(buf, st); err != nil {
				return nil, err
			}
		}
		if err := fc.lowerTerminator(buf, blk.Terminator, depthToLoop); err != nil {
			return nil, err
		}
	}

	buf.op(binary.OpEnd) // closes loop
	buf.op(binary.OpEnd) // closes block $trap
	buf.op(binary.OpUnreachable)

	return buf.Bytes(), nil
}

// assembleDropBody implements a drop shim as a chain of independent
// `state == resumeBlock` checks, one per suspend point: whichever (if any)
// matches runs its DropBlock's statements to release what that suspend
// point captured. A state matching no suspend point falls straight through
// having released nothing.
func (fc *funcCtx) assembleDropBody(suspends []mir.SuspendPoint) ([]byte, error) {
	buf := &codeBuf{}
	for _, sp := range suspends {
		fc.readState(buf)
		buf.i32Const(int32(sp.ResumeBlock))
		buf.op(binary.OpI32Eq)
		buf.blockEmpty(binary.OpIf)
		for _, st := range fc.body.Blocks[sp.DropBlock].Statements {
			if err := fc.lowerStatement(buf, st); err != nil {
				return nil, err
			}
		}
		buf.op(binary.OpEnd)
	}
	return buf.Bytes(), nil
}

// readState pushes the current dispatch state value for the br_table (or a
// drop shim's state check) to test: through readStateFn when it is set (poll
// and drop bodies, reading the frame's State field), else from the dispatch
// local plan.stateIndex.
func (fc *funcCtx) readState(buf *codeBuf) {
	if fc.readStateFn != nil {
		fc.readStateFn(buf)
		return
	}
	buf.localGet(fc.plan.stateIndex)
}
