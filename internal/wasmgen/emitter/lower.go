package emitter

import (
	"github.com/pkg/errors"

	"github.com/Chic-lang/Chic-sub011/internal/layout"
	"github.com/Chic-lang/Chic-sub011/internal/wasmgen/binary"
	"github.com/Chic-lang/Chic-sub011/mir"
)

// funcCtx carries the state one function's lowering needs: the local plan,
// the layout resolver, and the shared function-index numbering.
type funcCtx struct {
	fnName   string
	sig      mir.Signature
	body     *mir.Body
	plan     *localPlan
	resolver *layout.Resolver
	fi       *FuncIndex
	ti       *TypeIndex

	// framePtrParamIdx is set instead of plan.framePtrIndex when this body is
	// an async poll shim receiving the frame pointer as its first param
	// rather than computing it from the stack-pointer global.
	framePtrParamIdx *uint32

	// setState/readStateFn override where the dispatch selector lives; nil
	// means plan.stateIndex, the ordinary synchronous-function case. Async
	// poll bodies set both to read/write the frame's State field instead,
	// since their dispatch state must survive across separate poll() calls.
	setState    func(buf *codeBuf, state uint32)
	readStateFn func(buf *codeBuf)
}

func (fc *funcCtx) writeState(buf *codeBuf, state uint32) {
	if fc.setState != nil {
		fc.setState(buf, state)
		return
	}
	buf.i32Const(int32(state))
	buf.localSet(fc.plan.stateIndex)
}

// stackPointerGlobal is the wasm global index module.Build always assigns
// the process stack-pointer global (spec.md §4.5 "Globals": the sole entry
// in Module.Globals, initialised to module.StackBase).
const stackPointerGlobal uint32 = 0

// needsFramePrologue is true when this body owns its own aggregate-local
// frame computed off the stack-pointer global, as opposed to one handed in
// as a param (async poll/drop/entry shims set framePtrParamIdx instead).
func (fc *funcCtx) needsFramePrologue() bool {
	return fc.framePtrParamIdx == nil && fc.plan.hasFrame
}

// emitFramePrologue bumps the stack-pointer global down by the frame size
// and saves the result both back into the global and into framePtrIndex,
// the local every memory-class place in this body addresses off.
func (fc *funcCtx) emitFramePrologue(buf *codeBuf) {
	if !fc.needsFramePrologue() {
		return
	}
	buf.globalGet(stackPointerGlobal)
	buf.i32Const(int32(fc.plan.frameSize))
	buf.op(binary.OpI32Sub)
	buf.localTee(fc.plan.framePtrIndex)
	buf.globalSet(stackPointerGlobal)
}

// emitFrameEpilogue restores the stack-pointer global to what it was before
// this body's emitFramePrologue ran, recomputed from framePtrIndex rather
// than a dedicated saved-SP local. Must run immediately before every normal
// (non-trapping) function exit.
func (fc *funcCtx) emitFrameEpilogue(buf *codeBuf) {
	if !fc.needsFramePrologue() {
		return
	}
	buf.localGet(fc.plan.framePtrIndex)
	buf.i32Const(int32(fc.plan.frameSize))
	buf.op(binary.OpI32Add)
	buf.globalSet(stackPointerGlobal)
}

func (fc *funcCtx) pushFrameBase(buf *codeBuf) {
	if fc.framePtrParamIdx != nil {
		buf.localGet(*fc.framePtrParamIdx)
		return
	}
	buf.localGet(fc.plan.framePtrIndex)
}

func (fc *funcCtx) pushRootBase(buf *codeBuf, local mir.LocalID) {
	slot := fc.plan.slots[local]
	if slot.class == classMemory && slot.isArgPointer {
		buf.localGet(slot.wasmIndex)
		return
	}
	fc.pushFrameBase(buf)
	if slot.frameOffset != 0 {
		buf.i32Const(int32(slot.frameOffset))
		buf.op(binary.OpI32Add)
	}
}

func (fc *funcCtx) placeType(p mir.Place) (mir.TypeRef, error) {
	rootTy := fc.body.Locals[p.Local].Type
	if len(p.Projections) == 0 {
		return rootTy, nil
	}
	_, leaf, err := fc.resolver.ComputeProjectionOffset(rootTy, p.Projections)
	return leaf, err
}

// emitPlaceAddress pushes the byte address of p onto the stack, valid for
// any place (scalar locals don't have addresses, so this errors for them).
func (fc *funcCtx) emitPlaceAddress(buf *codeBuf, p mir.Place) (mir.TypeRef, error) {
	slot := fc.plan.slots[p.Local]
	if slot.class == classScalar {
		return "", errors.Errorf("%s: cannot take the address of scalar local %q", fc.fnName, fc.body.Locals[p.Local].Name)
	}
	rootTy := fc.body.Locals[p.Local].Type
	fc.pushRootBase(buf, p.Local)
	if len(p.Projections) == 0 {
		return rootTy, nil
	}
	off, leaf, err := fc.resolver.ComputeProjectionOffset(rootTy, p.Projections)
	if err != nil {
		return "", err
	}
	if off != 0 {
		buf.i32Const(int32(off))
		buf.op(binary.OpI32Add)
	}
	return leaf, nil
}

// emitLoadValue pushes the value held at p: a native local read for scalar
// places, or an address for memory-class places (aggregates are always
// handled by reference past this point).
func (fc *funcCtx) emitLoadValue(buf *codeBuf, p mir.Place) (mir.TypeRef, error) {
	slot := fc.plan.slots[p.Local]
	if slot.class == classScalar {
		if len(p.Projections) != 0 {
			return "", errors.Errorf("%s: projection on scalar local %q", fc.fnName, fc.body.Locals[p.Local].Name)
		}
		buf.localGet(slot.wasmIndex)
		return fc.body.Locals[p.Local].Type, nil
	}
	rootTy := fc.body.Locals[p.Local].Type
	if len(p.Projections) == 0 {
		fc.pushRootBase(buf, p.Local)
		return rootTy, nil
	}
	off, leaf, err := fc.resolver.ComputeProjectionOffset(rootTy, p.Projections)
	if err != nil {
		return "", err
	}
	if fc.resolver.RequiresMemory(leaf) {
		fc.pushRootBase(buf, p.Local)
		if off != 0 {
			buf.i32Const(int32(off))
			buf.op(binary.OpI32Add)
		}
		return leaf, nil
	}
	fc.pushRootBase(buf, p.Local)
	buf.load(mapScalarWasmType(leaf), off)
	return leaf, nil
}

// emitStoreScalar stores a scalar value (already computed by emitValue) into
// place p, which must resolve to a non-memory leaf type.
func (fc *funcCtx) emitStoreScalar(buf *codeBuf, p mir.Place, emitValue func(*codeBuf) (mir.TypeRef, error)) error {
	slot := fc.plan.slots[p.Local]
	if slot.class == classScalar {
		if len(p.Projections) != 0 {
			return errors.Errorf("%s: projection on scalar local %q", fc.fnName, fc.body.Locals[p.Local].Name)
		}
		if _, err := emitValue(buf); err != nil {
			return err
		}
		buf.localSet(slot.wasmIndex)
		return nil
	}
	rootTy := fc.body.Locals[p.Local].Type
	var off uint32
	leaf := rootTy
	if len(p.Projections) > 0 {
		var err error
		off, leaf, err = fc.resolver.ComputeProjectionOffset(rootTy, p.Projections)
		if err != nil {
			return err
		}
	}
	if fc.resolver.RequiresMemory(leaf) {
		return errors.Errorf("%s: cannot store a scalar value into memory-class place of type %q", fc.fnName, leaf)
	}
	fc.pushRootBase(buf, p.Local)
	vt, err := emitValue(buf)
	if err != nil {
		return err
	}
	buf.store(mapScalarWasmType(vt), off)
	return nil
}

func operandType(fc *funcCtx, op mir.Operand) (mir.TypeRef, error) {
	if op.Kind == mir.OperandConstant {
		switch op.Constant.Kind {
		case mir.ConstBool:
			return "bool", nil
		case mir.ConstI32:
			return "i32", nil
		case mir.ConstI64:
			return "i64", nil
		case mir.ConstF32:
			return "f32", nil
		case mir.ConstF64:
			return "f64", nil
		case mir.ConstUnit:
			return "unit", nil
		case mir.ConstString:
			return "", errors.New("emitter: string constants require heap materialisation, not supported by this scalar-rvalue path")
		}
	}
	return fc.placeType(op.Place)
}

func (fc *funcCtx) emitOperand(buf *codeBuf, op mir.Operand) (mir.TypeRef, error) {
	if op.Kind == mir.OperandConstant {
		c := op.Constant
		switch c.Kind {
		case mir.ConstBool:
			if c.I != 0 {
				buf.i32Const(1)
			} else {
				buf.i32Const(0)
			}
			return "bool", nil
		case mir.ConstI32:
			buf.i32Const(int32(c.I))
			return "i32", nil
		case mir.ConstI64:
			buf.i64Const(c.I)
			return "i64", nil
		case mir.ConstF32:
			buf.f32Const(float32(c.F))
			return "f32", nil
		case mir.ConstF64:
			buf.f64Const(c.F)
			return "f64", nil
		case mir.ConstUnit:
			buf.i32Const(0)
			return "unit", nil
		default:
			return "", errors.New("emitter: string constants require heap materialisation, not supported by this scalar-rvalue path")
		}
	}
	return fc.emitLoadValue(buf, op.Place)
}

// emitRValueScalar lowers an r-value that produces a single scalar wasm
// value, pushing exactly one value on the stack.
func (fc *funcCtx) emitRValueScalar(buf *codeBuf, rv mir.RValue) (mir.TypeRef, error) {
	switch rv.Kind {
	case mir.RValueUse:
		return fc.emitOperand(buf, rv.Operand)
	case mir.RValueAddressOf:
		ty, err := fc.emitPlaceAddress(buf, rv.Operand.Place)
		if err != nil {
			return "", err
		}
		return ty, nil
	case mir.RValueUnary:
		ty, err := fc.emitOperand(buf, rv.Operand)
		if err != nil {
			return "", err
		}
		vt := mapScalarWasmType(ty)
		switch rv.UnOp {
		case mir.UnNeg:
			if err := emitNeg(buf, vt); err != nil {
				return "", err
			}
		case mir.UnNot:
			emitNot(buf, vt)
		}
		return ty, nil
	case mir.RValueBinary:
		lty, err := operandType(fc, rv.LHS)
		if err != nil {
			return "", err
		}
		vt := mapScalarWasmType(lty)
		if _, err := fc.emitOperand(buf, rv.LHS); err != nil {
			return "", err
		}
		if _, err := fc.emitOperand(buf, rv.RHS); err != nil {
			return "", err
		}
		op, resultTy, err := binOpcode(rv.BinOp, vt, lty)
		if err != nil {
			return "", err
		}
		buf.op(op)
		return resultTy, nil
	case mir.RValueCast:
		if _, err := fc.emitOperand(buf, rv.Operand); err != nil {
			return "", err
		}
		op, err := castOpcode(rv.Cast)
		if err != nil {
			return "", err
		}
		if op != 0 {
			buf.op(op)
		}
		return rv.CastType, nil
	default:
		return "", errors.Errorf("emitter: %s: r-value kind %v is not a scalar expression", fc.fnName, rv.Kind)
	}
}

func emitNeg(buf *codeBuf, vt binary.ValueType) error {
	switch vt {
	case binary.ValueTypeI32:
		// stack already holds x; 0 - x would need x pushed after 0, so
		// negate via multiplication by -1 instead of re-sequencing the stack.
		buf.i32Const(-1)
		buf.op(binary.OpI32Mul)
		return nil
	case binary.ValueTypeI64:
		buf.i64Const(-1)
		buf.op(binary.OpI64Mul)
		return nil
	case binary.ValueTypeF32:
		buf.op(binary.OpF32Neg)
		return nil
	case binary.ValueTypeF64:
		buf.op(binary.OpF64Neg)
		return nil
	}
	return errors.New("emitter: unsupported type for unary negation")
}

func emitNot(buf *codeBuf, vt binary.ValueType) {
	switch vt {
	case binary.ValueTypeI64:
		buf.i64Const(-1)
		buf.op(binary.OpI64Xor)
	default:
		buf.i32Const(-1)
		buf.op(binary.OpI32Xor)
	}
}

func castOpcode(k mir.CastKind) (binary.Opcode, error) {
	switch k {
	case mir.CastI32ToI64Signed:
		return binary.OpI64ExtendI32S, nil
	case mir.CastI32ToI64Unsigned:
		return binary.OpI64ExtendI32U, nil
	case mir.CastI64ToI32Wrap:
		return binary.OpI32WrapI64, nil
	case mir.CastI32ToF32:
		return binary.OpF32ConvertI32S, nil
	case mir.CastI32ToF64:
		return binary.OpF64ConvertI32S, nil
	case mir.CastF32ToF64:
		return binary.OpF64PromoteF32, nil
	case mir.CastF64ToF32:
		return binary.OpF32DemoteF64, nil
	case mir.CastF32ToI32Trunc:
		return binary.OpI32TruncF32S, nil
	case mir.CastF64ToI32Trunc:
		return binary.OpI32TruncF64S, nil
	case mir.CastPtrBitcast:
		return 0, nil // no-op at the wasm level; both sides are i32
	}
	return 0, errors.Errorf("emitter: unsupported cast kind %v", k)
}

// binOpcode resolves bo against the wasm value type its operands share,
// returning the resulting opcode and the MIR type of the expression result
// (comparisons and logical ops always yield i32/bool regardless of input type).
func binOpcode(bo mir.BinOp, vt binary.ValueType, operandTy mir.TypeRef) (binary.Opcode, mir.TypeRef, error) {
	isCmp := false
	switch bo {
	case mir.BinEq, mir.BinNe, mir.BinLtSigned, mir.BinLtUnsigned, mir.BinLeSigned, mir.BinLeUnsigned,
		mir.BinGtSigned, mir.BinGtUnsigned, mir.BinGeSigned, mir.BinGeUnsigned:
		isCmp = true
	}
	resultTy := operandTy
	if isCmp {
		resultTy = "bool"
	}

	var op binary.Opcode
	switch vt {
	case binary.ValueTypeI32:
		switch bo {
		case mir.BinAdd:
			op = binary.OpI32Add
		case mir.BinSub:
			op = binary.OpI32Sub
		case mir.BinMul:
			op = binary.OpI32Mul
		case mir.BinDivSigned:
			op = binary.OpI32DivS
		case mir.BinDivUnsigned:
			op = binary.OpI32DivU
		case mir.BinRemSigned:
			op = binary.OpI32RemS
		case mir.BinRemUnsigned:
			op = binary.OpI32RemU
		case mir.BinAnd:
			op = binary.OpI32And
		case mir.BinOr:
			op = binary.OpI32Or
		case mir.BinXor:
			op = binary.OpI32Xor
		case mir.BinShl:
			op = binary.OpI32Shl
		case mir.BinShrSigned:
			op = binary.OpI32ShrS
		case mir.BinShrUnsigned:
			op = binary.OpI32ShrU
		case mir.BinEq:
			op = binary.OpI32Eq
		case mir.BinNe:
			op = binary.OpI32Ne
		case mir.BinLtSigned:
			op = binary.OpI32LtS
		case mir.BinLtUnsigned:
			op = binary.OpI32LtU
		case mir.BinLeSigned:
			op = binary.OpI32LeS
		case mir.BinLeUnsigned:
			op = binary.OpI32LeU
		case mir.BinGtSigned:
			op = binary.OpI32GtS
		case mir.BinGtUnsigned:
			op = binary.OpI32GtU
		case mir.BinGeSigned:
			op = binary.OpI32GeS
		case mir.BinGeUnsigned:
			op = binary.OpI32GeU
		default:
			return 0, "", errors.Errorf("emitter: unsupported i32 binop %v", bo)
		}
	case binary.ValueTypeI64:
		switch bo {
		case mir.BinAdd:
			op = binary.OpI64Add
		case mir.BinSub:
			op = binary.OpI64Sub
		case mir.BinMul:
			op = binary.OpI64Mul
		case mir.BinDivSigned:
			op = binary.OpI64DivS
		case mir.BinDivUnsigned:
			op = binary.OpI64DivU
		case mir.BinRemSigned:
			op = binary.OpI64RemS
		case mir.BinRemUnsigned:
			op = binary.OpI64RemU
		case mir.BinAnd:
			op = binary.OpI64And
		case mir.BinOr:
			op = binary.OpI64Or
		case mir.BinXor:
			op = binary.OpI64Xor
		case mir.BinShl:
			op = binary.OpI64Shl
		case mir.BinShrSigned:
			op = binary.OpI64ShrS
		case mir.BinShrUnsigned:
			op = binary.OpI64ShrU
		case mir.BinEq:
			op = binary.OpI64Eq
		case mir.BinNe:
			op = binary.OpI64Ne
		case mir.BinLtSigned:
			op = binary.OpI64LtS
		case mir.BinLtUnsigned:
			op = binary.OpI64LtU
		case mir.BinLeSigned:
			op = binary.OpI64LeS
		case mir.BinLeUnsigned:
			op = binary.OpI64LeU
		case mir.BinGtSigned:
			op = binary.OpI64GtS
		case mir.BinGtUnsigned:
			op = binary.OpI64GtU
		case mir.BinGeSigned:
			op = binary.OpI64GeS
		case mir.BinGeUnsigned:
			op = binary.OpI64GeU
		default:
			return 0, "", errors.Errorf("emitter: unsupported i64 binop %v", bo)
		}
		if isCmp {
			resultTy = "bool"
		}
	case binary.ValueTypeF32:
		op, err := floatBinOp(bo, false)
		if err != nil {
			return 0, "", err
		}
		return op, resultTy, nil
	case binary.ValueTypeF64:
		op, err := floatBinOp(bo, true)
		if err != nil {
			return 0, "", err
		}
		return op, resultTy, nil
	}
	return op, resultTy, nil
}

func floatBinOp(bo mir.BinOp, is64 bool) (binary.Opcode, error) {
	if is64 {
		switch bo {
		case mir.BinAdd:
			return binary.OpF64Add, nil
		case mir.BinSub:
			return binary.OpF64Sub, nil
		case mir.BinMul:
			return binary.OpF64Mul, nil
		case mir.BinDivSigned, mir.BinDivUnsigned:
			return binary.OpF64Div, nil
		case mir.BinEq:
			return binary.OpF64Eq, nil
		case mir.BinNe:
			return binary.OpF64Ne, nil
		case mir.BinLtSigned, mir.BinLtUnsigned:
			return binary.OpF64Lt, nil
		case mir.BinLeSigned, mir.BinLeUnsigned:
			return binary.OpF64Le, nil
		case mir.BinGtSigned, mir.BinGtUnsigned:
			return binary.OpF64Gt, nil
		case mir.BinGeSigned, mir.BinGeUnsigned:
			return binary.OpF64Ge, nil
		}
		return 0, errors.Errorf("emitter: unsupported f64 binop %v", bo)
	}
	switch bo {
	case mir.BinAdd:
		return binary.OpF32Add, nil
	case mir.BinSub:
		return binary.OpF32Sub, nil
	case mir.BinMul:
		return binary.OpF32Mul, nil
	case mir.BinDivSigned, mir.BinDivUnsigned:
		return binary.OpF32Div, nil
	case mir.BinEq:
		return binary.OpF32Eq, nil
	case mir.BinNe:
		return binary.OpF32Ne, nil
	case mir.BinLtSigned, mir.BinLtUnsigned:
		return binary.OpF32Lt, nil
	case mir.BinLeSigned, mir.BinLeUnsigned:
		return binary.OpF32Le, nil
	case mir.BinGtSigned, mir.BinGtUnsigned:
		return binary.OpF32Gt, nil
	case mir.BinGeSigned, mir.BinGeUnsigned:
		return binary.OpF32Ge, nil
	}
	return 0, errors.Errorf("emitter: unsupported f32 binop %v", bo)
}
