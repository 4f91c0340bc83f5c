package interpreter

import (
	"math"
	"math/bits"

	"github.com/pkg/errors"

	wbinary "github.com/Chic-lang/Chic-sub011/internal/wasmgen/binary"
)

// label is one open block/loop/if control-flow frame. Since the emitter
// never produces a non-empty block type (blockEmpty is the only block
// opener in internal/wasmgen/emitter), a branch never needs to carry values
// across the label boundary — the value stack is always balanced at every
// end, so labels need only remember where a branch targeting them goes.
type label struct {
	isLoop  bool
	startPC int
}

// run executes one function body to completion, starting fresh locals and
// an empty value/control stack, returning the declared number of results
// popped off the top of the value stack at the final OpReturn/fallthrough.
// funcIdx is threaded through only to label CoverageHook callbacks; the
// interpreter has no notion of MIR block ids, so coverage is reported at
// wasm instruction-offset granularity instead (spec.md §4.7 "a coverage
// hook").
func (i *Interpreter) run(funcIdx uint32, code []byte, m *controlMatches, locals []uint64, numResults int) (results []uint64, err error) {
	var stack []uint64
	var labels []label
	pc := 0
	hook := i.opts.CoverageHook

	push := func(v uint64) { stack = append(stack, v) }
	pop := func() uint64 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v
	}
	pushI32 := func(v int32) { push(uint64(uint32(v))) }
	popI32 := func() int32 { return int32(uint32(pop())) }
	popU32 := func() uint32 { return uint32(pop()) }
	pushI64 := func(v int64) { push(uint64(v)) }
	popI64 := func() int64 { return int64(pop()) }
	pushF32 := func(v float32) { push(uint64(math.Float32bits(v))) }
	popF32 := func() float32 { return math.Float32frombits(uint32(pop())) }
	pushF64 := func(v float64) { push(math.Float64bits(v)) }
	popF64 := func() float64 { return math.Float64frombits(pop()) }
	pushBool := func(b bool) { pushI32(boolToI32(b)) }

	// branchTo implements one level of a br/br_if/br_table jump: labels
	// 0..k are the k+1 innermost open constructs, counted from the top.
	branchTo := func(k uint32) {
		target := labels[len(labels)-1-int(k)]
		if target.isLoop {
			labels = labels[:len(labels)-int(k)]
			pc = target.startPC + 2 // past the loop opcode and its block type byte
		} else {
			labels = labels[:len(labels)-int(k)-1]
			pc = m.end[target.startPC] + 1
		}
	}

	for pc < len(code) {
		startPC := pc
		in, next, derr := decodeInstr(code, pc)
		if derr != nil {
			return nil, derr
		}
		pc = next
		if hook != nil {
			hook(funcIdx, startPC)
		}

		switch in.op {
		case wbinary.OpUnreachable:
			return nil, errors.New("interpreter: unreachable instruction executed")

		case wbinary.OpNop:

		case wbinary.OpBlock:
			labels = append(labels, label{startPC: startPC})
		case wbinary.OpLoop:
			labels = append(labels, label{isLoop: true, startPC: startPC})
		case wbinary.OpIf:
			cond := popI32()
			lb := label{startPC: startPC}
			if cond == 0 {
				if elsePC, ok := m.els[startPC]; ok {
					pc = elsePC + 1
				} else {
					pc = m.end[startPC] + 1
					// no else: the whole construct is already behind us.
					continue
				}
			}
			labels = append(labels, lb)
		case wbinary.OpElse:
			// Reached by falling through the true branch: skip the false
			// branch entirely and close the if.
			top := labels[len(labels)-1]
			labels = labels[:len(labels)-1]
			pc = m.end[top.startPC] + 1
		case wbinary.OpEnd:
			if len(labels) > 0 {
				labels = labels[:len(labels)-1]
			}

		case wbinary.OpBr:
			branchTo(in.a)
		case wbinary.OpBrIf:
			if popI32() != 0 {
				branchTo(in.a)
			}
		case wbinary.OpBrTable:
			idx := popU32()
			if int(idx) < len(in.targets) {
				branchTo(in.targets[idx])
			} else {
				branchTo(in.b)
			}
		case wbinary.OpReturn:
			return popResults(&stack, numResults), nil

		case wbinary.OpCall:
			ft := i.funcTypes[in.a]
			args := popArgs(&stack, len(ft.Params))
			res, cerr := i.call(in.a, args)
			if cerr != nil {
				return nil, cerr
			}
			for _, r := range res {
				push(r)
			}

		case wbinary.OpCallIndirect:
			tableIdx := popU32()
			if int(tableIdx) >= len(i.table) {
				return nil, errors.Errorf("interpreter: undefined table element %d", tableIdx)
			}
			fnIdx := i.table[tableIdx]
			if fnIdx == noTableEntry {
				return nil, errors.New("interpreter: uninitialized table element")
			}
			want := i.mod.Types[in.a]
			if !i.funcTypes[fnIdx].Equal(want) {
				return nil, errors.New("interpreter: indirect call type mismatch")
			}
			args := popArgs(&stack, len(want.Params))
			res, cerr := i.call(fnIdx, args)
			if cerr != nil {
				return nil, cerr
			}
			for _, r := range res {
				push(r)
			}

		case wbinary.OpDrop:
			pop()
		case wbinary.OpSelect:
			cond := popI32()
			b := pop()
			a := pop()
			if cond != 0 {
				push(a)
			} else {
				push(b)
			}

		case wbinary.OpLocalGet:
			push(locals[in.a])
		case wbinary.OpLocalSet:
			locals[in.a] = pop()
		case wbinary.OpLocalTee:
			locals[in.a] = stack[len(stack)-1]
		case wbinary.OpGlobalGet:
			push(uint64(i.globals[in.a]))
		case wbinary.OpGlobalSet:
			i.globals[in.a] = int64(pop())

		case wbinary.OpI32Load:
			push(uint64(leU32(i.mem.Read(popU32()+in.b, 4))))
		case wbinary.OpI64Load:
			push(leU64(i.mem.Read(popU32()+in.b, 8)))
		case wbinary.OpF32Load:
			push(uint64(leU32(i.mem.Read(popU32()+in.b, 4))))
		case wbinary.OpF64Load:
			push(leU64(i.mem.Read(popU32()+in.b, 8)))
		case wbinary.OpI32Load8S:
			pushI32(int32(int8(i.mem.Read(popU32()+in.b, 1)[0])))
		case wbinary.OpI32Load8U:
			pushI32(int32(i.mem.Read(popU32()+in.b, 1)[0]))
		case wbinary.OpI32Load16S:
			pushI32(int32(int16(leU32(i.mem.Read(popU32()+in.b, 2)))))
		case wbinary.OpI32Load16U:
			pushI32(int32(leU32(i.mem.Read(popU32()+in.b, 2))))
		case wbinary.OpI64Load8S:
			pushI64(int64(int8(i.mem.Read(popU32()+in.b, 1)[0])))
		case wbinary.OpI64Load8U:
			pushI64(int64(i.mem.Read(popU32()+in.b, 1)[0]))
		case wbinary.OpI64Load16S:
			pushI64(int64(int16(leU32(i.mem.Read(popU32()+in.b, 2)))))
		case wbinary.OpI64Load16U:
			pushI64(int64(leU32(i.mem.Read(popU32()+in.b, 2))))
		case wbinary.OpI64Load32S:
			pushI64(int64(int32(leU32(i.mem.Read(popU32()+in.b, 4)))))
		case wbinary.OpI64Load32U:
			pushI64(int64(leU32(i.mem.Read(popU32()+in.b, 4))))

		case wbinary.OpI32Store:
			v := popU32()
			addr := popU32() + in.b
			i.mem.Write(addr, leBytes(uint64(v), 4))
		case wbinary.OpI64Store:
			v := pop()
			addr := popU32() + in.b
			i.mem.Write(addr, leBytes(v, 8))
		case wbinary.OpF32Store:
			v := pop()
			addr := popU32() + in.b
			i.mem.Write(addr, leBytes(v, 4))
		case wbinary.OpF64Store:
			v := pop()
			addr := popU32() + in.b
			i.mem.Write(addr, leBytes(v, 8))
		case wbinary.OpI32Store8:
			v := popU32()
			addr := popU32() + in.b
			i.mem.Write(addr, []byte{byte(v)})
		case wbinary.OpI32Store16:
			v := popU32()
			addr := popU32() + in.b
			i.mem.Write(addr, leBytes(uint64(v), 2))
		case wbinary.OpI64Store8:
			v := pop()
			addr := popU32() + in.b
			i.mem.Write(addr, []byte{byte(v)})
		case wbinary.OpI64Store16:
			v := pop()
			addr := popU32() + in.b
			i.mem.Write(addr, leBytes(v, 2))
		case wbinary.OpI64Store32:
			v := pop()
			addr := popU32() + in.b
			i.mem.Write(addr, leBytes(v, 4))

		case wbinary.OpMemorySize:
			pushI32(int32(i.mem.pages()))
		case wbinary.OpMemoryGrow:
			delta := popU32()
			prev, ok := i.mem.Grow(delta)
			if !ok {
				pushI32(-1)
			} else {
				pushI32(int32(prev))
			}

		case wbinary.OpI32Const:
			pushI32(in.i32)
		case wbinary.OpI64Const:
			pushI64(in.i64)
		case wbinary.OpF32Const:
			pushF32(in.f32)
		case wbinary.OpF64Const:
			pushF64(in.f64)

		case wbinary.OpI32Eqz:
			pushBool(popI32() == 0)
		case wbinary.OpI32Eq:
			b, a := popI32(), popI32()
			pushBool(a == b)
		case wbinary.OpI32Ne:
			b, a := popI32(), popI32()
			pushBool(a != b)
		case wbinary.OpI32LtS:
			b, a := popI32(), popI32()
			pushBool(a < b)
		case wbinary.OpI32LtU:
			b, a := popU32(), popU32()
			pushBool(a < b)
		case wbinary.OpI32GtS:
			b, a := popI32(), popI32()
			pushBool(a > b)
		case wbinary.OpI32GtU:
			b, a := popU32(), popU32()
			pushBool(a > b)
		case wbinary.OpI32LeS:
			b, a := popI32(), popI32()
			pushBool(a <= b)
		case wbinary.OpI32LeU:
			b, a := popU32(), popU32()
			pushBool(a <= b)
		case wbinary.OpI32GeS:
			b, a := popI32(), popI32()
			pushBool(a >= b)
		case wbinary.OpI32GeU:
			b, a := popU32(), popU32()
			pushBool(a >= b)

		case wbinary.OpI64Eqz:
			pushBool(popI64() == 0)
		case wbinary.OpI64Eq:
			b, a := popI64(), popI64()
			pushBool(a == b)
		case wbinary.OpI64Ne:
			b, a := popI64(), popI64()
			pushBool(a != b)
		case wbinary.OpI64LtS:
			b, a := popI64(), popI64()
			pushBool(a < b)
		case wbinary.OpI64LtU:
			b, a := uint64(popI64()), uint64(popI64())
			pushBool(a < b)
		case wbinary.OpI64GtS:
			b, a := popI64(), popI64()
			pushBool(a > b)
		case wbinary.OpI64GtU:
			b, a := uint64(popI64()), uint64(popI64())
			pushBool(a > b)
		case wbinary.OpI64LeS:
			b, a := popI64(), popI64()
			pushBool(a <= b)
		case wbinary.OpI64LeU:
			b, a := uint64(popI64()), uint64(popI64())
			pushBool(a <= b)
		case wbinary.OpI64GeS:
			b, a := popI64(), popI64()
			pushBool(a >= b)
		case wbinary.OpI64GeU:
			b, a := uint64(popI64()), uint64(popI64())
			pushBool(a >= b)

		case wbinary.OpF32Eq:
			b, a := popF32(), popF32()
			pushBool(a == b)
		case wbinary.OpF32Ne:
			b, a := popF32(), popF32()
			pushBool(a != b)
		case wbinary.OpF32Lt:
			b, a := popF32(), popF32()
			pushBool(a < b)
		case wbinary.OpF32Gt:
			b, a := popF32(), popF32()
			pushBool(a > b)
		case wbinary.OpF32Le:
			b, a := popF32(), popF32()
			pushBool(a <= b)
		case wbinary.OpF32Ge:
			b, a := popF32(), popF32()
			pushBool(a >= b)

		case wbinary.OpF64Eq:
			b, a := popF64(), popF64()
			pushBool(a == b)
		case wbinary.OpF64Ne:
			b, a := popF64(), popF64()
			pushBool(a != b)
		case wbinary.OpF64Lt:
			b, a := popF64(), popF64()
			pushBool(a < b)
		case wbinary.OpF64Gt:
			b, a := popF64(), popF64()
			pushBool(a > b)
		case wbinary.OpF64Le:
			b, a := popF64(), popF64()
			pushBool(a <= b)
		case wbinary.OpF64Ge:
			b, a := popF64(), popF64()
			pushBool(a >= b)

		case wbinary.OpI32Clz:
			pushI32(int32(bits.LeadingZeros32(uint32(popI32()))))
		case wbinary.OpI32Ctz:
			pushI32(int32(bits.TrailingZeros32(uint32(popI32()))))
		case wbinary.OpI32Popcnt:
			pushI32(int32(bits.OnesCount32(uint32(popI32()))))
		case wbinary.OpI32Add:
			b, a := popI32(), popI32()
			pushI32(a + b)
		case wbinary.OpI32Sub:
			b, a := popI32(), popI32()
			pushI32(a - b)
		case wbinary.OpI32Mul:
			b, a := popI32(), popI32()
			pushI32(a * b)
		case wbinary.OpI32DivS:
			b, a := popI32(), popI32()
			if b == 0 {
				return nil, errors.New("interpreter: integer divide by zero")
			}
			if a == math.MinInt32 && b == -1 {
				return nil, errors.New("interpreter: integer overflow")
			}
			pushI32(a / b)
		case wbinary.OpI32DivU:
			b, a := popU32(), popU32()
			if b == 0 {
				return nil, errors.New("interpreter: integer divide by zero")
			}
			pushI32(int32(a / b))
		case wbinary.OpI32RemS:
			b, a := popI32(), popI32()
			if b == 0 {
				return nil, errors.New("interpreter: integer divide by zero")
			}
			pushI32(a % b)
		case wbinary.OpI32RemU:
			b, a := popU32(), popU32()
			if b == 0 {
				return nil, errors.New("interpreter: integer divide by zero")
			}
			pushI32(int32(a % b))
		case wbinary.OpI32And:
			b, a := popI32(), popI32()
			pushI32(a & b)
		case wbinary.OpI32Or:
			b, a := popI32(), popI32()
			pushI32(a | b)
		case wbinary.OpI32Xor:
			b, a := popI32(), popI32()
			pushI32(a ^ b)
		case wbinary.OpI32Shl:
			b, a := popU32(), popI32()
			pushI32(a << (b & 31))
		case wbinary.OpI32ShrS:
			b, a := popU32(), popI32()
			pushI32(a >> (b & 31))
		case wbinary.OpI32ShrU:
			b, a := popU32(), popU32()
			pushI32(int32(a >> (b & 31)))
		case wbinary.OpI32Rotl:
			b, a := popU32(), popU32()
			pushI32(int32(bits.RotateLeft32(a, int(b&31))))
		case wbinary.OpI32Rotr:
			b, a := popU32(), popU32()
			pushI32(int32(bits.RotateLeft32(a, -int(b&31))))

		case wbinary.OpI64Clz:
			pushI64(int64(bits.LeadingZeros64(uint64(popI64()))))
		case wbinary.OpI64Ctz:
			pushI64(int64(bits.TrailingZeros64(uint64(popI64()))))
		case wbinary.OpI64Popcnt:
			pushI64(int64(bits.OnesCount64(uint64(popI64()))))
		case wbinary.OpI64Add:
			b, a := popI64(), popI64()
			pushI64(a + b)
		case wbinary.OpI64Sub:
			b, a := popI64(), popI64()
			pushI64(a - b)
		case wbinary.OpI64Mul:
			b, a := popI64(), popI64()
			pushI64(a * b)
		case wbinary.OpI64DivS:
			b, a := popI64(), popI64()
			if b == 0 {
				return nil, errors.New("interpreter: integer divide by zero")
			}
			if a == math.MinInt64 && b == -1 {
				return nil, errors.New("interpreter: integer overflow")
			}
			pushI64(a / b)
		case wbinary.OpI64DivU:
			b, a := uint64(popI64()), uint64(popI64())
			if b == 0 {
				return nil, errors.New("interpreter: integer divide by zero")
			}
			pushI64(int64(a / b))
		case wbinary.OpI64RemS:
			b, a := popI64(), popI64()
			if b == 0 {
				return nil, errors.New("interpreter: integer divide by zero")
			}
			pushI64(a % b)
		case wbinary.OpI64RemU:
			b, a := uint64(popI64()), uint64(popI64())
			if b == 0 {
				return nil, errors.New("interpreter: integer divide by zero")
			}
			pushI64(int64(a % b))
		case wbinary.OpI64And:
			b, a := popI64(), popI64()
			pushI64(a & b)
		case wbinary.OpI64Or:
			b, a := popI64(), popI64()
			pushI64(a | b)
		case wbinary.OpI64Xor:
			b, a := popI64(), popI64()
			pushI64(a ^ b)
		case wbinary.OpI64Shl:
			b, a := uint64(popI64()), popI64()
			pushI64(a << (b & 63))
		case wbinary.OpI64ShrS:
			b, a := uint64(popI64()), popI64()
			pushI64(a >> (b & 63))
		case wbinary.OpI64ShrU:
			b, a := uint64(popI64()), uint64(popI64())
			pushI64(int64(a >> (b & 63)))
		case wbinary.OpI64Rotl:
			b, a := uint64(popI64()), uint64(popI64())
			pushI64(int64(bits.RotateLeft64(a, int(b&63))))
		case wbinary.OpI64Rotr:
			b, a := uint64(popI64()), uint64(popI64())
			pushI64(int64(bits.RotateLeft64(a, -int(b&63))))

		case wbinary.OpF32Abs:
			pushF32(float32(math.Abs(float64(popF32()))))
		case wbinary.OpF32Neg:
			pushF32(-popF32())
		case wbinary.OpF32Ceil:
			pushF32(float32(math.Ceil(float64(popF32()))))
		case wbinary.OpF32Floor:
			pushF32(float32(math.Floor(float64(popF32()))))
		case wbinary.OpF32Trunc:
			pushF32(float32(math.Trunc(float64(popF32()))))
		case wbinary.OpF32Nearest:
			pushF32(float32(math.RoundToEven(float64(popF32()))))
		case wbinary.OpF32Sqrt:
			pushF32(float32(math.Sqrt(float64(popF32()))))
		case wbinary.OpF32Add:
			b, a := popF32(), popF32()
			pushF32(a + b)
		case wbinary.OpF32Sub:
			b, a := popF32(), popF32()
			pushF32(a - b)
		case wbinary.OpF32Mul:
			b, a := popF32(), popF32()
			pushF32(a * b)
		case wbinary.OpF32Div:
			b, a := popF32(), popF32()
			pushF32(a / b)
		case wbinary.OpF32Min:
			b, a := popF32(), popF32()
			pushF32(float32(math.Min(float64(a), float64(b))))
		case wbinary.OpF32Max:
			b, a := popF32(), popF32()
			pushF32(float32(math.Max(float64(a), float64(b))))
		case wbinary.OpF32Copysign:
			b, a := popF32(), popF32()
			pushF32(float32(math.Copysign(float64(a), float64(b))))

		case wbinary.OpF64Abs:
			pushF64(math.Abs(popF64()))
		case wbinary.OpF64Neg:
			pushF64(-popF64())
		case wbinary.OpF64Ceil:
			pushF64(math.Ceil(popF64()))
		case wbinary.OpF64Floor:
			pushF64(math.Floor(popF64()))
		case wbinary.OpF64Trunc:
			pushF64(math.Trunc(popF64()))
		case wbinary.OpF64Nearest:
			pushF64(math.RoundToEven(popF64()))
		case wbinary.OpF64Sqrt:
			pushF64(math.Sqrt(popF64()))
		case wbinary.OpF64Add:
			b, a := popF64(), popF64()
			pushF64(a + b)
		case wbinary.OpF64Sub:
			b, a := popF64(), popF64()
			pushF64(a - b)
		case wbinary.OpF64Mul:
			b, a := popF64(), popF64()
			pushF64(a * b)
		case wbinary.OpF64Div:
			b, a := popF64(), popF64()
			pushF64(a / b)
		case wbinary.OpF64Min:
			b, a := popF64(), popF64()
			pushF64(math.Min(a, b))
		case wbinary.OpF64Max:
			b, a := popF64(), popF64()
			pushF64(math.Max(a, b))
		case wbinary.OpF64Copysign:
			b, a := popF64(), popF64()
			pushF64(math.Copysign(a, b))

		case wbinary.OpI32WrapI64:
			pushI32(int32(popI64()))
		case wbinary.OpI32TruncF32S:
			pushI32(int32(popF32()))
		case wbinary.OpI32TruncF32U:
			pushI32(int32(uint32(popF32())))
		case wbinary.OpI32TruncF64S:
			pushI32(int32(popF64()))
		case wbinary.OpI32TruncF64U:
			pushI32(int32(uint32(popF64())))
		case wbinary.OpI64ExtendI32S:
			pushI64(int64(popI32()))
		case wbinary.OpI64ExtendI32U:
			pushI64(int64(uint32(popI32())))
		case wbinary.OpI64TruncF32S:
			pushI64(int64(popF32()))
		case wbinary.OpI64TruncF32U:
			pushI64(int64(uint64(popF32())))
		case wbinary.OpI64TruncF64S:
			pushI64(int64(popF64()))
		case wbinary.OpI64TruncF64U:
			pushI64(int64(uint64(popF64())))
		case wbinary.OpF32ConvertI32S:
			pushF32(float32(popI32()))
		case wbinary.OpF32ConvertI32U:
			pushF32(float32(popU32()))
		case wbinary.OpF32ConvertI64S:
			pushF32(float32(popI64()))
		case wbinary.OpF32ConvertI64U:
			pushF32(float32(uint64(popI64())))
		case wbinary.OpF32DemoteF64:
			pushF32(float32(popF64()))
		case wbinary.OpF64ConvertI32S:
			pushF64(float64(popI32()))
		case wbinary.OpF64ConvertI32U:
			pushF64(float64(popU32()))
		case wbinary.OpF64ConvertI64S:
			pushF64(float64(popI64()))
		case wbinary.OpF64ConvertI64U:
			pushF64(float64(uint64(popI64())))
		case wbinary.OpF64PromoteF32:
			pushF64(float64(popF32()))
		case wbinary.OpI32ReinterpretF32:
			push(uint64(uint32(pop())))
		case wbinary.OpI64ReinterpretF64:
			push(pop())
		case wbinary.OpF32ReinterpretI32:
			push(uint64(uint32(pop())))
		case wbinary.OpF64ReinterpretI64:
			push(pop())

		case wbinary.OpI32Extend8S:
			pushI32(int32(int8(popI32())))
		case wbinary.OpI32Extend16S:
			pushI32(int32(int16(popI32())))
		case wbinary.OpI64Extend8S:
			pushI64(int64(int8(popI64())))
		case wbinary.OpI64Extend16S:
			pushI64(int64(int16(popI64())))
		case wbinary.OpI64Extend32S:
			pushI64(int64(int32(popI64())))

		default:
			return nil, errors.Errorf("interpreter: unsupported opcode 0x%02X", byte(in.op))
		}
	}

	return popResults(&stack, numResults), nil
}

func popResults(stack *[]uint64, n int) []uint64 {
	s := *stack
	if n == 0 {
		return nil
	}
	out := make([]uint64, n)
	copy(out, s[len(s)-n:])
	return out
}

func popArgs(stack *[]uint64, n int) []uint64 {
	s := *stack
	args := make([]uint64, n)
	copy(args, s[len(s)-n:])
	*stack = s[:len(s)-n]
	return args
}

func boolToI32(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

func leU32(b []byte) uint32 {
	var v uint32
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint32(b[i])
	}
	return v
}

func leU64(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func leBytes(v uint64, n int) []byte {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = byte(v)
		v >>= 8
	}
	return out
}
