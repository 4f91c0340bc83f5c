package interpreter

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	wbinary "github.com/Chic-lang/Chic-sub011/internal/wasmgen/binary"
	"github.com/Chic-lang/Chic-sub011/internal/leb128"
)

// instr is one decoded instruction: an opcode plus whatever immediates it
// carries, generic enough to serve both the control-flow prepass
// (scanControlFlow, below) and the real execution loop — one decoder,
// used both ways, grounded on tetratelabs-wazero's
// internal/wasm/func_validation.go single-pass-over-raw-bytecode shape.
type instr struct {
	op      wbinary.Opcode
	a, b    uint32
	i32     int32
	i64     int64
	f32     float32
	f64     float64
	targets []uint32
}

func decodeInstr(code []byte, pc int) (instr, int, error) {
	if pc >= len(code) {
		return instr{}, pc, errors.New("interpreter: pc ran off the end of the function body")
	}
	op := wbinary.Opcode(code[pc])
	pc++
	in := instr{op: op}

	readU32 := func() (uint32, error) {
		v, n, err := leb128.LoadUint32(code[pc:])
		if err != nil {
			return 0, err
		}
		pc += int(n)
		return v, nil
	}

	switch op {
	case wbinary.OpBlock, wbinary.OpLoop, wbinary.OpIf:
		if pc >= len(code) {
			return instr{}, pc, errors.New("interpreter: truncated block type")
		}
		in.a = uint32(code[pc])
		pc++

	case wbinary.OpBr, wbinary.OpBrIf:
		v, err := readU32()
		if err != nil {
			return instr{}, pc, err
		}
		in.a = v

	case wbinary.OpBrTable:
		count, err := readU32()
		if err != nil {
			return instr{}, pc, err
		}
		in.targets = make([]uint32, count)
		for i := range in.targets {
			v, err := readU32()
			if err != nil {
				return instr{}, pc, err
			}
			in.targets[i] = v
		}
		v, err := readU32()
		if err != nil {
			return instr{}, pc, err
		}
		in.b = v

	case wbinary.OpCall:
		v, err := readU32()
		if err != nil {
			return instr{}, pc, err
		}
		in.a = v

	case wbinary.OpCallIndirect:
		v, err := readU32()
		if err != nil {
			return instr{}, pc, err
		}
		in.a = v
		v2, err := readU32()
		if err != nil {
			return instr{}, pc, err
		}
		in.b = v2

	case wbinary.OpLocalGet, wbinary.OpLocalSet, wbinary.OpLocalTee, wbinary.OpGlobalGet, wbinary.OpGlobalSet:
		v, err := readU32()
		if err != nil {
			return instr{}, pc, err
		}
		in.a = v

	case wbinary.OpI32Load, wbinary.OpI64Load, wbinary.OpF32Load, wbinary.OpF64Load,
		wbinary.OpI32Load8S, wbinary.OpI32Load8U, wbinary.OpI32Load16S, wbinary.OpI32Load16U,
		wbinary.OpI64Load8S, wbinary.OpI64Load8U, wbinary.OpI64Load16S, wbinary.OpI64Load16U,
		wbinary.OpI64Load32S, wbinary.OpI64Load32U,
		wbinary.OpI32Store, wbinary.OpI64Store, wbinary.OpF32Store, wbinary.OpF64Store,
		wbinary.OpI32Store8, wbinary.OpI32Store16, wbinary.OpI64Store8, wbinary.OpI64Store16, wbinary.OpI64Store32:
		align, err := readU32()
		if err != nil {
			return instr{}, pc, err
		}
		offset, err := readU32()
		if err != nil {
			return instr{}, pc, err
		}
		in.a, in.b = align, offset

	case wbinary.OpMemorySize, wbinary.OpMemoryGrow:
		if pc >= len(code) {
			return instr{}, pc, errors.New("interpreter: truncated memory.size/grow")
		}
		in.a = uint32(code[pc])
		pc++

	case wbinary.OpI32Const:
		v, n, err := leb128.LoadInt32(code[pc:])
		if err != nil {
			return instr{}, pc, err
		}
		pc += int(n)
		in.i32 = v

	case wbinary.OpI64Const:
		v, n, err := leb128.LoadInt64(code[pc:])
		if err != nil {
			return instr{}, pc, err
		}
		pc += int(n)
		in.i64 = v

	case wbinary.OpF32Const:
		if pc+4 > len(code) {
			return instr{}, pc, errors.New("interpreter: truncated f32.const")
		}
		in.f32 = math.Float32frombits(binary.LittleEndian.Uint32(code[pc : pc+4]))
		pc += 4

	case wbinary.OpF64Const:
		if pc+8 > len(code) {
			return instr{}, pc, errors.New("interpreter: truncated f64.const")
		}
		in.f64 = math.Float64frombits(binary.LittleEndian.Uint64(code[pc : pc+8]))
		pc += 8
	}

	return in, pc, nil
}

// controlMatches maps every block/loop/if opcode's starting pc to the pc of
// its matching end (and, for if, the pc of its else, when present).
type controlMatches struct {
	end  map[int]int
	els  map[int]int
}

type openConstruct struct {
	startPC int
	isIf    bool
}

func scanControlFlow(code []byte) (*controlMatches, error) {
	m := &controlMatches{end: map[int]int{}, els: map[int]int{}}
	var stack []openConstruct
	pc := 0
	for pc < len(code) {
		startPC := pc
		in, next, err := decodeInstr(code, pc)
		if err != nil {
			return nil, err
		}
		switch in.op {
		case wbinary.OpBlock, wbinary.OpLoop:
			stack = append(stack, openConstruct{startPC: startPC})
		case wbinary.OpIf:
			stack = append(stack, openConstruct{startPC: startPC, isIf: true})
		case wbinary.OpElse:
			if len(stack) == 0 {
				return nil, errors.New("interpreter: else with no matching if")
			}
			top := stack[len(stack)-1]
			m.els[top.startPC] = startPC
		case wbinary.OpEnd:
			if len(stack) == 0 {
				// matches the function's own implicit outer block.
				pc = next
				continue
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			m.end[top.startPC] = startPC
		}
		pc = next
	}
	return m, nil
}
