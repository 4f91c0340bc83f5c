package emitter

import (
	"bytes"

	"github.com/Chic-lang/Chic-sub011/internal/leb128"
	"github.com/Chic-lang/Chic-sub011/internal/wasmgen/binary"
	"github.com/Chic-lang/Chic-sub011/internal/wasmgen/module"
)

// codeBuf accumulates one function's instruction stream.
type codeBuf struct {
	bytes.Buffer
}

func (c *codeBuf) op(o binary.Opcode) { c.WriteByte(byte(o)) }

func (c *codeBuf) u32(v uint32) { c.Write(leb128.EncodeUint32(v)) }
func (c *codeBuf) i32(v int32)  { c.Write(leb128.EncodeInt32(v)) }
func (c *codeBuf) i64(v int64)  { c.Write(leb128.EncodeInt64(v)) }

func (c *codeBuf) f32Const(v float32) { module.EncodeF32Const(&c.Buffer, v) }
func (c *codeBuf) f64Const(v float64) { module.EncodeF64Const(&c.Buffer, v) }

func (c *codeBuf) i32Const(v int32) {
	c.op(binary.OpI32Const)
	c.i32(v)
}

func (c *codeBuf) i64Const(v int64) {
	c.op(binary.OpI64Const)
	c.i64(v)
}

func (c *codeBuf) localGet(idx uint32) {
	c.op(binary.OpLocalGet)
	c.u32(idx)
}

func (c *codeBuf) localSet(idx uint32) {
	c.op(binary.OpLocalSet)
	c.u32(idx)
}

func (c *codeBuf) localTee(idx uint32) {
	c.op(binary.OpLocalTee)
	c.u32(idx)
}

func (c *codeBuf) globalGet(idx uint32) {
	c.op(binary.OpGlobalGet)
	c.u32(idx)
}

func (c *codeBuf) globalSet(idx uint32) {
	c.op(binary.OpGlobalSet)
	c.u32(idx)
}

// memArg appends the (align, offset) immediate pair every load/store carries.
// align is the log2 of the natural alignment; 2 (4-byte) is a safe default
// for i32/f32, 3 (8-byte) for i64/f64.
func (c *codeBuf) memArg(align uint32, offset uint32) {
	c.u32(align)
	c.u32(offset)
}

func (c *codeBuf) load(ty binary.ValueType, offset uint32) {
	switch ty {
	case binary.ValueTypeI32:
		c.op(binary.OpI32Load)
		c.memArg(2, offset)
	case binary.ValueTypeI64:
		c.op(binary.OpI64Load)
		c.memArg(3, offset)
	case binary.ValueTypeF32:
		c.op(binary.OpF32Load)
		c.memArg(2, offset)
	case binary.ValueTypeF64:
		c.op(binary.OpF64Load)
		c.memArg(3, offset)
	}
}

func (c *codeBuf) store(ty binary.ValueType, offset uint32) {
	switch ty {
	case binary.ValueTypeI32:
		c.op(binary.OpI32Store)
		c.memArg(2, offset)
	case binary.ValueTypeI64:
		c.op(binary.OpI64Store)
		c.memArg(3, offset)
	case binary.ValueTypeF32:
		c.op(binary.OpF32Store)
		c.memArg(2, offset)
	case binary.ValueTypeF64:
		c.op(binary.OpF64Store)
		c.memArg(3, offset)
	}
}

func (c *codeBuf) blockEmpty(o binary.Opcode) {
	c.op(o)
	c.WriteByte(binary.BlockTypeEmpty)
}

func (c *codeBuf) brTable(targets []uint32, def uint32) {
	c.op(binary.OpBrTable)
	c.u32(uint32(len(targets)))
	for _, t := range targets {
		c.u32(t)
	}
	c.u32(def)
}

func (c *codeBuf) call(funcIdx uint32) {
	c.op(binary.OpCall)
	c.u32(funcIdx)
}

func (c *codeBuf) callIndirect(typeIdx uint32) {
	c.op(binary.OpCallIndirect)
	c.u32(typeIdx)
	c.u32(0) // table index, always 0
}
