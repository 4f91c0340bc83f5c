package module

import (
	"bytes"
	stdbinary "encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/Chic-lang/Chic-sub011/internal/leb128"
	"github.com/Chic-lang/Chic-sub011/internal/wasmgen/binary"
)

// Encode serializes m into a complete wasm32 binary module: the 8-byte
// preamble followed by sections in the fixed order spec.md §6 requires
// (type, import, function, table, memory, global, export, element, code),
// with custom sections threaded in at the documented slots.
func Encode(m *Module) ([]byte, error) {
	var out bytes.Buffer
	out.Write(binary.Magic[:])
	out.Write(binary.Version[:])

	if len(m.Types) > 0 {
		writeSection(&out, binary.SectionType, encodeTypeSection(m))
	}
	if len(m.Imports) > 0 {
		writeSection(&out, binary.SectionImport, encodeImportSection(m))
	}
	if len(m.FuncTypeIndices) > 0 {
		writeSection(&out, binary.SectionFunction, encodeFunctionSection(m))
	}
	if m.TableMin > 0 {
		writeSection(&out, binary.SectionTable, encodeTableSection(m))
	}
	writeSection(&out, binary.SectionMemory, encodeMemorySection(m))
	if len(m.Globals) > 0 {
		writeSection(&out, binary.SectionGlobal, encodeGlobalSection(m))
	}
	if len(m.Exports) > 0 {
		writeSection(&out, binary.SectionExport, encodeExportSection(m))
	}
	if c, ok := findCustom(m, "chic.metadata"); ok {
		writeCustomSection(&out, c)
	}
	if len(m.Elements) > 0 {
		writeSection(&out, binary.SectionElement, encodeElementSection(m))
	}
	if len(m.Code) > 0 {
		body, err := encodeCodeSection(m)
		if err != nil {
			return nil, errors.Wrap(err, "encode code section")
		}
		writeSection(&out, binary.SectionCode, body)
	}
	for _, c := range m.Customs {
		if c.Name == "chic.metadata" {
			continue
		}
		writeCustomSection(&out, c)
	}
	return out.Bytes(), nil
}

func findCustom(m *Module, name string) (CustomSection, bool) {
	for _, c := range m.Customs {
		if c.Name == name {
			return c, true
		}
	}
	return CustomSection{}, false
}

func writeSection(out *bytes.Buffer, id binary.SectionID, body []byte) {
	out.WriteByte(byte(id))
	out.Write(leb128.EncodeUint32(uint32(len(body))))
	out.Write(body)
}

func writeCustomSection(out *bytes.Buffer, c CustomSection) {
	var body bytes.Buffer
	writeName(&body, c.Name)
	body.Write(c.Data)
	writeSection(out, binary.SectionCustom, body.Bytes())
}

func writeName(out *bytes.Buffer, s string) {
	out.Write(leb128.EncodeUint32(uint32(len(s))))
	out.WriteString(s)
}

func encodeTypeSection(m *Module) []byte {
	var b bytes.Buffer
	b.Write(leb128.EncodeUint32(uint32(len(m.Types))))
	for _, t := range m.Types {
		b.WriteByte(0x60) // functype tag
		b.Write(leb128.EncodeUint32(uint32(len(t.Params))))
		for _, p := range t.Params {
			b.WriteByte(byte(p))
		}
		b.Write(leb128.EncodeUint32(uint32(len(t.Results))))
		for _, r := range t.Results {
			b.WriteByte(byte(r))
		}
	}
	return b.Bytes()
}

func encodeImportSection(m *Module) []byte {
	var b bytes.Buffer
	b.Write(leb128.EncodeUint32(uint32(len(m.Imports))))
	for _, imp := range m.Imports {
		writeName(&b, imp.Module)
		writeName(&b, imp.Name)
		b.WriteByte(byte(binary.ExternalKindFunc))
		b.Write(leb128.EncodeUint32(imp.TypeIndex))
	}
	return b.Bytes()
}

func encodeFunctionSection(m *Module) []byte {
	var b bytes.Buffer
	b.Write(leb128.EncodeUint32(uint32(len(m.FuncTypeIndices))))
	for _, idx := range m.FuncTypeIndices {
		b.Write(leb128.EncodeUint32(idx))
	}
	return b.Bytes()
}

func encodeTableSection(m *Module) []byte {
	var b bytes.Buffer
	b.Write(leb128.EncodeUint32(1))
	b.WriteByte(0x70) // funcref
	b.WriteByte(0x00) // flags: min only
	b.Write(leb128.EncodeUint32(m.TableMin))
	return b.Bytes()
}

func encodeMemorySection(m *Module) []byte {
	var b bytes.Buffer
	b.Write(leb128.EncodeUint32(1))
	if m.Memory.HasMax {
		b.WriteByte(0x01)
		b.Write(leb128.EncodeUint32(m.Memory.Min))
		b.Write(leb128.EncodeUint32(m.Memory.Max))
	} else {
		b.WriteByte(0x00)
		b.Write(leb128.EncodeUint32(m.Memory.Min))
	}
	return b.Bytes()
}

func encodeGlobalSection(m *Module) []byte {
	var b bytes.Buffer
	b.Write(leb128.EncodeUint32(uint32(len(m.Globals))))
	for _, g := range m.Globals {
		b.WriteByte(byte(g.Type))
		if g.Mutable {
			b.WriteByte(0x01)
		} else {
			b.WriteByte(0x00)
		}
		switch g.Type {
		case binary.ValueTypeI32:
			b.WriteByte(byte(binary.OpI32Const))
			b.Write(leb128.EncodeInt32(int32(g.Init)))
		case binary.ValueTypeI64:
			b.WriteByte(byte(binary.OpI64Const))
			b.Write(leb128.EncodeInt64(g.Init))
		}
		b.WriteByte(byte(binary.OpEnd))
	}
	return b.Bytes()
}

func encodeExportSection(m *Module) []byte {
	var b bytes.Buffer
	b.Write(leb128.EncodeUint32(uint32(len(m.Exports))))
	for _, e := range m.Exports {
		writeName(&b, e.Name)
		b.WriteByte(byte(e.Kind))
		b.Write(leb128.EncodeUint32(e.Index))
	}
	return b.Bytes()
}

func encodeElementSection(m *Module) []byte {
	var b bytes.Buffer
	b.Write(leb128.EncodeUint32(uint32(len(m.Elements))))
	for _, el := range m.Elements {
		b.Write(leb128.EncodeUint32(0)) // table index 0, active segment
		b.WriteByte(byte(binary.OpI32Const))
		b.Write(leb128.EncodeInt32(int32(el.Offset)))
		b.WriteByte(byte(binary.OpEnd))
		b.Write(leb128.EncodeUint32(uint32(len(el.FuncIndices))))
		for _, fi := range el.FuncIndices {
			b.Write(leb128.EncodeUint32(fi))
		}
	}
	return b.Bytes()
}

func encodeCodeSection(m *Module) ([]byte, error) {
	var b bytes.Buffer
	b.Write(leb128.EncodeUint32(uint32(len(m.Code))))
	for _, entry := range m.Code {
		var body bytes.Buffer
		body.Write(leb128.EncodeUint32(uint32(len(entry.Locals))))
		for _, lg := range entry.Locals {
			body.Write(leb128.EncodeUint32(lg.Count))
			body.WriteByte(byte(lg.Type))
		}
		body.Write(entry.Body)
		b.Write(leb128.EncodeUint32(uint32(body.Len())))
		b.Write(body.Bytes())
	}
	return b.Bytes(), nil
}

// EncodeF32Const appends an f32.const instruction for v to out.
func EncodeF32Const(out *bytes.Buffer, v float32) {
	out.WriteByte(byte(binary.OpF32Const))
	var raw [4]byte
	stdbinary.LittleEndian.PutUint32(raw[:], math.Float32bits(v))
	out.Write(raw[:])
}

// EncodeF64Const appends an f64.const instruction for v to out.
func EncodeF64Const(out *bytes.Buffer, v float64) {
	out.WriteByte(byte(binary.OpF64Const))
	var raw [8]byte
	stdbinary.LittleEndian.PutUint64(raw[:], math.Float64bits(v))
	out.Write(raw[:])
}
