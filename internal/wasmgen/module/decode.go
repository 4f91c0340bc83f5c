package module

import (
	"github.com/pkg/errors"

	"github.com/Chic-lang/Chic-sub011/internal/leb128"
	"github.com/Chic-lang/Chic-sub011/internal/wasmgen/binary"
)

// Decode parses a complete wasm32 binary module produced by Encode. It
// understands exactly the section shapes this backend emits (spec.md §6);
// anything else the wasm spec allows but we never produce (data section,
// start section, multiple tables/memories) is rejected rather than silently
// dropped, since a module this decoder can't fully account for should not be
// handed to the interpreter.
func Decode(data []byte) (*Module, error) {
	d := &decoder{buf: data}
	if err := d.preamble(); err != nil {
		return nil, err
	}
	m := &Module{}
	for d.pos < len(d.buf) {
		id, err := d.readByte()
		if err != nil {
			return nil, err
		}
		size, err := d.readU32()
		if err != nil {
			return nil, errors.Wrap(err, "section size")
		}
		start := d.pos
		end := start + int(size)
		if end > len(d.buf) {
			return nil, errors.Errorf("section %d: body overruns module", id)
		}
		body := d.buf[start:end]
		switch binary.SectionID(id) {
		case binary.SectionType:
			if err := decodeTypeSection(body, m); err != nil {
				return nil, err
			}
		case binary.SectionImport:
			if err := decodeImportSection(body, m); err != nil {
				return nil, err
			}
		case binary.SectionFunction:
			if err := decodeFunctionSection(body, m); err != nil {
				return nil, err
			}
		case binary.SectionTable:
			if err := decodeTableSection(body, m); err != nil {
				return nil, err
			}
		case binary.SectionMemory:
			if err := decodeMemorySection(body, m); err != nil {
				return nil, err
			}
		case binary.SectionGlobal:
			if err := decodeGlobalSection(body, m); err != nil {
				return nil, err
			}
		case binary.SectionExport:
			if err := decodeExportSection(body, m); err != nil {
				return nil, err
			}
		case binary.SectionElement:
			if err := decodeElementSection(body, m); err != nil {
				return nil, err
			}
		case binary.SectionCode:
			if err := decodeCodeSection(body, m); err != nil {
				return nil, err
			}
		case binary.SectionCustom:
			nd := &decoder{buf: body}
			name, err := nd.readName()
			if err != nil {
				return nil, errors.Wrap(err, "custom section name")
			}
			m.Customs = append(m.Customs, CustomSection{Name: name, Data: body[nd.pos:]})
		default:
			return nil, errors.Errorf("unsupported section id %d", id)
		}
		d.pos = end
	}
	if len(m.FuncTypeIndices) != len(m.Code) {
		return nil, errors.New("function and code section entry counts disagree")
	}
	return m, nil
}

type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) preamble() error {
	if len(d.buf) < 8 {
		return errors.New("module too short for preamble")
	}
	for i := 0; i < 4; i++ {
		if d.buf[i] != binary.Magic[i] {
			return errors.New("bad wasm magic")
		}
		if d.buf[4+i] != binary.Version[i] {
			return errors.New("unsupported wasm version")
		}
	}
	d.pos = 8
	return nil
}

func (d *decoder) readByte() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, errors.New("unexpected end of module")
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) readU32() (uint32, error) {
	v, n, err := leb128.LoadUint32(d.buf[d.pos:])
	if err != nil {
		return 0, err
	}
	d.pos += int(n)
	return v, nil
}

func (d *decoder) readI32() (int32, error) {
	v, n, err := leb128.LoadInt32(d.buf[d.pos:])
	if err != nil {
		return 0, err
	}
	d.pos += int(n)
	return v, nil
}

func (d *decoder) readI64() (int64, error) {
	v, n, err := leb128.LoadInt64(d.buf[d.pos:])
	if err != nil {
		return 0, err
	}
	d.pos += int(n)
	return v, nil
}

func (d *decoder) readName() (string, error) {
	n, err := d.readU32()
	if err != nil {
		return "", err
	}
	if d.pos+int(n) > len(d.buf) {
		return "", errors.New("name overruns buffer")
	}
	s := string(d.buf[d.pos : d.pos+int(n)])
	d.pos += int(n)
	return s, nil
}

func (d *decoder) readBytes(n int) ([]byte, error) {
	if d.pos+n > len(d.buf) {
		return nil, errors.New("read overruns buffer")
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func decodeTypeSection(body []byte, m *Module) error {
	d := &decoder{buf: body}
	count, err := d.readU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		tag, err := d.readByte()
		if err != nil {
			return err
		}
		if tag != 0x60 {
			return errors.Errorf("functype %d: unexpected tag 0x%x", i, tag)
		}
		var ft FuncType
		nParams, err := d.readU32()
		if err != nil {
			return err
		}
		for j := uint32(0); j < nParams; j++ {
			b, err := d.readByte()
			if err != nil {
				return err
			}
			ft.Params = append(ft.Params, binary.ValueType(b))
		}
		nResults, err := d.readU32()
		if err != nil {
			return err
		}
		for j := uint32(0); j < nResults; j++ {
			b, err := d.readByte()
			if err != nil {
				return err
			}
			ft.Results = append(ft.Results, binary.ValueType(b))
		}
		m.Types = append(m.Types, ft)
	}
	return nil
}

func decodeImportSection(body []byte, m *Module) error {
	d := &decoder{buf: body}
	count, err := d.readU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		modName, err := d.readName()
		if err != nil {
			return err
		}
		name, err := d.readName()
		if err != nil {
			return err
		}
		kind, err := d.readByte()
		if err != nil {
			return err
		}
		if binary.ExternalKind(kind) != binary.ExternalKindFunc {
			return errors.Errorf("import %d: only function imports supported", i)
		}
		typeIdx, err := d.readU32()
		if err != nil {
			return err
		}
		m.Imports = append(m.Imports, Import{Module: modName, Name: name, TypeIndex: typeIdx})
	}
	return nil
}

func decodeFunctionSection(body []byte, m *Module) error {
	d := &decoder{buf: body}
	count, err := d.readU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		idx, err := d.readU32()
		if err != nil {
			return err
		}
		m.FuncTypeIndices = append(m.FuncTypeIndices, idx)
	}
	return nil
}

func decodeTableSection(body []byte, m *Module) error {
	d := &decoder{buf: body}
	count, err := d.readU32()
	if err != nil {
		return err
	}
	if count != 1 {
		return errors.New("expected exactly one table")
	}
	if _, err := d.readByte(); err != nil { // elem type
		return err
	}
	flags, err := d.readByte()
	if err != nil {
		return err
	}
	min, err := d.readU32()
	if err != nil {
		return err
	}
	m.TableMin = min
	if flags == 0x01 {
		if _, err := d.readU32(); err != nil { // max, unused
			return err
		}
	}
	return nil
}

func decodeMemorySection(body []byte, m *Module) error {
	d := &decoder{buf: body}
	count, err := d.readU32()
	if err != nil {
		return err
	}
	if count != 1 {
		return errors.New("expected exactly one memory")
	}
	flags, err := d.readByte()
	if err != nil {
		return err
	}
	min, err := d.readU32()
	if err != nil {
		return err
	}
	m.Memory.Min = min
	if flags == 0x01 {
		max, err := d.readU32()
		if err != nil {
			return err
		}
		m.Memory.Max = max
		m.Memory.HasMax = true
	}
	return nil
}

func decodeGlobalSection(body []byte, m *Module) error {
	d := &decoder{buf: body}
	count, err := d.readU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		typ, err := d.readByte()
		if err != nil {
			return err
		}
		mut, err := d.readByte()
		if err != nil {
			return err
		}
		op, err := d.readByte()
		if err != nil {
			return err
		}
		var init int64
		switch binary.Opcode(op) {
		case binary.OpI32Const:
			v, err := d.readI32()
			if err != nil {
				return err
			}
			init = int64(v)
		case binary.OpI64Const:
			v, err := d.readI64()
			if err != nil {
				return err
			}
			init = v
		default:
			return errors.Errorf("global %d: unsupported initializer opcode 0x%x", i, op)
		}
		if end, err := d.readByte(); err != nil || binary.Opcode(end) != binary.OpEnd {
			return errors.Errorf("global %d: missing end opcode", i)
		}
		m.Globals = append(m.Globals, Global{Type: binary.ValueType(typ), Mutable: mut == 0x01, Init: init})
	}
	return nil
}

func decodeExportSection(body []byte, m *Module) error {
	d := &decoder{buf: body}
	count, err := d.readU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		name, err := d.readName()
		if err != nil {
			return err
		}
		kind, err := d.readByte()
		if err != nil {
			return err
		}
		idx, err := d.readU32()
		if err != nil {
			return err
		}
		m.Exports = append(m.Exports, Export{Name: name, Kind: binary.ExternalKind(kind), Index: idx})
	}
	return nil
}

func decodeElementSection(body []byte, m *Module) error {
	d := &decoder{buf: body}
	count, err := d.readU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		if _, err := d.readU32(); err != nil { // table index, always 0
			return err
		}
		op, err := d.readByte()
		if err != nil {
			return err
		}
		if binary.Opcode(op) != binary.OpI32Const {
			return errors.Errorf("element %d: unsupported offset expr", i)
		}
		off, err := d.readI32()
		if err != nil {
			return err
		}
		if end, err := d.readByte(); err != nil || binary.Opcode(end) != binary.OpEnd {
			return errors.Errorf("element %d: missing end opcode", i)
		}
		n, err := d.readU32()
		if err != nil {
			return err
		}
		seg := ElementSegment{Offset: uint32(off)}
		for j := uint32(0); j < n; j++ {
			fi, err := d.readU32()
			if err != nil {
				return err
			}
			seg.FuncIndices = append(seg.FuncIndices, fi)
		}
		m.Elements = append(m.Elements, seg)
	}
	return nil
}

func decodeCodeSection(body []byte, m *Module) error {
	d := &decoder{buf: body}
	count, err := d.readU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		size, err := d.readU32()
		if err != nil {
			return err
		}
		entryBytes, err := d.readBytes(int(size))
		if err != nil {
			return err
		}
		ed := &decoder{buf: entryBytes}
		nGroups, err := ed.readU32()
		if err != nil {
			return err
		}
		var entry CodeEntry
		for j := uint32(0); j < nGroups; j++ {
			cnt, err := ed.readU32()
			if err != nil {
				return err
			}
			typ, err := ed.readByte()
			if err != nil {
				return err
			}
			entry.Locals = append(entry.Locals, LocalGroup{Count: cnt, Type: binary.ValueType(typ)})
		}
		entry.Body = entryBytes[ed.pos:]
		m.Code = append(m.Code, entry)
	}
	return nil
}
