package module

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Chic-lang/Chic-sub011/internal/leb128"
	"github.com/Chic-lang/Chic-sub011/internal/wasmgen/binary"
	"github.com/Chic-lang/Chic-sub011/mir"
)

// LinearMemoryMinPages is the default minimum page count for the emitted
// module's single linear memory (spec.md §4.5).
const LinearMemoryMinPages = 16

// StackBase is the initial value of the process stack-pointer global, from
// which per-function aggregate-local frames are bump-subtracted.
const StackBase = 1 << 20

// AsyncPlanArtifact records the poll/drop synthesis for one async function,
// mirrored into the module as a custom section (spec.md §4.3 step 5).
type AsyncPlanArtifact struct {
	FunctionName string
	FrameType    string
	PollSymbol   string
	DropSymbol   string
	ResumeStates uint32
	Implicit     bool
}

// FunctionArtifact is everything the builder needs about one emitted
// function: its signature, code, and any custom-section metadata it
// contributes.
type FunctionArtifact struct {
	Name       string
	Sig        FuncType
	Code       CodeEntry
	Hints      []string
	Exported   bool
	ExportName string
	Async      *AsyncPlanArtifact
}

// InterfaceDefaultBinding is one `chic.iface.defaults` entry.
type InterfaceDefaultBinding struct {
	Implementer string
	Interface   string
	Method      string
	Symbol      string
}

// AliasContract is one `chx.alias.contracts` per-parameter entry.
type AliasContract struct {
	FunctionName string
	ParamIndex   uint32
	Flags        byte
	Alignment    uint32
}

const (
	AliasFlagRestrict byte = 1 << 0
	AliasFlagNoAlias  byte = 1 << 1
	AliasFlagNoCapture byte = 1 << 2
	AliasFlagReadonly byte = 1 << 3
)

// BuildInput gathers everything the emitter/async-lowering/layout pipeline
// produces, for final assembly into a wasm32 Module (spec.md §4.5).
type BuildInput struct {
	Kind       mir.ChicKind
	NoMain     bool
	EntryName  string // canonical dotted path of Main, set by the caller once resolved
	Functions  []FunctionArtifact
	ExternImports []RuntimeImport

	InterfaceDefaults []InterfaceDefaultBinding
	AliasContracts    []AliasContract

	LinearMemoryMinPages uint32
}

// Build assembles a complete Module from a BuildInput, implementing the
// contract of spec.md §4.5 end to end: signature canonicalisation, the
// runtime import set, function/table/memory/global/export sections, the
// code section, and every custom section.
func Build(in BuildInput) (*Module, error) {
	m := &Module{}

	minPages := in.LinearMemoryMinPages
	if minPages == 0 {
		minPages = LinearMemoryMinPages
	}
	m.Memory = MemoryLimits{Min: minPages}

	typeIndex, types := canonicalizeSignatures(in)
	m.Types = types

	allImports := append(append([]RuntimeImport{}, StandardRuntimeImports()...), in.ExternImports...)
	for _, ri := range allImports {
		idx := typeIndex(FuncType{Params: ri.Params, Results: ri.Results})
		m.Imports = append(m.Imports, Import{Module: ri.Module, Name: ri.Name, TypeIndex: idx})
	}
	numImported := uint32(len(m.Imports))

	for _, fn := range in.Functions {
		idx := typeIndex(fn.Sig)
		m.FuncTypeIndices = append(m.FuncTypeIndices, idx)
		m.Code = append(m.Code, fn.Code)
	}

	totalFuncs := numImported + uint32(len(in.Functions))
	if totalFuncs > 0 {
		m.TableMin = totalFuncs
		seg := ElementSegment{Offset: 0}
		for i := uint32(0); i < totalFuncs; i++ {
			seg.FuncIndices = append(seg.FuncIndices, i)
		}
		m.Elements = []ElementSegment{seg}
	}

	m.Globals = []Global{{Type: binary.ValueTypeI32, Mutable: true, Init: StackBase}}

	m.Exports = append(m.Exports, Export{Name: "memory", Kind: binary.ExternalKindMemory, Index: 0})

	entryResolved := false
	byName := map[string]uint32{}
	for i, fn := range in.Functions {
		byName[fn.Name] = numImported + uint32(i)
		if fn.Exported {
			name := fn.ExportName
			if name == "" {
				name = fn.Name
			}
			m.Exports = append(m.Exports, Export{Name: name, Kind: binary.ExternalKindFunc, Index: numImported + uint32(i)})
		}
	}

	if in.Kind == mir.ChicExecutable {
		if idx, ok := byName[in.EntryName]; ok && in.EntryName != "" {
			m.Exports = append(m.Exports, Export{Name: in.EntryName, Kind: binary.ExternalKindFunc, Index: idx})
			entryResolved = true
		}
		if !entryResolved && !in.NoMain {
			return nil, errors.Errorf("module builder: executable requires an entry function named Main, none found")
		}
	}

	m.Customs = append(m.Customs, encodeMetadataSection(in.Kind))
	if hints := encodeHintsSection(in.Functions); hints != nil {
		m.Customs = append(m.Customs, *hints)
	}
	if ifaces := encodeInterfaceDefaultsSection(in.InterfaceDefaults); ifaces != nil {
		m.Customs = append(m.Customs, *ifaces)
	}
	if aliases := encodeAliasContractsSection(in.AliasContracts); aliases != nil {
		m.Customs = append(m.Customs, *aliases)
	}
	if plans := encodeAsyncPlanSection(in.Functions); plans != nil {
		m.Customs = append(m.Customs, *plans)
	}

	logrus.WithFields(logrus.Fields{
		"functions": len(in.Functions),
		"imports":   len(m.Imports),
		"types":     len(m.Types),
	}).Debug("module builder: assembled module")

	return m, nil
}

func canonicalizeSignatures(in BuildInput) (func(FuncType) uint32, []FuncType) {
	var types []FuncType
	index := map[string]uint32{}
	key := func(ft FuncType) string {
		return fmt.Sprintf("%v->%v", ft.Params, ft.Results)
	}
	intern := func(ft FuncType) uint32 {
		k := key(ft)
		if idx, ok := index[k]; ok {
			return idx
		}
		idx := uint32(len(types))
		types = append(types, ft)
		index[k] = idx
		return idx
	}
	for _, ri := range StandardRuntimeImports() {
		intern(FuncType{Params: ri.Params, Results: ri.Results})
	}
	for _, ri := range in.ExternImports {
		intern(FuncType{Params: ri.Params, Results: ri.Results})
	}
	for _, fn := range in.Functions {
		intern(fn.Sig)
	}
	return intern, types
}

func encodeMetadataSection(kind mir.ChicKind) CustomSection {
	kindStr := "executable"
	switch kind {
	case mir.ChicStaticLibrary:
		kindStr = "static-library"
	case mir.ChicDynamicLibrary:
		kindStr = "dynamic-library"
	}
	payload := fmt.Sprintf("target=wasm32;kind=%s", kindStr)
	return CustomSection{Name: "chic.metadata", Data: []byte(payload)}
}

func encodeHintsSection(fns []FunctionArtifact) *CustomSection {
	var b bytes.Buffer
	n := 0
	for _, fn := range fns {
		if len(fn.Hints) == 0 {
			continue
		}
		n++
		writeName(&b, fn.Name)
		flags := ""
		for i, h := range fn.Hints {
			if i > 0 {
				flags += "|"
			}
			flags += h
		}
		writeName(&b, flags)
	}
	if n == 0 {
		return nil
	}
	var out bytes.Buffer
	out.Write(leb128.EncodeUint32(uint32(n)))
	out.Write(b.Bytes())
	return &CustomSection{Name: "chic.hints", Data: out.Bytes()}
}

func encodeInterfaceDefaultsSection(bindings []InterfaceDefaultBinding) *CustomSection {
	if len(bindings) == 0 {
		return nil
	}
	var b bytes.Buffer
	b.Write(leb128.EncodeUint32(uint32(len(bindings))))
	for _, bd := range bindings {
		writeName(&b, bd.Implementer)
		writeName(&b, bd.Interface)
		writeName(&b, bd.Method)
		writeName(&b, bd.Symbol)
	}
	return &CustomSection{Name: "chic.iface.defaults", Data: b.Bytes()}
}

func encodeAliasContractsSection(contracts []AliasContract) *CustomSection {
	if len(contracts) == 0 {
		return nil
	}
	sorted := append([]AliasContract{}, contracts...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].FunctionName != sorted[j].FunctionName {
			return sorted[i].FunctionName < sorted[j].FunctionName
		}
		return sorted[i].ParamIndex < sorted[j].ParamIndex
	})
	var b bytes.Buffer
	b.Write(leb128.EncodeUint32(uint32(len(sorted))))
	for _, c := range sorted {
		writeName(&b, c.FunctionName)
		b.Write(leb128.EncodeUint32(c.ParamIndex))
		b.WriteByte(c.Flags)
		b.Write(leb128.EncodeUint32(c.Alignment))
	}
	return &CustomSection{Name: "chx.alias.contracts", Data: b.Bytes()}
}

func encodeAsyncPlanSection(fns []FunctionArtifact) *CustomSection {
	var b bytes.Buffer
	n := 0
	for _, fn := range fns {
		if fn.Async == nil {
			continue
		}
		n++
		writeName(&b, fn.Async.FunctionName)
		writeName(&b, fn.Async.FrameType)
		writeName(&b, fn.Async.PollSymbol)
		writeName(&b, fn.Async.DropSymbol)
		b.Write(leb128.EncodeUint32(fn.Async.ResumeStates))
		if fn.Async.Implicit {
			b.WriteByte(1)
		} else {
			b.WriteByte(0)
		}
	}
	if n == 0 {
		return nil
	}
	var out bytes.Buffer
	out.Write(leb128.EncodeUint32(uint32(n)))
	out.Write(b.Bytes())
	return &CustomSection{Name: "chic.async.plan", Data: out.Bytes()}
}
