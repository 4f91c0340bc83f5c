// Package layout resolves MIR type references into concrete size,
// alignment, and field-offset information for both the wasm emitter and the
// interpreter (spec.md §4.1).
package layout

import "github.com/Chic-lang/Chic-sub011/mir"

// Kind discriminates the four shapes a named type can take.
type Kind int

const (
	KindStruct Kind = iota
	KindClass
	KindEnum
	KindUnion
)

// Field is one ordered member of a Struct/Class layout.
type Field struct {
	Name        string
	Type        mir.TypeRef
	DeclIndex   int
	Offset      uint32
	Nullable    bool
}

// Variant is one named alternative of an Enum layout.
type Variant struct {
	Name  string
	Index int
}

// TypeLayout is one entry of the layout table. Size/Align are pointers so a
// partially-resolved layout (generic instantiation still in progress) can be
// represented without a sentinel value; nil means "unresolved".
type TypeLayout struct {
	Name             string
	Kind             Kind
	Fields           []Field
	Size             *uint32
	Align            *uint32
	Variants         []Variant
	DiscriminantSize uint32 // KindEnum only
	BaseClasses      []string
	VTableOffset     *uint32
}

// FieldByIndex returns the field at declaration index idx, if any.
func (t *TypeLayout) FieldByIndex(idx int) (Field, bool) {
	for _, f := range t.Fields {
		if f.DeclIndex == idx {
			return f, true
		}
	}
	return Field{}, false
}

// FieldByName returns the field with the given name, if any.
func (t *TypeLayout) FieldByName(name string) (Field, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Resolved reports whether both size and alignment are known.
func (t *TypeLayout) Resolved() bool { return t.Size != nil && t.Align != nil }

// Table is the process-wide mapping from canonical type name to its layout,
// plus the lazily-populated synthesised-generic cache described in
// spec.md §4.1 and Design Notes ("global layout cache for synthesised
// generics"). The zero value is not usable; construct with New.
type Table struct {
	entries map[string]*TypeLayout
	synth   *synthCache
}

// New builds a layout table seeded with the caller's resolved entries.
func New(entries map[string]*TypeLayout) *Table {
	if entries == nil {
		entries = map[string]*TypeLayout{}
	}
	return &Table{entries: entries, synth: newSynthCache()}
}

// Put registers (or replaces) a named layout.
func (t *Table) Put(name string, l *TypeLayout) { t.entries[name] = l }

// Get returns the raw entry for an exact canonical name, without any of the
// lookup_layout fallback chain (spec.md §4.1) — callers wanting the
// fallback chain should use Resolver.LookupLayout instead.
func (t *Table) Get(name string) (*TypeLayout, bool) {
	l, ok := t.entries[name]
	return l, ok
}

func alignUp(v, align uint32) uint32 {
	if align == 0 {
		return v
	}
	rem := v % align
	if rem == 0 {
		return v
	}
	return v + (align - rem)
}
