package layout

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/Chic-lang/Chic-sub011/mir"
)

// ErrSIMDUnsupported is returned by LookupLayout/AggregateAllocation when the
// requested type is a SIMD vector type. wasm32 backends in this system
// reject SIMD vectors outright (spec.md §4.1 Edge cases); the native
// code-generator backend is the only collaborator that may support them.
var ErrSIMDUnsupported = errors.New("SIMD vectors are not supported by the wasm32 backend")

// stringAliases are the std-library namespace spellings of the two textual
// types that the resolver probes when asked for "String"/"Str" (spec.md
// §4.1).
var stringAliases = []string{"String", "Str", "std::String", "std::Str", "core::String", "core::Str"}

// Resolver answers layout questions against a Table, implementing the
// fallback chain and synthesis rules of spec.md §4.1.
type Resolver struct {
	table *Table
}

// NewResolver builds a Resolver over an existing layout Table.
func NewResolver(t *Table) *Resolver { return &Resolver{table: t} }

func isSIMDVectorName(name string) bool {
	n := strings.TrimPrefix(name, "Simd::")
	if n == name {
		// also recognise a bare Simd-prefixed path and common lane-count
		// suffixes used by the source language's std::simd module.
		if strings.Contains(name, "::Simd") || strings.Contains(name, "simd::") {
			return true
		}
		return false
	}
	return true
}

func is128BitIntName(name string) bool {
	switch name {
	case "i128", "u128", "Int128", "UInt128", "int128", "uint128":
		return true
	}
	return false
}

func isTraitObjectName(name string) bool {
	return strings.HasPrefix(name, "dyn ") || strings.Contains(name, "::TraitObject<") || strings.HasSuffix(name, "TraitObject")
}

// LookupLayout resolves a type by canonical name following the fallback
// chain documented in spec.md §4.1: exact canonical key, exact ::-separated
// key, synthesised async generic, unqualified name, disambiguated
// unique-suffix match. It returns (nil, nil) when nothing matches — callers
// decide whether that is fatal. A SIMD vector name is the one case that
// produces a non-nil error.
func (r *Resolver) LookupLayout(ty mir.TypeRef) (*TypeLayout, error) {
	name := string(ty)
	if isSIMDVectorName(name) {
		return nil, errors.Wrapf(ErrSIMDUnsupported, "type %q", name)
	}

	if l, ok := r.table.Get(name); ok {
		return l, nil
	}

	// Exact ::-separated key: the name split on "::" and rejoined. Splitting
	// and rejoining on the same separator reproduces name unchanged, so this
	// step never finds an entry the exact lookup above missed.
	if joined := strings.Join(strings.Split(name, "::"), "::"); joined != name {
		if l, ok := r.table.Get(joined); ok {
			return l, nil
		}
	}

	if strings.HasPrefix(name, "Future<") || strings.HasPrefix(name, "Task<") {
		if l, err := r.synthesizeAsyncGeneric(name); err == nil && l != nil {
			return l, nil
		}
	}

	for _, alias := range stringAliasesFor(name) {
		if l, ok := r.table.Get(alias); ok {
			return l, nil
		}
	}

	// Unqualified name: strip any "A::B::C" down to "C".
	if idx := strings.LastIndex(name, "::"); idx >= 0 {
		unqualified := name[idx+2:]
		if l, ok := r.table.Get(unqualified); ok {
			return l, nil
		}
	}

	// Disambiguated unique-suffix match: exactly one registered key ends in
	// "::<name>" or equals <name>.
	var match *TypeLayout
	matches := 0
	suffix := "::" + lastSegment(name)
	for key, l := range r.table.entries {
		if strings.HasSuffix(key, suffix) || key == lastSegment(name) {
			match = l
			matches++
		}
	}
	if matches == 1 {
		return match, nil
	}

	return nil, nil
}

func lastSegment(name string) string {
	if idx := strings.LastIndex(name, "::"); idx >= 0 {
		return name[idx+2:]
	}
	return name
}

func stringAliasesFor(name string) []string {
	for _, alias := range stringAliases {
		if name == alias {
			return stringAliases
		}
	}
	return nil
}

// RequiresMemory reports whether a local of this type must be spilled to
// linear memory rather than held in a wasm value-stack local (spec.md
// §4.1).
func (r *Resolver) RequiresMemory(ty mir.TypeRef) bool {
	name := string(ty)
	switch {
	case isScalarName(name):
		return false
	case isClassName(name, r.table):
		return false
	case name == "" || name == "Unit" || name == "()":
		return false
	case is128BitIntName(name), isTraitObjectName(name), isAtomicName(name):
		return true
	}
	if l, ok := r.table.Get(name); ok {
		switch l.Kind {
		case KindClass:
			return false
		default:
			return true
		}
	}
	// Aggregates (struct/tuple/array/vec/span/string) not yet registered
	// default to "requires memory": every named non-scalar type the
	// resolver doesn't recognise as a class is treated as an aggregate.
	return true
}

func isAtomicName(name string) bool {
	return strings.HasPrefix(name, "Atomic<") || strings.HasPrefix(name, "atomic<")
}

func isClassName(name string, t *Table) bool {
	l, ok := t.Get(name)
	return ok && l.Kind == KindClass
}

var scalarNames = map[string]bool{
	"bool": true, "i8": true, "u8": true, "i16": true, "u16": true,
	"i32": true, "u32": true, "i64": true, "u64": true,
	"int": true, "uint": true, "long": true, "ulong": true,
	"f32": true, "float": true, "f64": true, "double": true,
	"ptr": true, "rawptr": true,
}

func isScalarName(name string) bool {
	if scalarNames[name] {
		return true
	}
	if strings.HasPrefix(name, "&") || strings.HasPrefix(name, "*") {
		return true
	}
	if strings.HasPrefix(name, "fn(") || strings.HasPrefix(name, "extern fn(") {
		return true
	}
	return false
}

// AggregateAllocation returns (size, align) in bytes for a type, bounded to
// the wasm32 32-bit address range (spec.md §4.1). err is non-nil when the
// type could not be resolved at all (including ErrSIMDUnsupported, which
// callers must be able to surface verbatim rather than collapse into a
// generic "no resolvable layout" message); a resolved-but-incomplete or
// overflowing layout reports ok=false with a nil err.
func (r *Resolver) AggregateAllocation(ty mir.TypeRef) (size, align uint32, ok bool, err error) {
	name := string(ty)
	switch {
	case isTraitObjectName(name):
		return 16, 8, true, nil
	case is128BitIntName(name):
		return 16, 16, true, nil
	}

	l, err := r.LookupLayout(ty)
	if err != nil {
		return 0, 0, false, err
	}
	if l == nil {
		return 0, 0, false, nil
	}
	if !l.Resolved() {
		return 0, 0, false, nil
	}
	if uint64(*l.Size) > 0xFFFFFFFF || uint64(*l.Align) > 0xFFFFFFFF {
		return 0, 0, false, nil
	}
	return *l.Size, *l.Align, true, nil
}

// synthesizeAsyncGeneric implements the Future<T>/Task<T> synthesis
// algorithm of spec.md §4.1.
func (r *Resolver) synthesizeAsyncGeneric(name string) (*TypeLayout, error) {
	if l, ok := r.table.synth.get(name); ok {
		return l, nil
	}
	var l *TypeLayout
	var err error
	switch {
	case strings.HasPrefix(name, "Future<"):
		l, err = r.synthesizeFuture(name)
	case strings.HasPrefix(name, "Task<"):
		l, err = r.synthesizeTask(name)
	default:
		return nil, errors.Errorf("not an async generic: %q", name)
	}
	if err != nil {
		return nil, err
	}
	r.table.synth.put(name, l)
	return l, nil
}

func extractTypeArg(name, prefix string) (string, error) {
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ">") {
		return "", errors.Errorf("malformed generic name %q", name)
	}
	inner := name[len(prefix) : len(name)-1]
	if inner == "" {
		return "", errors.Errorf("missing type argument in %q", name)
	}
	return inner, nil
}

// word is the pointer/native-int width on wasm32.
const word = 4

func (r *Resolver) synthesizeFuture(name string) (*TypeLayout, error) {
	inner, err := extractTypeArg(name, "Future<")
	if err != nil {
		return nil, err
	}
	resultSize, resultAlign, ok, err := r.AggregateAllocation(mir.TypeRef(inner))
	if err != nil {
		return nil, err
	}
	if !ok {
		// Unresolved inner type: fall back to pointer-sized placeholder so
		// callers that only need a stable header shape (e.g. async
		// lowering before full typeck) can still proceed; size/align of
		// Result stay word/word.
		resultSize, resultAlign = word, word
	}

	fields := []Field{
		{Name: "Header", DeclIndex: 0, Offset: 0},
		{Name: "Completed", DeclIndex: 1},
		{Name: "Result", DeclIndex: 2},
	}
	headerSize, headerAlign := uint32(16), uint32(word) // FutureHeader: flags, vtable*, state*, ctx*
	fields[0].Offset = 0
	completedOffset := alignUp(headerSize, 1)
	fields[1].Offset = completedOffset
	resultOffset := alignUp(completedOffset+1, resultAlign)
	fields[2].Offset = resultOffset

	total := alignUp(resultOffset+resultSize, maxU32(headerAlign, resultAlign))
	align := maxU32(headerAlign, resultAlign)
	size := total

	return &TypeLayout{
		Name: name, Kind: KindStruct, Fields: fields,
		Size: &size, Align: &align,
	}, nil
}

func (r *Resolver) synthesizeTask(name string) (*TypeLayout, error) {
	inner, err := extractTypeArg(name, "Task<")
	if err != nil {
		return nil, err
	}
	futureName := "Future<" + inner + ">"
	innerFuture, err := r.synthesizeAsyncGeneric(futureName)
	if err != nil {
		return nil, err
	}

	headerSize, headerAlign := uint32(16), uint32(word)
	flagsOffset := headerSize
	flagsSize, flagsAlign := uint32(4), uint32(4)
	innerOffset := alignUp(flagsOffset+flagsSize, *innerFuture.Align)

	fields := []Field{
		{Name: "Header", DeclIndex: 0, Offset: 0},
		{Name: "Flags", DeclIndex: 1, Offset: flagsOffset},
		{Name: "InnerFuture", DeclIndex: 2, Offset: innerOffset},
	}
	align := maxU32(headerAlign, maxU32(flagsAlign, *innerFuture.Align))
	size := alignUp(innerOffset+*innerFuture.Size, align)

	return &TypeLayout{
		Name: name, Kind: KindStruct, Fields: fields,
		Size: &size, Align: &align,
	}, nil
}

func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

// ComputeProjectionOffset walks a projection chain against the layout
// table, returning the byte offset and leaf type (spec.md §4.4, S4). It
// rejects Index/union-downcast projections and projections on a scalar
// root, mirroring the emitter's place-resolution contract exactly so both
// components agree on offsets (spec.md invariant 1, "round-trip layout").
func (r *Resolver) ComputeProjectionOffset(rootType mir.TypeRef, projections []mir.Projection) (offset uint32, leaf mir.TypeRef, err error) {
	if len(projections) == 0 {
		return 0, rootType, nil
	}
	if !r.RequiresMemory(rootType) {
		return 0, "", errors.Errorf("cannot apply projection to scalar type %q", rootType)
	}

	curType := rootType
	var curOffset uint32
	for _, p := range projections {
		switch p.Kind {
		case mir.ProjectionDeref:
			curOffset = 0
			continue
		case mir.ProjectionIndex, mir.ProjectionUnionDowncast:
			return 0, "", errors.Errorf("unsupported complex projection on %q", curType)
		}

		l, lerr := r.LookupLayout(curType)
		if lerr != nil {
			return 0, "", lerr
		}
		if l == nil {
			return 0, "", errors.Errorf("no layout for %q while resolving projection", curType)
		}
		var f Field
		var ok bool
		switch p.Kind {
		case mir.ProjectionField:
			f, ok = l.FieldByIndex(p.Index)
		case mir.ProjectionFieldNamed:
			f, ok = l.FieldByName(p.Name)
		}
		if !ok {
			return 0, "", errors.Errorf("type %q has no field for projection", curType)
		}
		next := uint64(curOffset) + uint64(f.Offset)
		if next > 0xFFFFFFFF {
			return 0, "", errors.Errorf("projection offset exceeds the addressable range for %q", curType)
		}
		curOffset = uint32(next)
		curType = f.Type
	}
	return curOffset, curType, nil
}
