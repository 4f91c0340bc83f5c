package mir

// LocalID indexes into Body.Locals.
type LocalID int

// ProjectionKind discriminates the elements of a Place's projection chain.
type ProjectionKind int

const (
	ProjectionField      ProjectionKind = iota // Field(idx)
	ProjectionFieldNamed                       // FieldNamed(name)
	ProjectionDeref
	ProjectionIndex // dynamic subscript; rejected by the emitter (spec.md §4.4)
	ProjectionUnionDowncast
)

// Projection is one step of a Place's path off its root local.
type Projection struct {
	Kind  ProjectionKind
	Index int    // ProjectionField
	Name  string // ProjectionFieldNamed, ProjectionUnionDowncast
}

// Place is an l-value: a root local plus a sequence of projections.
type Place struct {
	Local       LocalID
	Projections []Projection
}

// Scalar reports whether the place has no projections off its root local.
func (p Place) Scalar() bool { return len(p.Projections) == 0 }
