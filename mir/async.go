package mir

// FramePolicyKind names the frame discipline a user annotation requests on
// an async function (spec.md §4.3).
type FramePolicyKind int

const (
	FramePolicyNone FramePolicyKind = iota
	FramePolicyStackOnly
	FramePolicyFrameLimit
	FramePolicyNoCapture
)

// FramePolicy is the resolved policy record for one async function.
type FramePolicy struct {
	Kind        FramePolicyKind
	LimitBytes  int  // FramePolicyFrameLimit; 0 means no limit recorded (asyncir warns it cannot verify)
	MoveOnly    bool // FramePolicyNoCapture refinement: ref-mode arg captures also error
}

// SuspendPoint is one Await (or, for generators, Yield) terminator together
// with its resume/drop successors.
type SuspendPoint struct {
	ID            int
	SuspendBlock  BlockID // the block containing the Await/Yield terminator
	ResumeBlock   BlockID
	DropBlock     BlockID
	FutureLocal   LocalID // Await: the polled future; Yield: unused (-1)
	DestLocal     *LocalID
}

// FrameField is one synthesized field of a `<Function>::AsyncFrame` struct,
// corresponding to a local captured across at least one suspend point.
type FrameField struct {
	Local LocalID
	Name  string // "" means the emitter names it local_<index>
	Type  TypeRef
}

// AsyncStateMachine is the per-function record an earlier pass attaches to a
// Body whose function is async; internal/asyncir reads it.
type AsyncStateMachine struct {
	Suspends       []SuspendPoint
	Pinned         []LocalID
	CrossBoundary  []LocalID
	Frame          []FrameField
	ResultLocal    *LocalID
	ResultType     TypeRef
	ContextLocal   *LocalID
	Policy         FramePolicy
}

// GeneratorStateMachine mirrors AsyncStateMachine for `yield`-bearing
// functions; the distinctness invariant (suspend/resume/drop blocks all
// distinct) is identical.
type GeneratorStateMachine struct {
	Yields []SuspendPoint
	Frame  []FrameField
}
