// Package asyncir implements the async/generator lowering pass of spec.md
// §4.3: frame-layout synthesis, policy enforcement, and poll/drop function
// synthesis. It is grounded on tetratelabs-wazero's state-machine-shaped
// call engine (internal/engine/interpreter/interpreter.go's callFrame/state
// bookkeeping) for the "frame struct carries resumable state" idiom, and on
// open-policy-agent-opa's planner for synthesizing auxiliary functions
// alongside a user function.
package asyncir

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Chic-lang/Chic-sub011/internal/layout"
	"github.com/Chic-lang/Chic-sub011/internal/wasmgen/module"
	"github.com/Chic-lang/Chic-sub011/mir"
)

// DefaultStackOnlyLimitBytes is the stack_only policy's implicit frame-size
// budget (spec.md §4.3 step 3).
const DefaultStackOnlyLimitBytes = 8 * 1024

// DefaultWarnBudgetBytes is the size above which an unannotated async
// function gets a size warning rather than silent promotion.
const DefaultWarnBudgetBytes = 64 * 1024

// RuntimeContextSize/Align approximate the fixed-size RuntimeContext frame
// field (an opaque handle into the scheduler's per-call bookkeeping).
const RuntimeContextSize = 4
const RuntimeContextAlign = 4

// Severity mirrors borrow.Severity to avoid an import-cycle-prone shared
// diagnostics package; the two are intentionally structurally identical.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

// Diagnostic is one asyncir finding.
type Diagnostic struct {
	Code     string
	Message  string
	Severity Severity
}

func (d Diagnostic) String() string {
	sev := "warning"
	if d.Severity == SeverityError {
		sev = "error"
	}
	return fmt.Sprintf("%s: [%s] %s", sev, d.Code, d.Message)
}

// Plan is the per-function lowering plan, step 1 of spec.md §4.3.
type Plan struct {
	FunctionName string
	FrameType    string
	Suspends     []mir.SuspendPoint
	Frame        []mir.FrameField
	ContextLocal *mir.LocalID
	Policy       mir.FramePolicy
	IsGenerator  bool
}

// Artifact is the per-function record of step 5, convertible directly into
// a module.AsyncPlanArtifact for the builder.
type Artifact struct {
	FunctionName string
	FrameType    string
	PollSymbol   string
	DropSymbol   string
	ResumeStates uint32
	Implicit     bool
	FrameSize    uint32
	FrameAlign   uint32
	StateOffset  uint32
}

func (a Artifact) ToModule() module.AsyncPlanArtifact {
	return module.AsyncPlanArtifact{
		FunctionName: a.FunctionName,
		FrameType:    a.FrameType,
		PollSymbol:   a.PollSymbol,
		DropSymbol:   a.DropSymbol,
		ResumeStates: a.ResumeStates,
		Implicit:     a.Implicit,
	}
}

// BuildPlan assembles the Plan for one async or generator function from its
// already-attached state machine (spec.md §4.3 step 1).
func BuildPlan(fn *mir.Function) (*Plan, error) {
	body := fn.Body
	if body == nil {
		return nil, errors.Errorf("asyncir: %s: no body to lower", fn.Name)
	}
	p := &Plan{FunctionName: fn.Name, FrameType: fn.Name + "::AsyncFrame"}

	switch {
	case body.Async != nil:
		p.Suspends = body.Async.Suspends
		p.Frame = body.Async.Frame
		p.ContextLocal = body.Async.ContextLocal
		p.Policy = body.Async.Policy
	case body.Generator != nil:
		p.Suspends = body.Generator.Yields
		p.Frame = body.Generator.Frame
		p.IsGenerator = true
	default:
		return nil, errors.Errorf("asyncir: %s: neither Async nor Generator state machine attached", fn.Name)
	}

	return p, nil
}

// RegisterFrameLayout implements spec.md §4.3 step 2: registers
// `<function>::AsyncFrame` in the layout table with State at offset 0,
// Context next, then each frame field at its natural alignment.
func RegisterFrameLayout(p *Plan, table *layout.Table, res *layout.Resolver) (size, align uint32, err error) {
	fields := []layout.Field{
		{Name: "State", Type: "i32", DeclIndex: 0, Offset: 0},
	}
	cursor := uint32(4) // State: int, 4 bytes
	maxAlign := uint32(4)

	cursor = alignUp(cursor, RuntimeContextAlign)
	fields = append(fields, layout.Field{Name: "Context", Type: "RuntimeContext", DeclIndex: 1, Offset: cursor})
	cursor += RuntimeContextSize
	if RuntimeContextAlign > maxAlign {
		maxAlign = RuntimeContextAlign
	}

	for i, ff := range p.Frame {
		fsize, falign, ok, err := res.AggregateAllocation(ff.Type)
		if err != nil {
			return 0, 0, errors.Wrapf(err, "asyncir: %s: frame field %q", p.FunctionName, ff.Name)
		}
		if !ok {
			// Scalar frame fields aren't in the aggregate-allocation table;
			// derive a conservative (size, align) from the scalar mapping.
			fsize, falign = scalarSizeAlign(ff.Type)
		}
		cursor = alignUp(cursor, falign)
		name := ff.Name
		if name == "" {
			name = fmt.Sprintf("local_%d", ff.Local)
		}
		fields = append(fields, layout.Field{Name: name, Type: ff.Type, DeclIndex: i + 2, Offset: cursor})
		cursor += fsize
		if falign > maxAlign {
			maxAlign = falign
		}
	}

	total := alignUp(cursor, maxAlign)
	size = total
	align = maxAlign

	table.Put(p.FrameType, &layout.TypeLayout{
		Name:   p.FrameType,
		Kind:   layout.KindStruct,
		Fields: fields,
		Size:   &size,
		Align:  &align,
	})

	return size, align, nil
}

func scalarSizeAlign(ty mir.TypeRef) (uint32, uint32) {
	switch ty {
	case "i64", "u64", "long", "ulong", "double", "f64":
		return 8, 8
	default:
		return 4, 4
	}
}

func alignUp(v, align uint32) uint32 {
	if align <= 1 {
		return v
	}
	if r := v % align; r != 0 {
		return v + (align - r)
	}
	return v
}

// AnalyzeFramePolicy implements spec.md §4.3 step 3.
func AnalyzeFramePolicy(p *Plan, frameSize uint32, implicit bool) []Diagnostic {
	var diags []Diagnostic
	nonArgCapture := false
	refCapture := false
	for range p.Frame {
		// Frame fields beyond index 1 are captures by construction (State
		// and Context are always the first two); any capture at all signals
		// non-stack-only behaviour once a policy requires checking it.
		nonArgCapture = true
	}

	switch p.Policy.Kind {
	case mir.FramePolicyStackOnly:
		limit := uint32(DefaultStackOnlyLimitBytes)
		if frameSize > limit {
			diags = append(diags, Diagnostic{Code: "A-STACK", Message: fmt.Sprintf("%s: frame size %d exceeds stack_only limit %d, cannot remain on stack", p.FunctionName, frameSize, limit), Severity: SeverityError})
		}
		if nonArgCapture {
			diags = append(diags, Diagnostic{Code: "A-STACK", Message: fmt.Sprintf("%s: a non-argument local is captured across an await under stack_only", p.FunctionName), Severity: SeverityError})
		}
	case mir.FramePolicyFrameLimit:
		limit := uint32(p.Policy.LimitBytes)
		if limit == 0 {
			diags = append(diags, Diagnostic{Code: "A-LIMIT", Message: fmt.Sprintf("%s: frame_limit policy has no limit recorded, cannot verify", p.FunctionName), Severity: SeverityWarning})
		} else if frameSize > limit {
			diags = append(diags, Diagnostic{Code: "A-LIMIT", Message: fmt.Sprintf("%s: frame size %d exceeds frame_limit(%d)", p.FunctionName, frameSize, limit), Severity: SeverityError})
		}
	case mir.FramePolicyNoCapture:
		if nonArgCapture {
			diags = append(diags, Diagnostic{Code: "A-NOCAP", Message: fmt.Sprintf("%s: no_capture policy forbids capturing any non-argument local", p.FunctionName), Severity: SeverityError})
		}
		if p.Policy.MoveOnly && refCapture {
			diags = append(diags, Diagnostic{Code: "A-NOCAP", Message: fmt.Sprintf("%s: move_only no_capture forbids reference-mode argument captures", p.FunctionName), Severity: SeverityError})
		}
	default: // FramePolicyNone
		if implicit && frameSize > DefaultWarnBudgetBytes {
			diags = append(diags, Diagnostic{Code: "A-IMPLICIT", Message: fmt.Sprintf("%s: implicitly promoted async frame is %d bytes, exceeding the %d byte warning budget", p.FunctionName, frameSize, DefaultWarnBudgetBytes), Severity: SeverityWarning})
		}
	}
	return diags
}

// PollSignature and DropSignature implement spec.md §4.3 step 4: the poll/drop
// functions' signatures are fixed regardless of the source function's own
// signature.
func PollSignature() mir.Signature {
	return mir.Signature{Params: []mir.TypeRef{"i32", "i32"}, Return: "u32"}
}

func DropSignature() mir.Signature {
	return mir.Signature{Params: []mir.TypeRef{"i32"}, Return: "unit"}
}

// BuildArtifact implements spec.md §4.3 step 5.
func BuildArtifact(p *Plan, frameSize, frameAlign uint32, implicit bool) Artifact {
	return Artifact{
		FunctionName: p.FunctionName,
		FrameType:    p.FrameType,
		PollSymbol:   p.FunctionName + "::poll",
		DropSymbol:   p.FunctionName + "::drop",
		ResumeStates: uint32(len(p.Suspends)) + 1,
		Implicit:     implicit,
		FrameSize:    frameSize,
		FrameAlign:   frameAlign,
		StateOffset:  0,
	}
}

// ValidateDistinctBlocks enforces the distinctness invariant mentioned
// alongside GeneratorStateMachine in mir/async.go: every suspend/resume/
// drop block id in a plan must be pairwise distinct.
func ValidateDistinctBlocks(p *Plan) error {
	seen := map[mir.BlockID]string{}
	check := func(id mir.BlockID, role string) error {
		if other, ok := seen[id]; ok {
			return errors.Errorf("asyncir: %s: block %d serves both %q and %q roles, suspend/resume/drop blocks must be distinct", p.FunctionName, id, other, role)
		}
		seen[id] = role
		return nil
	}
	for i, sp := range p.Suspends {
		if err := check(sp.SuspendBlock, fmt.Sprintf("suspend#%d", i)); err != nil {
			return err
		}
		if err := check(sp.ResumeBlock, fmt.Sprintf("resume#%d", i)); err != nil {
			return err
		}
		if err := check(sp.DropBlock, fmt.Sprintf("drop#%d", i)); err != nil {
			return err
		}
	}
	return nil
}

// Lower runs the full per-function pipeline of spec.md §4.3 and returns the
// finished artifact plus any diagnostics. It does not itself synthesize the
// poll/drop bodies' bytecode; that's the emitter's job (EmitPollBody),
// invoked by the top-level Compile orchestration once every frame layout in
// the program has been registered.
func Lower(fn *mir.Function, table *layout.Table, res *layout.Resolver, implicit bool) (*Plan, Artifact, []Diagnostic, error) {
	plan, err := BuildPlan(fn)
	if err != nil {
		return nil, Artifact{}, nil, err
	}
	if err := ValidateDistinctBlocks(plan); err != nil {
		return nil, Artifact{}, nil, err
	}
	size, align, err := RegisterFrameLayout(plan, table, res)
	if err != nil {
		return nil, Artifact{}, nil, err
	}
	diags := AnalyzeFramePolicy(plan, size, implicit)
	artifact := BuildArtifact(plan, size, align, implicit)

	logrus.WithFields(logrus.Fields{
		"function":  fn.Name,
		"frameSize": size,
		"states":    artifact.ResumeStates,
	}).Debug("asyncir: lowered async plan")

	return plan, artifact, diags, nil
}
