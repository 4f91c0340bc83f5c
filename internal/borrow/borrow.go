// Package borrow implements the per-function borrow analyser of spec.md
// §4.2: entry-fact seeding, forward dataflow over the MIR CFG, and a
// diagnostic multiset. It is grounded on tetratelabs-wazero's validation
// pass shape (internal/wasm/func_validation.go): a single forward walk
// carrying a small per-block state struct, merged at join points, never
// aborting the walk on the first error.
package borrow

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Chic-lang/Chic-sub011/mir"
)

// Severity classifies a Diagnostic.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

// Diagnostic is one analyser finding.
type Diagnostic struct {
	Code     string
	Message  string
	Severity Severity
	Span     mir.Span
}

func (d Diagnostic) String() string {
	sev := "warning"
	if d.Severity == SeverityError {
		sev = "error"
	}
	if d.Span.File != "" {
		return fmt.Sprintf("%s: [%s] %s:%d:%d: %s", sev, d.Code, d.Span.File, d.Span.Line, d.Span.Col, d.Message)
	}
	return fmt.Sprintf("%s: [%s] %s", sev, d.Code, d.Message)
}

// initState tracks, per local, whether it is definitely initialised on
// entry to the block currently being processed.
type initState struct {
	init      []bool
	borrowed  map[mir.BorrowID]mir.Place
	unionTag  map[mir.LocalID]string
}

func (s initState) clone() initState {
	c := initState{init: append([]bool{}, s.init...), borrowed: map[mir.BorrowID]mir.Place{}, unionTag: map[mir.LocalID]string{}}
	for k, v := range s.borrowed {
		c.borrowed[k] = v
	}
	for k, v := range s.unionTag {
		c.unionTag[k] = v
	}
	return c
}

// merge combines two predecessor states into a successor's entry state. A
// local is definitely-init at the join only if it was definitely-init on
// every edge; disagreement is reported by the caller as a merge ambiguity.
func merge(a, b initState) (initState, bool) {
	out := initState{init: make([]bool, len(a.init)), borrowed: map[mir.BorrowID]mir.Place{}, unionTag: map[mir.LocalID]string{}}
	ambiguous := false
	for i := range a.init {
		out.init[i] = a.init[i] && b.init[i]
		if a.init[i] != b.init[i] {
			ambiguous = true
		}
	}
	for id, p := range a.borrowed {
		out.borrowed[id] = p
	}
	for id, p := range b.borrowed {
		if _, ok := out.borrowed[id]; !ok {
			out.borrowed[id] = p
		}
	}
	for l, t := range a.unionTag {
		if bt, ok := b.unionTag[l]; ok && bt == t {
			out.unionTag[l] = t
		}
	}
	return out, ambiguous
}

// Analyser runs the borrow analysis for one function at a time.
type Analyser struct {
	diags []Diagnostic
}

// New creates an empty Analyser.
func New() *Analyser { return &Analyser{} }

// Diagnostics returns every diagnostic accumulated across all Analyze calls.
func (a *Analyser) Diagnostics() []Diagnostic { return a.diags }

func (a *Analyser) report(code, msg string, sev Severity, span mir.Span) {
	a.diags = append(a.diags, Diagnostic{Code: code, Message: msg, Severity: sev, Span: span})
}

// Analyze runs the full per-function contract of spec.md §4.2 and returns
// this function's own diagnostics (also appended to the Analyser's running
// set, retrievable via Diagnostics).
func (a *Analyser) Analyze(fn *mir.Function) []Diagnostic {
	if fn.Body == nil {
		return nil
	}
	before := len(a.diags)
	body := fn.Body

	records := a.collectBorrows(body)

	entry := a.seedEntry(body)

	blockIn := make([]*initState, len(body.Blocks))
	blockIn[0] = &entry

	visited := make([]bool, len(body.Blocks))
	worklist := []mir.BlockID{body.Blocks[0].ID}

	for len(worklist) > 0 {
		id := worklist[0]
		worklist = worklist[1:]
		blk := body.Blocks[id]
		in := blockIn[id]
		if in == nil {
			continue
		}
		out := a.walkBlock(fn, blk, *in, records)
		visited[id] = true

		for _, succ := range successors(blk.Terminator) {
			if int(succ) >= len(body.Blocks) {
				continue
			}
			if blockIn[succ] == nil {
				s := out.clone()
				blockIn[succ] = &s
				worklist = append(worklist, succ)
				continue
			}
			merged, ambiguous := merge(*blockIn[succ], out)
			if ambiguous {
				a.report("B-MERGE", fmt.Sprintf("block %d: initialisation state disagrees across predecessors", succ), SeverityWarning, blk.Span)
			}
			blockIn[succ] = &merged
			worklist = append(worklist, succ)
		}
	}

	return a.diags[before:]
}

func (a *Analyser) collectBorrows(body *mir.Body) map[mir.BorrowID]mir.BorrowRecord {
	records := map[mir.BorrowID]mir.BorrowRecord{}
	var region int
	for _, blk := range body.Blocks {
		for _, st := range blk.Statements {
			if st.Kind != mir.StmtBorrow {
				continue
			}
			records[st.BorrowID] = mir.BorrowRecord{ID: st.BorrowID, Kind: st.BorrowKind, Place: st.Target, Region: mir.RegionVar(region)}
			region++
		}
	}
	return records
}

func (a *Analyser) seedEntry(body *mir.Body) initState {
	s := initState{init: make([]bool, len(body.Locals)), borrowed: map[mir.BorrowID]mir.Place{}, unionTag: map[mir.LocalID]string{}}
	for i, l := range body.Locals {
		switch l.Kind {
		case mir.LocalKindReturn:
			s.init[i] = false
		case mir.LocalKindArg:
			switch l.Mode {
			case mir.PassingModeOut:
				s.init[i] = false
			default: // Value, In, Ref all begin initialised
				s.init[i] = true
			}
		default:
			s.init[i] = false
		}
	}
	return s
}

func (a *Analyser) walkBlock(fn *mir.Function, blk *mir.BasicBlock, in initState, records map[mir.BorrowID]mir.BorrowRecord) initState {
	st := in.clone()
	for _, s := range blk.Statements {
		a.walkStatement(fn, blk, s, &st, records)
	}
	a.walkTerminator(fn, blk, blk.Terminator, &st, records)
	return st
}

func (a *Analyser) walkStatement(fn *mir.Function, blk *mir.BasicBlock, s mir.Statement, st *initState, records map[mir.BorrowID]mir.BorrowRecord) {
	switch s.Kind {
	case mir.StmtAssign:
		a.checkOperandsInit(fn, blk, s.RValue, st)
		st.init[s.Place.Local] = true

	case mir.StmtBorrow:
		rec := records[s.BorrowID]
		if !st.init[s.Target.Local] {
			a.report("B-UNINIT", fmt.Sprintf("borrow of uninitialised local %q", fn.Body.Locals[s.Target.Local].Name), SeverityError, blk.Span)
		}
		st.borrowed[s.BorrowID] = rec.Place

	case mir.StmtDrop, mir.StmtDeferDrop:
		if !st.init[s.Target.Local] {
			a.report("B-UNINIT", fmt.Sprintf("drop of uninitialised local %q", fn.Body.Locals[s.Target.Local].Name), SeverityError, blk.Span)
		}
		st.init[s.Target.Local] = false

	case mir.StmtDeinit:
		st.init[s.Target.Local] = false

	case mir.StmtDefaultInit, mir.StmtZeroInit, mir.StmtZeroInitRaw:
		st.init[s.Target.Local] = true

	case mir.StmtStorageDead:
		st.init[s.Target.Local] = false
		local := fn.Body.Locals[s.Target.Local]
		if local.Pinned {
			if p, ok := escapesFrame(s.Target, records, st); ok {
				a.report("B-ESCAPE", fmt.Sprintf("pinned local %q escapes its frame via borrow of %v", local.Name, p), SeverityError, blk.Span)
			}
		}

	case mir.StmtMmioStore, mir.StmtStaticStore, mir.StmtAtomicStore:
		if s.Address.Kind == mir.OperandUse && !st.init[s.Address.Place.Local] {
			a.report("B-UNINIT", "store target address read before initialisation", SeverityError, blk.Span)
		}

	case mir.StmtAssert:
		if s.Condition.Kind == mir.OperandUse && !st.init[s.Condition.Place.Local] {
			a.report("B-UNINIT", "assert condition read before initialisation", SeverityError, blk.Span)
		}
	}
}

func escapesFrame(target mir.Place, records map[mir.BorrowID]mir.BorrowRecord, st *initState) (mir.Place, bool) {
	for id, p := range st.borrowed {
		rec, ok := records[id]
		if ok && rec.Place.Local == target.Local {
			return p, true
		}
	}
	return mir.Place{}, false
}

func (a *Analyser) walkTerminator(fn *mir.Function, blk *mir.BasicBlock, t mir.Terminator, st *initState, records map[mir.BorrowID]mir.BorrowRecord) {
	switch t.Kind {
	case mir.TermReturn:
		if !st.init[0] {
			a.report("B-UNINIT", fmt.Sprintf("function %q: return local is not initialised on return", fn.Name), SeverityError, blk.Span)
		}
	case mir.TermCall:
		for i, arg := range t.Args {
			if arg.Kind != mir.OperandUse {
				continue
			}
			mode := mir.PassingModeValue
			if i < len(t.ArgModes) {
				mode = t.ArgModes[i]
			}
			if mode == mir.PassingModeOut {
				continue
			}
			if !st.init[arg.Place.Local] {
				a.report("B-UNINIT", fmt.Sprintf("function %q: call argument %d read before initialisation", fn.Name, i), SeverityError, blk.Span)
			}
		}
		if t.Destination != nil {
			st.init[t.Destination.Local] = true
		}
	case mir.TermSwitchInt:
		if t.Discriminant.Kind == mir.OperandUse && !st.init[t.Discriminant.Place.Local] {
			a.report("B-UNINIT", "switch discriminant read before initialisation", SeverityError, blk.Span)
		}
	case mir.TermAwait, mir.TermYield:
		// Persist the live borrow set so resumption restores it rather than
		// double-releasing borrows acquired before the suspend (spec.md
		// §4.2 step 4); the snapshot itself is just st.borrowed, carried
		// forward unchanged into the successor state by Analyze's merge.
		logrus.WithField("function", fn.Name).WithField("borrows", len(st.borrowed)).Trace("borrow analyser: persisting borrow set across suspension point")
	}
}

func (a *Analyser) checkOperandsInit(fn *mir.Function, blk *mir.BasicBlock, rv mir.RValue, st *initState) {
	check := func(op mir.Operand) {
		if op.Kind == mir.OperandUse && !st.init[op.Place.Local] {
			a.report("B-UNINIT", fmt.Sprintf("function %q: local %q read before initialisation", fn.Name, fn.Body.Locals[op.Place.Local].Name), SeverityError, blk.Span)
		}
	}
	switch rv.Kind {
	case mir.RValueUse, mir.RValueUnary, mir.RValueCast, mir.RValueAddressOf:
		check(rv.Operand)
	case mir.RValueBinary:
		check(rv.LHS)
		check(rv.RHS)
	case mir.RValueAggregate:
		for _, f := range rv.Fields {
			check(f)
		}
	}
}

func successors(t mir.Terminator) []mir.BlockID {
	switch t.Kind {
	case mir.TermGoto:
		return []mir.BlockID{t.Target}
	case mir.TermSwitchInt:
		ids := []mir.BlockID{t.Otherwise}
		for _, arm := range t.Arms {
			ids = append(ids, arm.Target)
		}
		return ids
	case mir.TermMatch:
		ids := []mir.BlockID{t.Otherwise}
		for _, arm := range t.MatchArms {
			ids = append(ids, arm.Target)
		}
		return ids
	case mir.TermCall:
		ids := []mir.BlockID{t.CallTarget}
		if t.Unwind != nil {
			ids = append(ids, *t.Unwind)
		}
		return ids
	case mir.TermYield:
		return []mir.BlockID{t.ResumeBlock, t.DropBlock}
	case mir.TermAwait:
		return []mir.BlockID{t.ResumeBlock, t.DropBlock}
	default:
		return nil
	}
}
