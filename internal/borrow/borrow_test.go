package borrow_test

import (
	"testing"

	"github.com/Chic-lang/Chic-sub011/internal/borrow"
	"github.com/Chic-lang/Chic-sub011/internal/testing/require"
	"github.com/Chic-lang/Chic-sub011/mir"
)

func codeOf(diags []borrow.Diagnostic, code string) bool {
	for _, d := range diags {
		if d.Code == code {
			return true
		}
	}
	return false
}

// A function returning its Return local without ever assigning it must
// report B-UNINIT on the return terminator.
func TestAnalyzeUninitializedReturn(t *testing.T) {
	fn := &mir.Function{
		Name: "NeverAssigns",
		Sig:  mir.Signature{Return: "int"},
		Body: &mir.Body{
			Locals: []mir.Local{{Name: "ret", Type: "int", Kind: mir.LocalKindReturn}},
			Blocks: []*mir.BasicBlock{{
				ID:         0,
				Terminator: mir.Terminator{Kind: mir.TermReturn},
			}},
		},
	}

	a := borrow.New()
	diags := a.Analyze(fn)
	require.True(t, codeOf(diags, "B-UNINIT"))
}

// Assigning the Return local before the return terminator clears the
// diagnostic seen in TestAnalyzeUninitializedReturn.
func TestAnalyzeInitializedReturnIsClean(t *testing.T) {
	fn := &mir.Function{
		Name: "AlwaysAssigns",
		Sig:  mir.Signature{Return: "int"},
		Body: &mir.Body{
			Locals: []mir.Local{{Name: "ret", Type: "int", Kind: mir.LocalKindReturn}},
			Blocks: []*mir.BasicBlock{{
				ID: 0,
				Statements: []mir.Statement{{
					Kind:  mir.StmtAssign,
					Place: mir.Place{Local: 0},
					RValue: mir.RValue{
						Kind:    mir.RValueUse,
						Operand: mir.Operand{Kind: mir.OperandConstant, Constant: mir.Constant{Kind: mir.ConstI32, I: 1}},
					},
				}},
				Terminator: mir.Terminator{Kind: mir.TermReturn},
			}},
		},
	}

	a := borrow.New()
	diags := a.Analyze(fn)
	require.True(t, !codeOf(diags, "B-UNINIT"))
}

// Reading an Out-mode argument before it is ever written reports B-UNINIT,
// since seedEntry marks Out-mode locals uninitialised on entry.
func TestAnalyzeUninitializedOutArgRead(t *testing.T) {
	fn := &mir.Function{
		Name: "ReadsOutBeforeWrite",
		Sig:  mir.Signature{Return: "int", Params: []mir.TypeRef{"int"}},
		Body: &mir.Body{
			Locals: []mir.Local{
				{Name: "ret", Type: "int", Kind: mir.LocalKindReturn},
				{Name: "out", Type: "int", Kind: mir.LocalKindArg, Mode: mir.PassingModeOut, ArgIdx: 0},
			},
			Blocks: []*mir.BasicBlock{{
				ID: 0,
				Statements: []mir.Statement{{
					Kind:  mir.StmtAssign,
					Place: mir.Place{Local: 0},
					RValue: mir.RValue{
						Kind:    mir.RValueUse,
						Operand: mir.Operand{Kind: mir.OperandUse, Place: mir.Place{Local: 1}},
					},
				}},
				Terminator: mir.Terminator{Kind: mir.TermReturn},
			}},
		},
	}

	a := borrow.New()
	diags := a.Analyze(fn)
	require.True(t, codeOf(diags, "B-UNINIT"))
}

// Borrowing an uninitialised local reports B-UNINIT at the borrow site
// itself, not just at eventual use.
func TestAnalyzeBorrowOfUninitializedLocal(t *testing.T) {
	fn := &mir.Function{
		Name: "BorrowsBeforeInit",
		Sig:  mir.Signature{Return: "int"},
		Body: &mir.Body{
			Locals: []mir.Local{
				{Name: "ret", Type: "int", Kind: mir.LocalKindReturn},
				{Name: "v", Type: "int"},
			},
			Blocks: []*mir.BasicBlock{{
				ID: 0,
				Statements: []mir.Statement{
					{Kind: mir.StmtBorrow, BorrowID: 0, BorrowKind: mir.BorrowShared, Target: mir.Place{Local: 1}},
					{
						Kind:  mir.StmtAssign,
						Place: mir.Place{Local: 0},
						RValue: mir.RValue{
							Kind:    mir.RValueUse,
							Operand: mir.Operand{Kind: mir.OperandConstant, Constant: mir.Constant{Kind: mir.ConstI32, I: 0}},
						},
					},
				},
				Terminator: mir.Terminator{Kind: mir.TermReturn},
			}},
		},
	}

	a := borrow.New()
	diags := a.Analyze(fn)
	require.True(t, codeOf(diags, "B-UNINIT"))
}

// Two predecessors disagreeing on whether a local is initialised at their
// common successor reports B-MERGE there, even though neither predecessor
// block has any diagnostic of its own.
func TestAnalyzeMergeAmbiguity(t *testing.T) {
	fn := &mir.Function{
		Name: "DivergentInit",
		Sig:  mir.Signature{Return: "int"},
		Body: &mir.Body{
			Locals: []mir.Local{
				{Name: "ret", Type: "int", Kind: mir.LocalKindReturn},
				{Name: "cond", Type: "bool", Kind: mir.LocalKindArg, Mode: mir.PassingModeValue, ArgIdx: 0},
				{Name: "v", Type: "int"},
			},
			Blocks: []*mir.BasicBlock{
				{
					ID: 0,
					Terminator: mir.Terminator{
						Kind:         mir.TermSwitchInt,
						Discriminant: mir.Operand{Kind: mir.OperandUse, Place: mir.Place{Local: 1}},
						Arms:         []mir.SwitchArm{{Value: 1, Target: 1}},
						Otherwise:    2,
					},
				},
				{
					ID: 1,
					Statements: []mir.Statement{{
						Kind:  mir.StmtAssign,
						Place: mir.Place{Local: 2},
						RValue: mir.RValue{
							Kind:    mir.RValueUse,
							Operand: mir.Operand{Kind: mir.OperandConstant, Constant: mir.Constant{Kind: mir.ConstI32, I: 1}},
						},
					}},
					Terminator: mir.Terminator{Kind: mir.TermGoto, Target: 3},
				},
				{
					ID:         2,
					Terminator: mir.Terminator{Kind: mir.TermGoto, Target: 3},
				},
				{
					ID: 3,
					Statements: []mir.Statement{{
						Kind:  mir.StmtAssign,
						Place: mir.Place{Local: 0},
						RValue: mir.RValue{
							Kind:    mir.RValueUse,
							Operand: mir.Operand{Kind: mir.OperandUse, Place: mir.Place{Local: 2}},
						},
					}},
					Terminator: mir.Terminator{Kind: mir.TermReturn},
				},
			},
		},
	}

	a := borrow.New()
	diags := a.Analyze(fn)
	require.True(t, codeOf(diags, "B-MERGE"))
	require.True(t, codeOf(diags, "B-UNINIT"))
}
