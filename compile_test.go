package wasmgen_test

import (
	"testing"

	wasmgen "github.com/Chic-lang/Chic-sub011"
	"github.com/Chic-lang/Chic-sub011/api"
	"github.com/Chic-lang/Chic-sub011/internal/interpreter"
	"github.com/Chic-lang/Chic-sub011/internal/testing/require"
	"github.com/Chic-lang/Chic-sub011/internal/wasmgen/module"
	"github.com/Chic-lang/Chic-sub011/mir"
)

// trivialMain builds `func Main() int { return 0 }` as a single-block MIR
// body: assign the constant 0 to the Return local, then return it.
func trivialMain(name string) *mir.Function {
	return &mir.Function{
		Name: name,
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
						Operand: mir.Operand{Kind: mir.OperandConstant, Constant: mir.Constant{Kind: mir.ConstI32, I: 0}},
					},
				}},
				Terminator: mir.Terminator{Kind: mir.TermReturn},
			}},
		},
	}
}

// S1. Trivial executable: one Main() returning 0, single Return block.
func TestCompileTrivialExecutable(t *testing.T) {
	mod := &mir.Module{Kind: mir.ChicExecutable, Functions: []*mir.Function{trivialMain("Main")}}

	result, err := wasmgen.Compile(mod, wasmgen.Options{Kind: api.KindExecutable})
	require.NoError(t, err)

	wantMagic := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	require.Equal(t, wantMagic, result.Binary[:8])

	built, err := module.Decode(result.Binary)
	require.NoError(t, err)

	var sawMemory, sawMain bool
	for _, ex := range built.Exports {
		if ex.Name == "memory" {
			sawMemory = true
		}
		if ex.Name == "Main" {
			sawMain = true
		}
	}
	require.True(t, sawMemory)
	require.True(t, sawMain)

	interp, err := interpreter.New(built)
	require.NoError(t, err)
	results, err := interp.Call("Main")
	require.NoError(t, err)
	require.Equal(t, int32(0), results[0].I32)
}

// S2. Missing entry: no function named Main, Kind stays Executable. Expect
// a diagnostic whose message mentions Main.
func TestCompileMissingEntry(t *testing.T) {
	mod := &mir.Module{Kind: mir.ChicExecutable, Functions: []*mir.Function{trivialMain("NotMain")}}

	_, err := wasmgen.Compile(mod, wasmgen.Options{Kind: api.KindExecutable})
	require.Error(t, err)
	require.True(t, contains(err.Error(), "Main"))
}

// S3. No-main executable: same as S2 but NoMain set. Expect success and no
// Main export.
func TestCompileNoMainExecutable(t *testing.T) {
	mod := &mir.Module{Kind: mir.ChicExecutable, NoMain: true, Functions: []*mir.Function{trivialMain("NotMain")}}

	result, err := wasmgen.Compile(mod, wasmgen.Options{Kind: api.KindExecutable, NoMain: true})
	require.NoError(t, err)

	built, err := module.Decode(result.Binary)
	require.NoError(t, err)
	for _, ex := range built.Exports {
		require.True(t, ex.Name != "Main")
	}
}

// Entry selection with a namespaced Main declared first:
// a shallower Main wins over a deeper one regardless of declaration order.
func TestCompileEntrySelectionPrefersShallowest(t *testing.T) {
	deep := trivialMain("Outer::Main")
	shallow := trivialMain("Main")
	mod := &mir.Module{Kind: mir.ChicExecutable, Functions: []*mir.Function{deep, shallow}}

	result, err := wasmgen.Compile(mod, wasmgen.Options{Kind: api.KindExecutable})
	require.NoError(t, err)

	built, err := module.Decode(result.Binary)
	require.NoError(t, err)

	var sawMain bool
	for _, ex := range built.Exports {
		if ex.Name == "Main" {
			sawMain = true
		}
	}
	require.True(t, sawMain)
}

// awaitOnce builds an async function with a single Await suspend point:
// `AwaitOnce(fut ptr) int` stores fut in its AsyncFrame, polls it once per
// resume, and returns whatever async_token_state reports once it's ready.
// Exercises asyncir.Lower, EmitAsyncEntry, EmitPollBody and EmitDropBody end
// to end through Compile (spec.md §8 S4-class coverage).
func awaitOnce() *mir.Function {
	futureLocal := mir.LocalID(1)
	destLocal := mir.LocalID(2)
	return &mir.Function{
		Name: "AwaitOnce",
		Sig:  mir.Signature{Params: []mir.TypeRef{"ptr"}, Return: "int"},
		Body: &mir.Body{
			Locals: []mir.Local{
				{Name: "ret", Type: "int", Kind: mir.LocalKindReturn},
				{Name: "fut", Type: "ptr", Kind: mir.LocalKindArg, Mode: mir.PassingModeValue, ArgIdx: 0},
				{Name: "got", Type: "int"},
			},
			Blocks: []*mir.BasicBlock{
				{
					ID: 0,
					Terminator: mir.Terminator{
						Kind:        mir.TermAwait,
						FuturePlace: mir.Place{Local: futureLocal},
						Destination: &mir.Place{Local: destLocal},
						ResumeBlock: 1,
						DropBlock:   2,
					},
				},
				{
					ID: 1,
					Statements: []mir.Statement{{
						Kind:  mir.StmtAssign,
						Place: mir.Place{Local: 0},
						RValue: mir.RValue{
							Kind:    mir.RValueUse,
							Operand: mir.Operand{Kind: mir.OperandUse, Place: mir.Place{Local: destLocal}},
						},
					}},
					Terminator: mir.Terminator{Kind: mir.TermReturn},
				},
				{
					ID:         2,
					Statements: []mir.Statement{{Kind: mir.StmtDeinit, Target: mir.Place{Local: futureLocal}}},
					Terminator: mir.Terminator{Kind: mir.TermReturn},
				},
			},
			Async: &mir.AsyncStateMachine{
				Suspends: []mir.SuspendPoint{{
					ID:           0,
					SuspendBlock: 0,
					ResumeBlock:  1,
					DropBlock:    2,
					FutureLocal:  futureLocal,
					DestLocal:    &destLocal,
				}},
				Frame: []mir.FrameField{{Local: futureLocal, Type: "ptr"}},
			},
		},
	}
}

// S4-class: an async function with one await suspend point lowers cleanly
// through asyncir and the emitter, producing its own entry point plus
// distinct poll/drop shims (three extra functions alongside Main).
func TestCompileAsyncAwaitShimsEmitted(t *testing.T) {
	mod := &mir.Module{Kind: mir.ChicExecutable, Functions: []*mir.Function{trivialMain("Main"), awaitOnce()}}

	result, err := wasmgen.Compile(mod, wasmgen.Options{Kind: api.KindExecutable})
	require.NoError(t, err)
	require.Equal(t, 0, len(result.Diagnostics))

	built, err := module.Decode(result.Binary)
	require.NoError(t, err)

	// Main + AwaitOnce entry + AwaitOnce::poll + AwaitOnce::drop.
	require.Equal(t, 4, len(built.Code))

	var sawPollSig, sawDropSig bool
	for _, ti := range built.FuncTypeIndices {
		ft := built.Types[ti]
		if len(ft.Params) == 2 && len(ft.Results) == 1 {
			sawPollSig = true
		}
		if len(ft.Params) == 1 && len(ft.Results) == 0 {
			sawDropSig = true
		}
	}
	require.True(t, sawPollSig)
	require.True(t, sawDropSig)
}

// S6 from spec.md §8: a function with a SIMD-typed local fails emission with
// an error that names the unsupported type verbatim, rather than a generic
// "no resolvable layout" message.
func simdLocalFn(name string) *mir.Function {
	return &mir.Function{
		Name: name,
		Sig:  mir.Signature{Return: "int"},
		Body: &mir.Body{
			Locals: []mir.Local{
				{Name: "ret", Type: "int", Kind: mir.LocalKindReturn},
				{Name: "v", Type: "Simd::Float32x4", Kind: mir.LocalKindLocal},
			},
			Blocks: []*mir.BasicBlock{{
				ID: 0,
				Statements: []mir.Statement{{
					Kind:  mir.StmtAssign,
					Place: mir.Place{Local: 0},
					RValue: mir.RValue{
						Kind:    mir.RValueUse,
						Operand: mir.Operand{Kind: mir.OperandConstant, Constant: mir.Constant{Kind: mir.ConstI32, I: 0}},
					},
				}},
				Terminator: mir.Terminator{Kind: mir.TermReturn},
			}},
		},
	}
}

func TestCompileRejectsSIMDLocal(t *testing.T) {
	mod := &mir.Module{Kind: mir.ChicExecutable, Functions: []*mir.Function{simdLocalFn("Main")}}

	_, err := wasmgen.Compile(mod, wasmgen.Options{Kind: api.KindExecutable})
	require.Error(t, err)
	require.True(t, contains(err.Error(), "SIMD vectors"))
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
