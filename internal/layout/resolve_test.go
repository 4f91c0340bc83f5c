package layout

import (
	"testing"

	"github.com/Chic-lang/Chic-sub011/internal/testing/require"
	"github.com/Chic-lang/Chic-sub011/mir"
)

func u32p(v uint32) *uint32 { return &v }

func pairTable() *Table {
	return New(map[string]*TypeLayout{
		"Demo::Pair": {
			Name: "Demo::Pair", Kind: KindStruct,
			Fields: []Field{
				{Name: "X", Type: "int", DeclIndex: 0, Offset: 0},
				{Name: "Y", Type: "int", DeclIndex: 1, Offset: 4},
			},
			Size: u32p(8), Align: u32p(4),
		},
	})
}

// S4 from spec.md §8.
func TestComputeProjectionOffset_StructField(t *testing.T) {
	r := NewResolver(pairTable())

	off, ty, err := r.ComputeProjectionOffset("Demo::Pair", []mir.Projection{
		{Kind: mir.ProjectionFieldNamed, Name: "Y"},
	})
	require.NoError(t, err)
	require.Equal(t, uint32(4), off)
	require.Equal(t, mir.TypeRef("int"), ty)
}

// S5 from spec.md §8.
func TestComputeProjectionOffset_RejectsScalarRoot(t *testing.T) {
	r := NewResolver(New(nil))
	_, _, err := r.ComputeProjectionOffset("int", []mir.Projection{{Kind: mir.ProjectionField, Index: 0}})
	require.Error(t, err)
}

// Invariant 1: projecting by index and by name yields the same offset.
func TestProjectionByIndexAndName_SameOffset(t *testing.T) {
	r := NewResolver(pairTable())

	byIndex, _, err := r.ComputeProjectionOffset("Demo::Pair", []mir.Projection{{Kind: mir.ProjectionField, Index: 1}})
	require.NoError(t, err)
	byName, _, err := r.ComputeProjectionOffset("Demo::Pair", []mir.Projection{{Kind: mir.ProjectionFieldNamed, Name: "Y"}})
	require.NoError(t, err)
	require.Equal(t, byIndex, byName)
}

func TestAggregateAllocation_RoundTrips(t *testing.T) {
	r := NewResolver(pairTable())
	size, align, ok, err := r.AggregateAllocation("Demo::Pair")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(8), size)
	require.Equal(t, uint32(4), align)
}

func TestAggregateAllocation_TraitObjectAndInt128(t *testing.T) {
	r := NewResolver(New(nil))

	size, align, ok, err := r.AggregateAllocation("dyn Drawable")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(16), size)
	require.Equal(t, uint32(8), align)

	size, align, ok, err = r.AggregateAllocation("i128")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(16), size)
	require.Equal(t, uint32(16), align)
}

// AggregateAllocation propagates ErrSIMDUnsupported verbatim rather than
// collapsing it into a generic "no layout" result (spec.md §8 S6).
func TestAggregateAllocation_SIMDRejected(t *testing.T) {
	r := NewResolver(New(nil))
	_, _, ok, err := r.AggregateAllocation("Simd::Float32x4")
	require.False(t, ok)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrSIMDUnsupported)
}

func TestRequiresMemory(t *testing.T) {
	r := NewResolver(pairTable())
	require.False(t, r.RequiresMemory("int"))
	require.False(t, r.RequiresMemory("bool"))
	require.True(t, r.RequiresMemory("Demo::Pair"))
	require.True(t, r.RequiresMemory("i128"))
	require.True(t, r.RequiresMemory("dyn Drawable"))
}

func TestLookupLayout_SIMDRejected(t *testing.T) {
	r := NewResolver(New(nil))
	_, err := r.LookupLayout("Simd::Float32x4")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrSIMDUnsupported)
}

func TestLookupLayout_UnknownReturnsNoLayoutNotError(t *testing.T) {
	r := NewResolver(New(nil))
	l, err := r.LookupLayout("Totally::Unknown")
	require.NoError(t, err)
	require.Nil(t, l)
}

func TestLookupLayout_UnqualifiedFallback(t *testing.T) {
	tbl := pairTable()
	r := NewResolver(tbl)
	l, err := r.LookupLayout("Pair")
	require.NoError(t, err)
	require.NotNil(t, l)
	require.Equal(t, "Demo::Pair", l.Name)
}

// S7-adjacent: Future<T>/Task<T> synthesis and caching (spec.md §4.1).
func TestSynthesizeFutureAndTask(t *testing.T) {
	r := NewResolver(New(nil))

	future, err := r.LookupLayout("Future<int>")
	require.NoError(t, err)
	require.NotNil(t, future)
	require.Equal(t, KindStruct, future.Kind)
	if _, ok := future.FieldByName("Result"); !ok {
		t.Fatalf("expected Future<int> layout to carry a Result field")
	}

	again, err := r.LookupLayout("Future<int>")
	require.NoError(t, err)
	require.True(t, future == again)

	task, err := r.LookupLayout("Task<int>")
	require.NoError(t, err)
	require.NotNil(t, task)
	inner, ok := task.FieldByName("InnerFuture")
	require.True(t, ok)
	require.True(t, inner.Offset > 0)
}

func TestAlignmentMonotonicity(t *testing.T) {
	for _, c := range []struct{ off, align uint32 }{
		{0, 4}, {1, 4}, {3, 4}, {4, 4}, {5, 8}, {9, 16},
	} {
		got := alignUp(c.off, c.align)
		if got < c.off {
			t.Fatalf("alignUp(%d, %d) = %d, want >= %d", c.off, c.align, got, c.off)
		}
		if got%c.align != 0 {
			t.Fatalf("alignUp(%d, %d) = %d, not divisible by %d", c.off, c.align, got, c.align)
		}
	}
}
