package chicrt

import (
	"testing"

	"github.com/Chic-lang/Chic-sub011/internal/testing/require"
)

// fakeMemory is the "simple in-process fake" Memory's doc comment invites
// tests to supply. It grows only through Grow; Read and Write slice the
// backing array directly.
type fakeMemory struct{ data []byte }

func newFakeMemory(bytes uint32) *fakeMemory {
	return &fakeMemory{data: make([]byte, bytes)}
}

func (m *fakeMemory) Size() uint32 { return uint32(len(m.data)) }

func (m *fakeMemory) Grow(deltaPages uint32) (uint32, bool) {
	prev := uint32(len(m.data)) / 65536
	m.data = append(m.data, make([]byte, deltaPages*65536)...)
	return prev, true
}

func (m *fakeMemory) Read(ptr, n uint32) []byte {
	out := make([]byte, n)
	copy(out, m.data[ptr:ptr+n])
	return out
}

func (m *fakeMemory) Write(ptr uint32, data []byte) {
	copy(m.data[ptr:], data)
}

func TestArcNewCopiesPayloadAndInitializesWeakToOne(t *testing.T) {
	rt := New(newFakeMemory(1 << 22))

	const srcAddr = 1 << 20
	rt.Mem.Write(srcAddr, []byte{1, 2, 3, 4, 5, 6, 7, 8})

	const outAddr = 1 << 19
	_, err := rt.Call("arc_new", []Value{I32(outAddr), I32(srcAddr), I32(8), I32(4), I32(0), I32(7)})
	require.NoError(t, err)

	headerAddr := getU32(rt.Mem.Read(outAddr, 4))
	h := rt.readArcHeader(headerAddr)
	require.Equal(t, uint32(1), h.strong)
	require.Equal(t, uint32(1), h.weak)
	require.Equal(t, uint32(8), h.size)
	require.Equal(t, uint32(7), h.typeID)

	payload := rt.Mem.Read(headerAddr+arcHeaderSize, 8)
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, payload)
}

func TestArcNewSubstitutesLastObjectNewWhenSrcIsZero(t *testing.T) {
	rt := New(newFakeMemory(1 << 22))
	rt.typeTable[9] = typeMeta{size: 4, align: 4}

	objRes, err := rt.Call("object_new", []Value{I32(9)})
	require.NoError(t, err)
	objAddr := uint32(objRes[0].I32)
	rt.Mem.Write(objAddr, []byte{0xAA, 0xBB, 0xCC, 0xDD})

	const outAddr = 1 << 19
	_, err = rt.Call("arc_new", []Value{I32(outAddr), I32(0), I32(4), I32(4), I32(0), I32(9)})
	require.NoError(t, err)

	headerAddr := getU32(rt.Mem.Read(outAddr, 4))
	payload := rt.Mem.Read(headerAddr+arcHeaderSize, 4)
	require.Equal(t, []byte{0xAA, 0xBB, 0xCC, 0xDD}, payload)
}

func TestArcGetMutRequiresStrongAndWeakBothOne(t *testing.T) {
	rt := New(newFakeMemory(1 << 22))

	const outAddr = 1 << 19
	_, err := rt.Call("arc_new", []Value{I32(outAddr), I32(0), I32(0), I32(4), I32(0), I32(0)})
	require.NoError(t, err)
	headerAddr := getU32(rt.Mem.Read(outAddr, 4))

	res, err := rt.Call("arc_get_mut", []Value{I32(int32(headerAddr))})
	require.NoError(t, err)
	require.True(t, res[0].I32 != 0)

	_, err = rt.Call("arc_downgrade", []Value{I32(int32(headerAddr))})
	require.NoError(t, err)

	res, err = rt.Call("arc_get_mut", []Value{I32(int32(headerAddr))})
	require.NoError(t, err)
	require.Equal(t, int32(0), res[0].I32)
}

func TestWeakCountStartsAtOne(t *testing.T) {
	rt := New(newFakeMemory(1 << 22))

	const outAddr = 1 << 19
	_, err := rt.Call("arc_new", []Value{I32(outAddr), I32(0), I32(0), I32(4), I32(0), I32(0)})
	require.NoError(t, err)
	headerAddr := getU32(rt.Mem.Read(outAddr, 4))

	res, err := rt.Call("weak_count", []Value{I32(int32(headerAddr))})
	require.NoError(t, err)
	require.Equal(t, int32(1), res[0].I32)

	_, err = rt.Call("arc_downgrade", []Value{I32(int32(headerAddr))})
	require.NoError(t, err)

	res, err = rt.Call("weak_count", []Value{I32(int32(headerAddr))})
	require.NoError(t, err)
	require.Equal(t, int32(2), res[0].I32)
}
