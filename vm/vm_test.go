package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mem"
)

func newTestUvm(t *testing.T, npages int) *Uvm {
	t.Helper()
	a := mem.NewAllocator(npages)
	pt, err := New(a)
	require.NoError(t, err)
	return NewUvm(pt)
}

func TestGrowMapsPagesAndUpdatesSize(t *testing.T) {
	u := newTestUvm(t, 8)

	require.NoError(t, u.Grow(VA_t(2*PGSIZE), PTE_W))
	assert.Equal(t, VA_t(2*PGSIZE), u.Size)

	_, err := u.PT.WalkAddr(0)
	assert.NoError(t, err)
	_, err = u.PT.WalkAddr(VA_t(PGSIZE))
	assert.NoError(t, err)
}

func TestGrowIsNoopWhenNotLarger(t *testing.T) {
	u := newTestUvm(t, 8)
	require.NoError(t, u.Grow(VA_t(PGSIZE), PTE_W))
	require.NoError(t, u.Grow(VA_t(PGSIZE)/2, PTE_W))
	assert.Equal(t, VA_t(PGSIZE), u.Size, "shrinking via Grow must be a no-op")
}

func TestShrinkUnmapsPages(t *testing.T) {
	u := newTestUvm(t, 8)
	require.NoError(t, u.Grow(VA_t(3*PGSIZE), PTE_W))

	u.Shrink(VA_t(PGSIZE))
	assert.Equal(t, VA_t(PGSIZE), u.Size)

	_, err := u.PT.WalkAddr(VA_t(2 * PGSIZE))
	assert.Error(t, err, "page beyond the shrunk size must no longer be mapped")
}

func TestCopyOutCopyInRoundTrip(t *testing.T) {
	u := newTestUvm(t, 8)
	require.NoError(t, u.Grow(VA_t(PGSIZE), PTE_W))

	want := []byte("hello, uvm")
	require.NoError(t, u.PT.CopyOut(0, want))

	got := make([]byte, len(want))
	require.NoError(t, u.PT.CopyIn(0, got))
	assert.Equal(t, want, got)
}

func TestCopyOutAcrossPageBoundary(t *testing.T) {
	u := newTestUvm(t, 8)
	require.NoError(t, u.Grow(VA_t(2*PGSIZE), PTE_W))

	want := make([]byte, PGSIZE+16)
	for i := range want {
		want[i] = byte(i)
	}
	require.NoError(t, u.PT.CopyOut(VA_t(PGSIZE/2), want))

	got := make([]byte, len(want))
	require.NoError(t, u.PT.CopyIn(VA_t(PGSIZE/2), got))
	assert.Equal(t, want, got)
}

func TestCopyInStringStopsAtNUL(t *testing.T) {
	u := newTestUvm(t, 8)
	require.NoError(t, u.Grow(VA_t(PGSIZE), PTE_W))

	require.NoError(t, u.PT.CopyOut(0, []byte("/etc/passwd\x00trailing junk")))

	got, err := u.PT.CopyInString(0, 64)
	require.NoError(t, err)
	assert.Equal(t, "/etc/passwd", got)
}

func TestCopyUserPagesIndependentOfParent(t *testing.T) {
	parent := newTestUvm(t, 8)
	require.NoError(t, parent.Grow(VA_t(PGSIZE), PTE_W))
	require.NoError(t, parent.PT.CopyOut(0, []byte("parent data")))

	child := newTestUvm(t, 8)
	require.NoError(t, parent.Copy(child))
	assert.Equal(t, parent.Size, child.Size)

	require.NoError(t, parent.PT.CopyOut(0, []byte("overwritten!")))

	got := make([]byte, len("parent data"))
	require.NoError(t, child.PT.CopyIn(0, got))
	assert.Equal(t, "parent data", string(got), "fork's copy must be a deep copy, not shared pages")
}

func TestCopyOutBeyondMappingFails(t *testing.T) {
	u := newTestUvm(t, 8)
	require.NoError(t, u.Grow(VA_t(PGSIZE), PTE_W))
	assert.Error(t, u.PT.CopyOut(VA_t(PGSIZE), []byte("x")))
}
