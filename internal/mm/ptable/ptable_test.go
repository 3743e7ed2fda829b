package ptable

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ucore-lineage/ucore/internal/mm/physmem"
	"github.com/ucore-lineage/ucore/internal/mm/ppa"
)

func newFixture(t *testing.T, nrFrames int) (*Table, *ppa.Allocator) {
	t.Helper()
	alloc := ppa.New(nrFrames, ppa.FirstFit)
	alloc.Init(0, uint32(nrFrames))
	mem := physmem.New(nrFrames)
	tbl, err := New(alloc, mem)
	require.NoError(t, err)
	return tbl, alloc
}

// spec.md §8: "After Install(addr, f, perm) then Remove(addr), f.refcount
// returns to its pre-install value."
func TestInstallThenRemoveRestoresRefcount(t *testing.T) {
	tbl, alloc := newFixture(t, 16)

	frame, err := alloc.Allocate(1)
	require.NoError(t, err)
	before := alloc.RefFrame(frame).RefCount

	require.NoError(t, tbl.Install(0x00400000, frame, Perm{Writable: true, User: true}))
	require.Equal(t, before+1, alloc.RefFrame(frame).RefCount)

	tbl.Remove(0x00400000)
	require.Equal(t, before, alloc.RefFrame(frame).RefCount)
}

// spec.md §8: "For any addr, Locate(addr, false) after Remove(addr) is absent."
func TestLocateAbsentAfterRemove(t *testing.T) {
	tbl, alloc := newFixture(t, 16)

	frame, err := alloc.Allocate(1)
	require.NoError(t, err)
	require.NoError(t, tbl.Install(0x00401000, frame, Perm{Writable: true, User: true}))

	tbl.Remove(0x00401000)

	pte, ok := tbl.Locate(0x00401000, false)
	require.True(t, ok, "the table itself still exists")
	require.False(t, pte.Present)
}

func TestInstallSameFrameTwiceDoesNotDoubleCount(t *testing.T) {
	tbl, alloc := newFixture(t, 16)

	frame, err := alloc.Allocate(1)
	require.NoError(t, err)
	before := alloc.RefFrame(frame).RefCount

	require.NoError(t, tbl.Install(0x00402000, frame, Perm{Writable: true}))
	require.NoError(t, tbl.Install(0x00402000, frame, Perm{Writable: true}))

	require.Equal(t, before+1, alloc.RefFrame(frame).RefCount)
}

func TestInstallOverwritesOldMappingReleasesOldFrame(t *testing.T) {
	tbl, alloc := newFixture(t, 16)

	f1, err := alloc.Allocate(1)
	require.NoError(t, err)
	f2, err := alloc.Allocate(1)
	require.NoError(t, err)

	require.NoError(t, tbl.Install(0x00403000, f1, Perm{Writable: true}))
	require.NoError(t, tbl.Install(0x00403000, f2, Perm{Writable: true}))

	require.EqualValues(t, 0, alloc.RefFrame(f1).RefCount)
	require.EqualValues(t, 1, alloc.RefFrame(f2).RefCount)
}

func TestInvalidateCalledOnInstallAndRemove(t *testing.T) {
	tbl, alloc := newFixture(t, 16)
	frame, err := alloc.Allocate(1)
	require.NoError(t, err)

	require.NoError(t, tbl.Install(0x00404000, frame, Perm{}))
	require.Equal(t, 1, tbl.InvalidateCount())

	tbl.Remove(0x00404000)
	require.Equal(t, 2, tbl.InvalidateCount())
}

func TestCopyRangeEagerlyDuplicatesPages(t *testing.T) {
	from, alloc := newFixture(t, 32)
	to, err := New(alloc, physmem.New(32))
	require.NoError(t, err)

	frame, err := alloc.Allocate(1)
	require.NoError(t, err)
	require.NoError(t, from.Install(0x00500000, frame, Perm{Writable: true, User: true}))

	require.NoError(t, to.CopyRange(from, 0x00500000, 0x00501000))

	pte, ok := to.Locate(0x00500000, false)
	require.True(t, ok)
	require.True(t, pte.Present)
	require.NotEqual(t, frame, pte.Frame, "copy must use a fresh frame, not share the source's")
}

func TestExitRangeFreesFullyCoveredTables(t *testing.T) {
	tbl, alloc := newFixture(t, 16)
	frame, err := alloc.Allocate(1)
	require.NoError(t, err)
	require.NoError(t, tbl.Install(0x00400000, frame, Perm{}))

	tbl.UnmapRange(0x00400000, 0x00401000)
	before := alloc.NrFree()
	tbl.ExitRange(0x00000000, 0x00400000+uintptr(numEntries)*4096)

	require.Greater(t, alloc.NrFree(), before)
}
