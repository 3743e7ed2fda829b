package pre

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ucore-lineage/ucore/internal/mm/as"
	"github.com/ucore-lineage/ucore/internal/mm/memlayout"
	"github.com/ucore-lineage/ucore/internal/mm/physmem"
	"github.com/ucore-lineage/ucore/internal/mm/ppa"
	"github.com/ucore-lineage/ucore/internal/mm/ptable"
)

type memStore struct {
	slots map[uint32][]byte
}

func newMemStore() *memStore { return &memStore{slots: make(map[uint32][]byte)} }

func (m *memStore) WriteSlot(slot uint32, page []byte) error {
	cp := make([]byte, len(page))
	copy(cp, page)
	m.slots[slot] = cp
	return nil
}

func (m *memStore) ReadSlot(slot uint32) ([]byte, error) {
	return m.slots[slot], nil
}

func newASFixture(t *testing.T, nrFrames int) (*as.AS, *ppa.Allocator) {
	t.Helper()
	alloc := ppa.New(nrFrames, ppa.FirstFit)
	alloc.Init(0, uint32(nrFrames))
	mem := physmem.New(nrFrames)
	a, err := as.New(alloc, mem)
	require.NoError(t, err)
	return a, alloc
}

func TestFIFOSelectsOldestFirst(t *testing.T) {
	e := New(FIFOPolicy{}, newMemStore(), true)
	a, _ := newASFixture(t, 16)
	e.InitAS(a)

	e.MapSwappable(a, 0x1000, false)
	e.MapSwappable(a, 0x2000, false)
	e.MapSwappable(a, 0x3000, false)

	s := e.states[a]
	addr, ok := e.policy.SelectVictim(a.Table, s)
	require.True(t, ok)
	require.EqualValues(t, 0x1000, addr)

	addr, ok = e.policy.SelectVictim(a.Table, s)
	require.True(t, ok)
	require.EqualValues(t, 0x2000, addr)

	addr, ok = e.policy.SelectVictim(a.Table, s)
	require.True(t, ok)
	require.EqualValues(t, 0x3000, addr)

	_, ok = e.policy.SelectVictim(a.Table, s)
	require.False(t, ok)
}

func TestSetUnswappableRemovesCandidate(t *testing.T) {
	e := New(FIFOPolicy{}, newMemStore(), true)
	a, _ := newASFixture(t, 16)
	e.InitAS(a)

	e.MapSwappable(a, 0x1000, false)
	e.MapSwappable(a, 0x2000, false)
	e.SetUnswappable(a, 0x1000)

	s := e.states[a]
	addr, ok := e.policy.SelectVictim(a.Table, s)
	require.True(t, ok)
	require.EqualValues(t, 0x2000, addr)
}

// spec.md §8 scenario 5: write 0x5A, evict via FIFO, read back 0x5A
// after swap-in.
func TestSwapOutSwapInRoundTrip(t *testing.T) {
	a, alloc := newASFixture(t, 16)
	e := New(FIFOPolicy{}, newMemStore(), true)
	e.InitAS(a)

	v, err := a.Map(memlayout.UserBase, memlayout.PageSize, as.Flags{Read: true, Write: true})
	require.NoError(t, err)

	frame, err := alloc.Allocate(1)
	require.NoError(t, err)
	require.NoError(t, a.Table.Install(v.Start, frame, ptable.Perm{Writable: true, User: true}))
	a.Table.WriteFramePage(frame, append([]byte{0x5A}, make([]byte, memlayout.PageSize-1)...))
	e.MapSwappable(a, v.Start, false)

	require.NoError(t, e.SwapOutVictim(a, 1, false))

	pte, ok := a.Table.Locate(v.Start, false)
	require.True(t, ok)
	require.False(t, pte.Present)
	require.NotZero(t, pte.SwapSlot)

	newFrame, err := e.SwapIn(a, v.Start, alloc)
	require.NoError(t, err)
	require.NoError(t, a.Table.Install(v.Start, newFrame, ptable.Perm{Writable: true, User: true}))

	page := a.Table.ReadFramePage(newFrame)
	require.Equal(t, byte(0x5A), page[0])
}

func TestEnhancedClockPrefersUnaccessedUnmodified(t *testing.T) {
	a, alloc := newASFixture(t, 16)
	e := New(EnhancedClockPolicy{}, newMemStore(), true)
	e.InitAS(a)

	addrs := []uintptr{memlayout.UserBase, memlayout.UserBase + memlayout.PageSize, memlayout.UserBase + 2*memlayout.PageSize}
	for i, addr := range addrs {
		_, err := a.Map(addr, memlayout.PageSize, as.Flags{Read: true, Write: true})
		require.NoError(t, err)
		frame, err := alloc.Allocate(1)
		require.NoError(t, err)
		require.NoError(t, a.Table.Install(addr, frame, ptable.Perm{Writable: true, User: true}))
		e.MapSwappable(a, addr, false)
		_ = i
	}

	// addrs[0]: accessed, dirty. addrs[1]: accessed, clean. addrs[2]: unaccessed, clean.
	pte0, _ := a.Table.Locate(addrs[0], false)
	pte0.Accessed, pte0.Dirty = true, true
	pte1, _ := a.Table.Locate(addrs[1], false)
	pte1.Accessed, pte1.Dirty = true, false
	pte2, _ := a.Table.Locate(addrs[2], false)
	pte2.Accessed, pte2.Dirty = false, false

	s := e.states[a]
	victim, ok := e.policy.SelectVictim(a.Table, s)
	require.True(t, ok)
	require.Equal(t, addrs[2], victim, "an (accessed=0, dirty=0) page must win the first pass")
}

func TestExtendedClockFallsBackToOldestWhenAllDirty(t *testing.T) {
	a, alloc := newASFixture(t, 16)
	e := New(ExtendedClockPolicy{}, newMemStore(), true)
	e.InitAS(a)

	addrs := []uintptr{memlayout.UserBase, memlayout.UserBase + memlayout.PageSize, memlayout.UserBase + 2*memlayout.PageSize}
	for _, addr := range addrs {
		_, err := a.Map(addr, memlayout.PageSize, as.Flags{Read: true, Write: true})
		require.NoError(t, err)
		frame, err := alloc.Allocate(1)
		require.NoError(t, err)
		require.NoError(t, a.Table.Install(addr, frame, ptable.Perm{Writable: true, User: true}))
		e.MapSwappable(a, addr, false)
		pte, _ := a.Table.Locate(addr, false)
		pte.Dirty = true
	}

	s := e.states[a]
	victim, ok := e.policy.SelectVictim(a.Table, s)
	require.True(t, ok)
	require.Equal(t, addrs[0], victim, "with every page dirty, the sweep clears dirty bits and falls back to the oldest")
}
