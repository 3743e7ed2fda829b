package kheap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ucore-lineage/ucore/internal/mm/ppa"
)

func newFixture(t *testing.T, nrFrames, heapFrames int) *Heap {
	t.Helper()
	alloc := ppa.New(nrFrames, ppa.FirstFit)
	alloc.Init(0, uint32(nrFrames))
	h, err := New(alloc, heapFrames)
	require.NoError(t, err)
	return h
}

func TestAllocReturnsZeroedDistinctSlices(t *testing.T) {
	h := newFixture(t, 8, 1)

	a, err := h.Alloc(64)
	require.NoError(t, err)
	b, err := h.Alloc(64)
	require.NoError(t, err)

	for _, v := range a {
		require.Zero(t, v)
	}
	a[0] = 0xFF
	require.Zero(t, b[0], "distinct allocations must not alias")
}

func TestFreeCoalescesAdjacentSegments(t *testing.T) {
	h := newFixture(t, 8, 1)

	a, err := h.Alloc(128)
	require.NoError(t, err)
	b, err := h.Alloc(128)
	require.NoError(t, err)
	c, err := h.Alloc(128)
	require.NoError(t, err)

	h.Free(a)
	h.Free(c)
	h.Free(b)

	require.Len(t, h.segs, 1, "freeing all three in any order must fully coalesce back to one segment")
}

func TestAllocFailsWhenArenaExhausted(t *testing.T) {
	h := newFixture(t, 4, 1)

	_, err := h.Alloc(4096 - 16)
	require.NoError(t, err)

	_, err = h.Alloc(64)
	require.Error(t, err)
}

func TestAllocPicksBestFitNotFirstFit(t *testing.T) {
	h := newFixture(t, 8, 2)

	first, err := h.Alloc(2000)
	require.NoError(t, err)
	second, err := h.Alloc(1000)
	require.NoError(t, err)
	_, err = h.Alloc(4000)
	require.NoError(t, err)

	h.Free(first)
	h.Free(second)

	// first and second coalesce into one 3008-byte free segment at offset
	// 0; the other free segment is the 1184-byte tail after the 4000-byte
	// block. A 900-byte request lands in that smaller tail rather than the
	// first free segment encountered.
	fit, err := h.Alloc(900)
	require.NoError(t, err)
	require.NotNil(t, fit)
	require.Equal(t, 2000+1008+4000, h.offsetOf(fit))
}
