package ppa

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scenario 1 from spec.md §8: first-fit split.
func TestAllocateFirstFitSplit(t *testing.T) {
	a := New(8, FirstFit)
	a.Init(0, 8)

	base, err := a.Allocate(3)
	require.NoError(t, err)
	assert.EqualValues(t, 0, base)

	runs := a.FreeRuns()
	require.Len(t, runs, 1)
	assert.EqualValues(t, 3, runs[0][0])
	assert.EqualValues(t, 5, runs[0][1])
	assert.EqualValues(t, 5, a.NrFree())
}

// scenario 2 from spec.md §8: coalesce on free.
func TestFreeCoalesces(t *testing.T) {
	a := New(8, FirstFit)
	a.Init(0, 8)

	base, err := a.Allocate(3)
	require.NoError(t, err)

	a.Free(base, 3)

	runs := a.FreeRuns()
	require.Len(t, runs, 1)
	assert.EqualValues(t, 0, runs[0][0])
	assert.EqualValues(t, 8, runs[0][1])
	assert.EqualValues(t, 8, a.NrFree())
}

func TestAllocateFailsWhenExhausted(t *testing.T) {
	a := New(4, FirstFit)
	a.Init(0, 4)

	_, err := a.Allocate(5)
	assert.ErrorContains(t, err, "out of memory")
}

func TestBestFitPicksSmallestSatisfyingRun(t *testing.T) {
	a := New(20, BestFit)
	// Build three disjoint runs: [0,5) [8,12) [15,20) via reserving gaps.
	a.Init(0, 5)
	a.Init(8, 4)
	a.Init(15, 5)

	base, err := a.Allocate(3)
	require.NoError(t, err)
	// run at 8 has length 4, smallest run that still fits 3 frames.
	assert.EqualValues(t, 8, base)
}

func TestWorstFitPicksLargestRun(t *testing.T) {
	a := New(20, WorstFit)
	a.Init(0, 5)
	a.Init(8, 4)
	a.Init(15, 5)

	base, err := a.Allocate(3)
	require.NoError(t, err)
	assert.EqualValues(t, 0, base)
}

func TestFirstFitPicksEarliestRun(t *testing.T) {
	a := New(20, FirstFit)
	a.Init(8, 4)
	a.Init(15, 5)

	base, err := a.Allocate(3)
	require.NoError(t, err)
	assert.EqualValues(t, 8, base)
}

func TestNoAdjacentRunsAfterFree(t *testing.T) {
	a := New(10, FirstFit)
	a.Init(0, 10)

	b1, err := a.Allocate(2)
	require.NoError(t, err)
	b2, err := a.Allocate(2)
	require.NoError(t, err)
	b3, err := a.Allocate(2)
	require.NoError(t, err)

	a.Free(b1, 2)
	a.Free(b3, 2)
	a.Free(b2, 2)

	runs := a.FreeRuns()
	require.Len(t, runs, 1)
	assert.EqualValues(t, 0, runs[0][0])
	assert.EqualValues(t, 10, runs[0][1])
}

func TestFreeOfReservedFramePanics(t *testing.T) {
	a := New(4, FirstFit)
	assert.Panics(t, func() {
		a.Free(0, 1)
	})
}
