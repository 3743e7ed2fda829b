package sched

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeCFSTask struct {
	pid       int
	vruntime  int64
	prior     int64
	slice     int
	resched   bool
}

func (f *fakeCFSTask) Pid() int              { return f.pid }
func (f *fakeCFSTask) VRuntime() int64       { return f.vruntime }
func (f *fakeCFSTask) SetVRuntime(v int64)   { f.vruntime = v }
func (f *fakeCFSTask) CFSPrior() int64       { return f.prior }
func (f *fakeCFSTask) TimeSlice() int        { return f.slice }
func (f *fakeCFSTask) SetTimeSlice(n int)    { f.slice = n }
func (f *fakeCFSTask) SetNeedResched(b bool) { f.resched = b }

// spec.md §8 scenario 3.
func TestCFSTieBreakByPidThenAdvancesOnTick(t *testing.T) {
	rq := NewCFSRunQueue()
	var cfs CFS

	t7 := &fakeCFSTask{pid: 7, vruntime: 100, prior: 10}
	t11 := &fakeCFSTask{pid: 11, vruntime: 100}

	cfs.Enqueue(rq, t7)
	cfs.Enqueue(rq, t11)

	next, ok := cfs.PickNext(rq)
	require.True(t, ok)
	require.Equal(t, 7, next.Pid())

	cfs.Tick(rq, t7)
	require.EqualValues(t, 110, t7.vruntime)

	next, ok = cfs.PickNext(rq)
	require.True(t, ok)
	require.Equal(t, 11, next.Pid())
}

func TestCFSFirstEnqueueResetsZeroTimeSlice(t *testing.T) {
	rq := NewCFSRunQueue()
	var cfs CFS

	task := &fakeCFSTask{pid: 1}
	cfs.Enqueue(rq, task)
	require.Equal(t, MaxTimeSlice, task.slice)
}

func TestCFSTickSetsNeedReschedOnExhaustedSlice(t *testing.T) {
	rq := NewCFSRunQueue()
	var cfs CFS
	task := &fakeCFSTask{pid: 1, slice: 1}
	cfs.Enqueue(rq, task)

	cfs.Tick(rq, task)
	require.True(t, task.resched)
}

type fakeStrideTask struct {
	pid     int
	stride  int32
	prior   int
	slice   int
	resched bool
}

func (f *fakeStrideTask) Pid() int              { return f.pid }
func (f *fakeStrideTask) Stride() int32         { return f.stride }
func (f *fakeStrideTask) SetStride(s int32)     { f.stride = s }
func (f *fakeStrideTask) StridePrior() int      { return f.prior }
func (f *fakeStrideTask) TimeSlice() int        { return f.slice }
func (f *fakeStrideTask) SetTimeSlice(n int)    { f.slice = n }
func (f *fakeStrideTask) SetNeedResched(b bool) { f.resched = b }

// spec.md §8 scenario 4.
func TestStrideStepAdvancesWinnerThenYieldsToOther(t *testing.T) {
	rq := NewStrideRunQueue()
	var s Stride

	a := &fakeStrideTask{pid: 1, stride: 0, prior: 10}
	b := &fakeStrideTask{pid: 2, stride: 5, prior: 15}

	s.Enqueue(rq, a)
	s.Enqueue(rq, b)

	next, ok := s.PickNext(rq)
	require.True(t, ok)
	require.Equal(t, 1, next.Pid())
	require.EqualValues(t, BigStride/10, a.stride)

	next, ok = s.PickNext(rq)
	require.True(t, ok)
	require.Equal(t, 2, next.Pid())
}

func TestWraparoundLessHandlesOverflow(t *testing.T) {
	require.True(t, wraparoundLess(1<<31-1, -(1<<31)+2))
	require.False(t, wraparoundLess(-(1<<31)+2, 1<<31-1))
}
