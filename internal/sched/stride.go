package sched

// BigStride is the numerator of each stride step (spec.md §4.9 "add
// BIG_STRIDE / (20 - stride_prior) to its stride"). Large and divisible
// by every priority 1..19 keeps the per-tick step from truncating to
// zero at low priorities.
const BigStride = 232792560 // lcm(1..19)

// StrideTask is the view of a task Stride needs beyond the common Task
// interface.
type StrideTask interface {
	Task
	Stride() int32
	SetStride(int32)
	StridePrior() int
}

type strideKey struct {
	stride int32
	pid    int
}

// wraparoundLess reports a < b using the signed-difference comparison
// spec.md §4.9 requires ("wraparound-safe comparison (subtract, compare
// sign of the difference)"), so a stride that has wrapped past
// math.MaxInt32 still compares correctly against one that hasn't.
func wraparoundLess(a, b int32) bool {
	return int32(a-b) < 0
}

func strideCompare(x, y interface{}) int {
	kx, ky := x.(strideKey), y.(strideKey)
	switch {
	case kx.stride == ky.stride && kx.pid == ky.pid:
		return 0
	case wraparoundLess(kx.stride, ky.stride):
		return -1
	case wraparoundLess(ky.stride, kx.stride):
		return 1
	case kx.pid < ky.pid:
		return -1
	case kx.pid > ky.pid:
		return 1
	default:
		return 0
	}
}

// Stride implements spec.md §4.9's stride-scheduling policy: the
// ordering key is (stride, pid); after a task is picked its stride
// advances by BigStride/(20-stride_prior).
type Stride struct{}

// NewStrideRunQueue builds a run queue ordered by Stride's (stride, pid)
// key.
func NewStrideRunQueue() *RunQueue { return NewRunQueue(strideCompare) }

func (Stride) Init(rq *RunQueue) {}

func (Stride) Enqueue(rq *RunQueue, task Task) {
	t := task.(StrideTask)
	if !rq.firstRun[t.Pid()] {
		rq.firstRun[t.Pid()] = true
		if t.TimeSlice() <= 0 {
			t.SetTimeSlice(MaxTimeSlice)
		}
	}
	rq.insert(strideKey{t.Stride(), t.Pid()}, t.Pid(), task)
}

func (Stride) Dequeue(rq *RunQueue, task Task) {
	rq.removeByPid(task.Pid())
}

// PickNext returns the leftmost (smallest-stride) task and advances its
// stride, per spec.md §4.9 ("after selecting the leftmost task, add...
// to its stride").
func (Stride) PickNext(rq *RunQueue) (Task, bool) {
	task, ok := rq.leftmost()
	if !ok {
		return nil, false
	}
	t := task.(StrideTask)
	rq.removeByPid(t.Pid())
	t.SetStride(t.Stride() + int32(BigStride/(20-t.StridePrior())))
	rq.insert(strideKey{t.Stride(), t.Pid()}, t.Pid(), task)
	return task, true
}

func (Stride) Tick(rq *RunQueue, task Task) {
	t := task.(StrideTask)
	t.SetTimeSlice(t.TimeSlice() - 1)
	if t.TimeSlice() <= 0 {
		t.SetNeedResched(true)
	}
}
