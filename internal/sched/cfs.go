package sched

// MaxTimeSlice is the tick budget a task is given the first time it is
// ever enqueued (spec.md §4.9 CFS "ensures time_slice > 0... resetting
// to max_time_slice").
const MaxTimeSlice = 20

// CFSTask is the view of a task CFS needs beyond the common Task
// interface: its accumulated virtual runtime and its priority (the rate
// vruntime advances at on each tick).
type CFSTask interface {
	Task
	VRuntime() int64
	SetVRuntime(int64)
	CFSPrior() int64
}

type vrKey struct {
	vruntime int64
	pid      int
}

func cfsCompare(a, b interface{}) int {
	ka, kb := a.(vrKey), b.(vrKey)
	switch {
	case ka.vruntime < kb.vruntime:
		return -1
	case ka.vruntime > kb.vruntime:
		return 1
	case ka.pid < kb.pid:
		return -1
	case ka.pid > kb.pid:
		return 1
	default:
		return 0
	}
}

// CFS implements spec.md §4.9's completely-fair-scheduler policy: the
// ordering key is the composite (vruntime, pid), pid breaking ties so
// two tasks with identical vruntime still have a total order.
type CFS struct{}

// NewCFSRunQueue builds a run queue ordered by CFS's (vruntime, pid) key.
func NewCFSRunQueue() *RunQueue { return NewRunQueue(cfsCompare) }

func (CFS) Init(rq *RunQueue) {}

func (CFS) Enqueue(rq *RunQueue, task Task) {
	t := task.(CFSTask)
	if !rq.firstRun[t.Pid()] {
		rq.firstRun[t.Pid()] = true
		if t.TimeSlice() <= 0 {
			t.SetTimeSlice(MaxTimeSlice)
		}
	}
	rq.insert(vrKey{t.VRuntime(), t.Pid()}, t.Pid(), task)
}

func (CFS) Dequeue(rq *RunQueue, task Task) {
	rq.removeByPid(task.Pid())
}

func (CFS) PickNext(rq *RunQueue) (Task, bool) {
	return rq.leftmost()
}

func (CFS) Tick(rq *RunQueue, task Task) {
	t := task.(CFSTask)
	rq.removeByPid(t.Pid())
	t.SetVRuntime(t.VRuntime() + t.CFSPrior())
	rq.insert(vrKey{t.VRuntime(), t.Pid()}, t.Pid(), task)

	t.SetTimeSlice(t.TimeSlice() - 1)
	if t.TimeSlice() <= 0 {
		t.SetNeedResched(true)
	}
}
