// Package proc implements the task table and process/thread lifecycle
// from spec.md §4.7: fork/clone/exec/exit/wait over tasks that share or
// duplicate an address space, scheduled via internal/sched and blocked
// via internal/ksync.
//
// Grounded on kern/process/proc.h (original_source/): the parent/child
// tree, the ZOMBIE-then-reaped-by-wait lifecycle, and init-as-reparent-
// target on exit all follow proc_struct's shape, adapted from uCore's
// intrusive linked lists to Go maps/slices.
package proc

import (
	"log/slog"
	"sync"

	"github.com/ucore-lineage/ucore/internal/bitfield"
	"github.com/ucore-lineage/ucore/internal/mm/as"
)

// State is a task's scheduling/lifecycle state (spec.md §3 "Task").
type State int

const (
	StateRunnable State = iota
	StateRunning
	StateSleeping
	StateZombie
)

func (s State) String() string {
	switch s {
	case StateRunnable:
		return "RUNNABLE"
	case StateRunning:
		return "RUNNING"
	case StateSleeping:
		return "SLEEPING"
	case StateZombie:
		return "ZOMBIE"
	default:
		return "UNKNOWN"
	}
}

// CloneStackSlots is the fixed number of per-thread stack slots a shared
// address space reserves, slot 0 always belonging to the thread group's
// first task (spec.md §4.7 "clone").
const CloneStackSlots = 16

// Task is one schedulable entity: a process (its own AS) or a thread
// (an AS shared with siblings via clone). It satisfies sched.CFSTask,
// sched.StrideTask and ksync.Waiter so the scheduler and semaphore
// packages can operate on it directly.
type Task struct {
	mu sync.Mutex

	pid  int
	ppid int
	name string

	state    State
	exitCode int
	killed   bool

	AS        *as.AS
	stackSlot int

	parent      *Task
	children    map[int]*Task
	childEvents chan struct{} // non-blocking signal: "a child's state changed"

	waitCh chan struct{} // closed exactly once, when this task becomes ZOMBIE
	wakeCh chan struct{} // not read by ksync.Semaphore, which blocks Down on its own per-waiter channel

	vruntime    int64
	cfsPrior    int64
	stride      int32
	stridePrior int
	timeSlice   int
	needResched bool

	log *slog.Logger
}

// Pid returns the task's process id.
func (t *Task) Pid() int { return t.pid }

// Ppid returns the parent task's pid.
func (t *Task) Ppid() int { return t.ppid }

// Name returns the task's display name (argv[0] after the last exec).
func (t *Task) Name() string { return t.name }

// State returns the task's current lifecycle state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// ExitCode returns the exit code left by Exit, valid once State is
// StateZombie.
func (t *Task) ExitCode() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exitCode
}

// sched.CFSTask / sched.StrideTask plumbing.

func (t *Task) TimeSlice() int          { return t.timeSlice }
func (t *Task) SetTimeSlice(n int)      { t.timeSlice = n }
func (t *Task) SetNeedResched(b bool)   { t.needResched = b }
func (t *Task) NeedResched() bool       { return t.needResched }
func (t *Task) VRuntime() int64         { return t.vruntime }
func (t *Task) SetVRuntime(v int64)     { t.vruntime = v }
func (t *Task) CFSPrior() int64         { return t.cfsPrior }
func (t *Task) Stride() int32           { return t.stride }
func (t *Task) SetStride(s int32)       { t.stride = s }
func (t *Task) StridePrior() int        { return t.stridePrior }

// Wake implements ksync.Waiter: a Semaphore.Up transferring its
// decrement to this task marks it runnable again. The actual unblocking
// of the goroutine inside Semaphore.Down happens via the channel
// Semaphore owns; this just updates the state a scheduler/"top" snapshot
// would observe.
func (t *Task) Wake() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateSleeping {
		t.state = StateRunnable
	}
}

// StatusFlags is the compact per-task status word "top"/get_pdb render,
// packed with internal/bitfield the way a real status/flags register
// would be laid out, rather than shipping the full Task struct across
// the syscall boundary.
type StatusFlags struct {
	Running  bool  `bitfield:",1"`
	Sleeping bool  `bitfield:",1"`
	Zombie   bool  `bitfield:",1"`
	Killed   bool  `bitfield:",1"`
	Prior    uint8 `bitfield:",5"`
}

// StatusWord packs the task's current state/priority/killed flag into a
// single integer snapshot.
func (t *Task) StatusWord() (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	flags := StatusFlags{
		Running:  t.state == StateRunning,
		Sleeping: t.state == StateSleeping,
		Zombie:   t.state == StateZombie,
		Killed:   t.killed,
		Prior:    uint8(t.stridePrior),
	}
	return bitfield.Pack(flags, &bitfield.Config{NumBits: 16})
}

// UnpackStatusWord decodes a word produced by StatusWord (get_pdb's wire
// shape) back into its flags, for a consumer on the far side of the
// syscall boundary that only has the packed value, not the Task itself.
func UnpackStatusWord(word uint64) (StatusFlags, error) {
	var flags StatusFlags
	err := bitfield.Unpack(word, &flags, &bitfield.Config{NumBits: 16})
	return flags, err
}

// String renders the flags the way "top" prints a state column.
func (f StatusFlags) String() string {
	switch {
	case f.Killed:
		return "KILLED"
	case f.Zombie:
		return "ZOMBIE"
	case f.Sleeping:
		return "SLEEPING"
	case f.Running:
		return "RUNNING"
	default:
		return "RUNNABLE"
	}
}
