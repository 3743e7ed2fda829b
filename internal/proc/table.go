package proc

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/ucore-lineage/ucore/internal/kerr"
	"github.com/ucore-lineage/ucore/internal/mm/as"
	"github.com/ucore-lineage/ucore/internal/mm/memlayout"
	"github.com/ucore-lineage/ucore/internal/mm/physmem"
	"github.com/ucore-lineage/ucore/internal/mm/ppa"
	"github.com/ucore-lineage/ucore/internal/mm/pre"
	"github.com/ucore-lineage/ucore/internal/mm/ptable"
)

// MaxPid bounds the pid bitmap (spec.md §4.7 "pid bitmap over [1,
// MAX_PID)").
const MaxPid = 4096

// Table is the kernel's task table: a pid bitmap, a pid-indexed map, and
// the init task every orphan reparents to on exit.
type Table struct {
	mu sync.Mutex

	alloc  *ppa.Allocator
	mem    *physmem.Memory
	engine *pre.Engine // may be nil: then ASes are never registered for swap

	pidBitmap [MaxPid / 64]uint64
	tasks     map[int]*Task
	init      *Task

	log *slog.Logger
}

// NewTable creates a task table backed by alloc/mem and an init task
// (pid 1) with an empty address space, the reparent target for orphaned
// children (spec.md §4.7 "exit reparents children to init"). engine, if
// non-nil, has every address space this table creates registered with it
// (spec.md §4.5 "InitAS"); pass nil to use address spaces without page
// replacement.
func NewTable(alloc *ppa.Allocator, mem *physmem.Memory, engine *pre.Engine) (*Table, error) {
	tbl := &Table{
		alloc:  alloc,
		mem:    mem,
		engine: engine,
		tasks:  make(map[int]*Task),
		log:    slog.Default(),
	}
	rootAS, err := as.New(alloc, mem)
	if err != nil {
		return nil, err
	}
	tbl.registerAS(rootAS)
	initTask := tbl.newTask(1, 0, "init", rootAS)
	tbl.init = initTask
	tbl.tasks[1] = initTask
	tbl.markPid(1)
	return tbl, nil
}

func (tbl *Table) registerAS(a *as.AS) {
	if tbl.engine != nil {
		tbl.engine.InitAS(a)
	}
}

func (tbl *Table) newTask(pid, ppid int, name string, a *as.AS) *Task {
	return &Task{
		pid:         pid,
		ppid:        ppid,
		name:        name,
		state:       StateRunnable,
		AS:          a,
		children:    make(map[int]*Task),
		childEvents: make(chan struct{}, 1),
		waitCh:      make(chan struct{}),
		wakeCh:      make(chan struct{}, 1),
		cfsPrior:    1,
		stridePrior: 1,
		log:         tbl.log,
	}
}

func (tbl *Table) markPid(pid int)   { tbl.pidBitmap[pid/64] |= 1 << uint(pid%64) }
func (tbl *Table) clearPid(pid int)  { tbl.pidBitmap[pid/64] &^= 1 << uint(pid%64) }
func (tbl *Table) pidUsed(pid int) bool {
	return tbl.pidBitmap[pid/64]&(1<<uint(pid%64)) != 0
}

func (tbl *Table) allocPid() (int, error) {
	for pid := 2; pid < MaxPid; pid++ {
		if !tbl.pidUsed(pid) {
			tbl.markPid(pid)
			return pid, nil
		}
	}
	return 0, kerr.ErrNoFreeProc
}

// Lookup returns the task with the given pid.
func (tbl *Table) Lookup(pid int) (*Task, error) {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	t, ok := tbl.tasks[pid]
	if !ok {
		return nil, ErrNoSuchTask
	}
	return t, nil
}

// Init returns the table's init task (pid 1).
func (tbl *Table) Init() *Task { return tbl.init }

// Snapshot returns every live task, in ascending pid order, for a
// get_pdb-style listing (original_source/user/top.c's "int proc_num =
// get_pdb(pdb)" dump).
func (tbl *Table) Snapshot() []*Task {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	out := make([]*Task, 0, len(tbl.tasks))
	for _, t := range tbl.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].pid < out[j].pid })
	return out
}

// signalParent notifies parent's Wait loop that a child's state changed,
// without blocking if no one is listening yet.
func signalParent(parent *Task) {
	select {
	case parent.childEvents <- struct{}{}:
	default:
	}
}

// Fork creates a new process: a fresh address space that is an eager
// copy of parent's (spec.md §4.3 "duplicate"), and a new task linked as
// parent's child (spec.md §4.7 "fork").
func (tbl *Table) Fork(parent *Task) (*Task, error) {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()

	pid, err := tbl.allocPid()
	if err != nil {
		return nil, err
	}

	childAS, err := as.New(tbl.alloc, tbl.mem)
	if err != nil {
		tbl.clearPid(pid)
		return nil, err
	}
	if err := childAS.Duplicate(parent.AS); err != nil {
		tbl.clearPid(pid)
		return nil, err
	}
	tbl.registerAS(childAS)

	child := tbl.newTask(pid, parent.pid, parent.name, childAS)
	child.cfsPrior = parent.cfsPrior
	child.stridePrior = parent.stridePrior
	child.parent = parent
	parent.children[pid] = child
	tbl.tasks[pid] = child

	tbl.log.Info("fork", slog.Int("parent", parent.pid), slog.Int("child", pid))
	return child, nil
}

// Clone creates a new thread sharing parent's address space (spec.md
// §4.7 "clone"): AS is reference-counted rather than copied, and the
// new task takes the next free slot of the shared 16-entry per-thread
// stack array (slot 0 always belongs to the task that first created the
// address space).
func (tbl *Table) Clone(parent *Task) (*Task, error) {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()

	pid, err := tbl.allocPid()
	if err != nil {
		return nil, err
	}

	slot := -1
	used := make([]bool, CloneStackSlots)
	used[parent.stackSlot] = true
	for _, sib := range parent.children {
		if sib.AS == parent.AS {
			used[sib.stackSlot] = true
		}
	}
	for i := 1; i < CloneStackSlots; i++ {
		if !used[i] {
			slot = i
			break
		}
	}
	if slot == -1 {
		tbl.clearPid(pid)
		return nil, kerr.ErrNoMem
	}

	parent.AS.Ref()
	child := tbl.newTask(pid, parent.pid, parent.name, parent.AS)
	child.stackSlot = slot
	child.cfsPrior = parent.cfsPrior
	child.stridePrior = parent.stridePrior
	child.parent = parent
	parent.children[pid] = child
	tbl.tasks[pid] = child

	tbl.log.Info("clone", slog.Int("parent", parent.pid), slog.Int("child", pid), slog.Int("slot", slot))
	return child, nil
}

// encodeArgv lays out argv as a sequence of NUL-terminated strings, the
// byte form copied onto the new stack's top page (spec.md §4.7 "exec"
// "copies argv onto the new user stack").
func encodeArgv(argv []string) []byte {
	var buf []byte
	for _, s := range argv {
		buf = append(buf, s...)
		buf = append(buf, 0)
	}
	return buf
}

// Exec replaces t's address space with a fresh one built from scratch: a
// read/write/exec text+data VMA at the user base and a read/write stack
// VMA growing down from USTACKTOP, with argv copied onto the highest
// addresses of the stack's top page (spec.md §4.7 "exec"). If t was the
// sole sharer of its previous AS, that AS is dropped.
func (tbl *Table) Exec(t *Task, name string, argv []string) error {
	newAS, err := as.New(tbl.alloc, tbl.mem)
	if err != nil {
		return err
	}
	if _, err := newAS.Map(memlayout.UserBase, memlayout.PageSize, as.Flags{Read: true, Write: true, Exec: true}); err != nil {
		return err
	}
	stackBytes := uintptr(memlayout.StackNrPages) * memlayout.PageSize
	if _, err := newAS.Map(memlayout.USTACKTOP-stackBytes, stackBytes, as.Flags{Read: true, Write: true, Stack: true}); err != nil {
		return err
	}
	tbl.registerAS(newAS)

	if blob := encodeArgv(argv); len(blob) > 0 {
		if uintptr(len(blob)) > memlayout.PageSize {
			return kerr.ErrNoMem
		}
		top := memlayout.USTACKTOP - memlayout.PageSize
		frame, err := tbl.alloc.Allocate(1)
		if err != nil {
			return err
		}
		if err := newAS.Table.Install(top, frame, ptable.Perm{User: true, Writable: true}); err != nil {
			return err
		}
		tbl.alloc.RefFrame(frame).BackVAddr = top
		if tbl.engine != nil {
			tbl.engine.MapSwappable(newAS, top, false)
		}
		page := make([]byte, memlayout.PageSize)
		copy(page[memlayout.PageSize-len(blob):], blob)
		newAS.Table.WriteFramePage(frame, page)
	}

	old := t.AS
	t.mu.Lock()
	t.AS = newAS
	t.name = name
	t.stackSlot = 0
	t.mu.Unlock()
	old.Unref()

	tbl.log.Info("exec", slog.Int("pid", t.pid), slog.String("name", name), slog.Int("argc", len(argv)))
	return nil
}

// hasLiveThreadChildren reports whether t, as the ancestral thread of its
// address space (stackSlot 0), still has an unreaped clone child sharing
// that same AS.
func hasLiveThreadChildren(t *Task) bool {
	for _, c := range t.children {
		if c.AS == t.AS {
			return true
		}
	}
	return false
}

// Exit marks t ZOMBIE, reparents its children to init, and wakes
// whichever parent is blocked in Wait (spec.md §4.7 "exit"). An
// ancestral-thread task (stackSlot 0, the thread that first created its
// AS) blocks here until every thread child sharing that AS has been
// reaped by Wait, rather than zombifying out from under live siblings
// (spec.md §4.7 "An 'ancestral-thread' task ... will not exit until all
// its thread children have been reaped").
func (tbl *Table) Exit(t *Task, code int) {
	for {
		tbl.mu.Lock()
		if t.State() == StateZombie {
			tbl.mu.Unlock()
			return
		}
		if t.stackSlot == 0 && hasLiveThreadChildren(t) {
			tbl.mu.Unlock()
			<-t.childEvents
			continue
		}

		t.mu.Lock()
		t.exitCode = code
		t.state = StateZombie
		close(t.waitCh)
		t.mu.Unlock()

		for pid, c := range t.children {
			c.parent = tbl.init
			tbl.init.children[pid] = c
			delete(t.children, pid)
		}

		if t.parent != nil {
			signalParent(t.parent)
		}
		tbl.log.Info("exit", slog.Int("pid", t.pid), slog.Int("code", code))
		tbl.mu.Unlock()
		return
	}
}

// Wait reaps a ZOMBIE child of parent, blocking until one is zombie if
// none already is: pid <= 0 reaps whichever child exits first (spec.md
// §4.7 "wait"); pid > 0 reaps specifically that child, failing with
// ErrNotAChild if pid does not currently name one of parent's children.
// It fails with ErrNoZombieChild if parent has no children at all to wait
// for. On reap, the child's AS reference is dropped (its stack slot is
// implicitly freed, since Clone recomputes free slots from parent's live
// children rather than tracking a separate free list).
func (tbl *Table) Wait(parent *Task, pid int) (*Task, error) {
	for {
		tbl.mu.Lock()
		if len(parent.children) == 0 {
			tbl.mu.Unlock()
			return nil, ErrNoZombieChild
		}

		if pid > 0 {
			c, ok := parent.children[pid]
			if !ok {
				tbl.mu.Unlock()
				return nil, ErrNotAChild
			}
			if c.State() == StateZombie {
				delete(parent.children, pid)
				delete(tbl.tasks, pid)
				tbl.clearPid(pid)
				tbl.mu.Unlock()
				c.AS.Unref()
				signalParent(parent)
				return c, nil
			}
		} else {
			for cpid, c := range parent.children {
				if c.State() == StateZombie {
					delete(parent.children, cpid)
					delete(tbl.tasks, cpid)
					tbl.clearPid(cpid)
					tbl.mu.Unlock()
					c.AS.Unref()
					signalParent(parent)
					return c, nil
				}
			}
		}
		tbl.mu.Unlock()

		<-parent.childEvents
	}
}

// Kill marks target as killed. uCore's kill is a deferred signal the
// scheduler checks before resuming a task; this simulation has no
// signal delivery (spec.md Non-goals), so Kill synchronously force-exits
// the target with exit code -1 unless it has already exited.
func (tbl *Table) Kill(target *Task) error {
	target.mu.Lock()
	already := target.state == StateZombie
	target.killed = true
	target.mu.Unlock()
	if already {
		return nil
	}
	tbl.Exit(target, -1)
	return nil
}

// Nice sets a task's scheduling priority, shared between CFS and Stride
// (spec.md §4.9 "nice" / "prior", range 1..19 for both policies).
func (tbl *Table) Nice(target *Task, prior int) error {
	if prior < 1 || prior > 19 {
		return kerr.ErrInval
	}
	target.mu.Lock()
	defer target.mu.Unlock()
	target.cfsPrior = int64(prior)
	target.stridePrior = prior
	return nil
}
