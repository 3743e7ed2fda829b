// Package machine assembles the memory, process, scheduler, and
// filesystem cores into one runnable value: the single entry point
// cmd/ucore and internal/syscall drive, wiring together internal/mm/*,
// internal/proc, internal/sched, and internal/fs/* exactly as spec.md
// §2's data-flow diagram lays them out.
package machine

import (
	"fmt"
	"log/slog"

	"github.com/ucore-lineage/ucore/internal/fs/sfs"
	"github.com/ucore-lineage/ucore/internal/fs/vfs"
	"github.com/ucore-lineage/ucore/internal/kheap"
	"github.com/ucore-lineage/ucore/internal/mm/fault"
	"github.com/ucore-lineage/ucore/internal/mm/physmem"
	"github.com/ucore-lineage/ucore/internal/mm/ppa"
	"github.com/ucore-lineage/ucore/internal/mm/pre"
	"github.com/ucore-lineage/ucore/internal/proc"
	"github.com/ucore-lineage/ucore/internal/sched"
)

// ReplacementPolicy names one of spec.md §4.5's three victim-selection
// policies.
type ReplacementPolicy string

const (
	FIFO           ReplacementPolicy = "fifo"
	EnhancedClock  ReplacementPolicy = "enhanced-clock"
	ExtendedClock  ReplacementPolicy = "extended-clock"
)

// SchedPolicy names one of spec.md §4.9's two scheduler policies.
type SchedPolicy string

const (
	CFS    SchedPolicy = "cfs"
	Stride SchedPolicy = "stride"
)

// Config holds every knob a Machine needs, already resolved by the
// caller (cmd/ucore reads flags/environment/xdg paths; this package
// never does, keeping the core testable with plain in-memory values).
type Config struct {
	NumFrames   int
	SwapOn      bool
	SwapSlots   int
	Replacement ReplacementPolicy
	Scheduler   SchedPolicy
	HeapFrames  int

	// FSDevice, if non-nil, backs the filesystem (e.g. a sfs.FileDevice
	// opened on a real disk image); otherwise an in-memory sfs.MemDevice
	// is created from FSBlocks.
	FSDevice      sfs.BlockDevice
	FSBlocks      uint32
	FSInodeBlocks uint32
	FormatFS      bool
}

// Machine is the fully wired kernel simulation.
type Machine struct {
	Alloc    *ppa.Allocator
	Mem      *physmem.Memory
	Engine   *pre.Engine
	Resolver *fault.Resolver
	Tasks    *proc.Table
	SchedPol sched.Policy
	RunQ     *sched.RunQueue
	FS       *sfs.FS
	VFS      *vfs.VFS
	Heap     *kheap.Heap

	log *slog.Logger
}

func replacementPolicy(name ReplacementPolicy) (pre.Policy, error) {
	switch name {
	case FIFO, "":
		return pre.FIFOPolicy{}, nil
	case EnhancedClock:
		return pre.EnhancedClockPolicy{}, nil
	case ExtendedClock:
		return pre.ExtendedClockPolicy{}, nil
	default:
		return nil, fmt.Errorf("machine: unknown replacement policy %q", name)
	}
}

func schedPolicy(name SchedPolicy) (sched.Policy, *sched.RunQueue, error) {
	switch name {
	case CFS, "":
		return sched.CFS{}, sched.NewCFSRunQueue(), nil
	case Stride:
		return sched.Stride{}, sched.NewStrideRunQueue(), nil
	default:
		return nil, nil, fmt.Errorf("machine: unknown scheduler policy %q", name)
	}
}

// New constructs a Machine per cfg.
func New(cfg Config) (*Machine, error) {
	log := slog.Default()

	alloc := ppa.New(cfg.NumFrames, ppa.BestFit)
	alloc.Init(0, uint32(cfg.NumFrames))
	mem := physmem.New(cfg.NumFrames)

	policy, err := replacementPolicy(cfg.Replacement)
	if err != nil {
		return nil, err
	}
	store := pre.NewMemBackingStore(cfg.SwapSlots)
	engine := pre.New(policy, store, cfg.SwapOn)
	resolver := fault.New(alloc, engine)

	tasks, err := proc.NewTable(alloc, mem, engine)
	if err != nil {
		return nil, fmt.Errorf("machine: task table: %w", err)
	}

	sp, rq, err := schedPolicy(cfg.Scheduler)
	if err != nil {
		return nil, err
	}
	sp.Init(rq)
	sp.Enqueue(rq, tasks.Init())

	heap, err := kheap.New(alloc, cfg.HeapFrames)
	if err != nil {
		return nil, fmt.Errorf("machine: kernel heap: %w", err)
	}

	dev := cfg.FSDevice
	if dev == nil {
		dev = sfs.NewMemDevice(cfg.FSBlocks)
	}
	var fs *sfs.FS
	if cfg.FormatFS {
		fs, err = sfs.Format(dev, cfg.FSBlocks, cfg.FSInodeBlocks)
	} else {
		fs, err = sfs.Open(dev)
	}
	if err != nil {
		return nil, fmt.Errorf("machine: filesystem: %w", err)
	}

	m := &Machine{
		Alloc:    alloc,
		Mem:      mem,
		Engine:   engine,
		Resolver: resolver,
		Tasks:    tasks,
		SchedPol: sp,
		RunQ:     rq,
		FS:       fs,
		VFS:      vfs.New(fs),
		Heap:     heap,
		log:      log,
	}
	log.Info("machine: initialized",
		slog.Int("frames", cfg.NumFrames),
		slog.String("replacement", string(cfg.Replacement)),
		slog.String("scheduler", string(cfg.Scheduler)))
	return m, nil
}

// Schedule runs one pick_next across the run queue, returning the task
// chosen to run (spec.md §4.9's scheduling loop, collapsed to a single
// step since this simulation has no preemptive timer of its own); it
// does not tick the policy.
func (m *Machine) Schedule() (*proc.Task, bool) {
	next, ok := m.SchedPol.PickNext(m.RunQ)
	if !ok {
		return nil, false
	}
	return next.(*proc.Task), true
}

// Tick advances t's scheduling accounting by one timer tick.
func (m *Machine) Tick(t *proc.Task) {
	m.SchedPol.Tick(m.RunQ, t)
}
