// Package ppa implements the physical page allocator (spec.md §4.1): a
// single free list of free-run heads kept in ascending physical-address
// order, supporting first/best/worst-fit allocation with coalescing on
// free.
//
// The allocator is grounded on the teacher kernel's (iansmith-mazarin)
// kmalloc, which also walks a linked list of segments looking for a
// best-fit free run and splits the head of an oversized run — ppa keeps
// that shape but operates on frame numbers in a slice rather than raw
// pointers into a hardware heap, and adds the first/worst-fit variants
// and run-merging on free that spec.md requires.
package ppa

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/ucore-lineage/ucore/internal/kerr"
)

// FrameNo identifies a physical frame by index. noFrame is the sentinel
// for "no frame" (the analogue of a nil link).
type FrameNo int32

const noFrame FrameNo = -1

// Fit selects the policy ppa.Allocate uses to pick among runs that
// satisfy a request.
type Fit int

const (
	FirstFit Fit = iota
	BestFit
	WorstFit
)

// Frame is the per-frame descriptor from spec.md §3. RunLength is only
// meaningful when FreeHead is true.
type Frame struct {
	RefCount  int32
	Reserved  bool
	FreeHead  bool
	RunLength uint32

	// PRE link / back-pointer, populated by the page-fault resolver and
	// page-replacement engine (spec.md §3's "replacement-engine link"
	// and "back-pointer virtual address").
	BackVAddr uintptr

	freeNext FrameNo
}

// Allocator is the system-wide physical page allocator. All three
// operations are serialized by mu, the host-process analogue of the
// spec's "disable interrupts for the duration of the section" (§4.1,
// §5): the kernel being simulated is uniprocessor and cooperative, so a
// single mutex reproduces the same exclusion without a real CPU to
// disable interrupts on.
type Allocator struct {
	mu      sync.Mutex
	frames  []Frame
	freeHd  FrameNo
	nrFree  uint32
	fit     Fit
	log     *slog.Logger
}

// New creates an Allocator over nrFrames frame descriptors, all initially
// reserved (kernel-owned, unallocatable) until Init is called for the
// free ranges.
func New(nrFrames int, fit Fit) *Allocator {
	frames := make([]Frame, nrFrames)
	for i := range frames {
		frames[i].Reserved = true
		frames[i].freeNext = noFrame
	}
	return &Allocator{
		frames: frames,
		freeHd: noFrame,
		fit:    fit,
		log:    slog.Default(),
	}
}

// NumFrames returns the total number of frame descriptors (reserved and
// free) tracked by the allocator.
func (a *Allocator) NumFrames() int { return len(a.frames) }

// NrFree returns the number of frames currently free.
func (a *Allocator) NrFree() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nrFree
}

// Init marks the n frames starting at base as a single free run and
// inserts it into the free list (spec.md §4.1 "Init").
func (a *Allocator) Init(base FrameNo, n uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n == 0 {
		return
	}
	a.checkRange(base, n)

	head := &a.frames[base]
	*head = Frame{FreeHead: true, RunLength: n, freeNext: noFrame}
	for i := FrameNo(0); i < FrameNo(n); i++ {
		f := &a.frames[base+i]
		f.Reserved = false
		if i != 0 {
			*f = Frame{}
		}
	}
	a.insertRun(base)
	a.nrFree += n
	a.log.Debug("ppa: init run", slog.Int("base", int(base)), slog.Int("n", int(n)))
}

// Allocate returns the base frame of a run of n contiguous frames chosen
// according to the allocator's fit policy, per spec.md §4.1. It fails
// immediately (ErrNoMem) when n exceeds the total free frame count.
func (a *Allocator) Allocate(n uint32) (FrameNo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocateLocked(n)
}

func (a *Allocator) allocateLocked(n uint32) (FrameNo, error) {
	if n == 0 {
		return noFrame, fmt.Errorf("ppa: allocate 0 frames: %w", kerr.ErrInval)
	}
	if uint32(n) > a.nrFree {
		return noFrame, kerr.ErrNoMem
	}

	var chosen, prevOfChosen FrameNo = noFrame, noFrame
	var prev FrameNo = noFrame

search:
	for cur := a.freeHd; cur != noFrame; cur = a.frames[cur].freeNext {
		rl := a.frames[cur].RunLength
		if rl >= n {
			switch a.fit {
			case FirstFit:
				chosen, prevOfChosen = cur, prev
				break search
			case BestFit:
				if chosen == noFrame || rl < a.frames[chosen].RunLength {
					chosen, prevOfChosen = cur, prev
				}
			case WorstFit:
				if chosen == noFrame || rl > a.frames[chosen].RunLength {
					chosen, prevOfChosen = cur, prev
				}
			}
		}
		prev = cur
	}
	if chosen == noFrame {
		return noFrame, kerr.ErrNoMem
	}

	rl := a.frames[chosen].RunLength
	next := a.frames[chosen].freeNext
	if rl > n {
		remBase := chosen + FrameNo(n)
		rem := &a.frames[remBase]
		*rem = Frame{FreeHead: true, RunLength: rl - n, freeNext: next}
		if prevOfChosen == noFrame {
			a.freeHd = remBase
		} else {
			a.frames[prevOfChosen].freeNext = remBase
		}
	} else {
		if prevOfChosen == noFrame {
			a.freeHd = next
		} else {
			a.frames[prevOfChosen].freeNext = next
		}
	}

	head := &a.frames[chosen]
	head.FreeHead = false
	head.RunLength = 0
	a.nrFree -= n

	// RefCount starts at 0: a freshly allocated frame is not yet pointed
	// to by anything. Installing it into a page table (ptable.Table) is
	// what brings it to 1; callers that use a frame without going
	// through a page table (an intermediate page-table frame, a kernel
	// heap frame) set RefCount themselves if they need the bookkeeping.
	return chosen, nil
}

// Free returns the n frames starting at base to the allocator, coalescing
// with any adjacent free runs (spec.md §4.1 "Free").
func (a *Allocator) Free(base FrameNo, n uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n == 0 {
		return
	}
	a.checkRange(base, n)
	for i := FrameNo(0); i < FrameNo(n); i++ {
		f := &a.frames[base+i]
		if f.Reserved {
			kerr.Fatal("ppa: free of reserved frame")
		}
	}

	for i := FrameNo(0); i < FrameNo(n); i++ {
		a.frames[base+i] = Frame{}
	}
	head := &a.frames[base]
	head.FreeHead = true
	head.RunLength = n

	a.insertRun(base)
	a.nrFree += n
}

// insertRun links the run headed at base into the free list, merging it
// with any run it is adjacent to, keeping the list sorted by address.
func (a *Allocator) insertRun(base FrameNo) {
	var prev FrameNo = noFrame
	cur := a.freeHd

	for cur != noFrame && cur < base {
		prev = cur
		cur = a.frames[cur].freeNext
	}

	// Merge with the following run if adjacent.
	if cur != noFrame && base+FrameNo(a.frames[base].RunLength) == cur {
		a.frames[base].RunLength += a.frames[cur].RunLength
		a.frames[base].freeNext = a.frames[cur].freeNext
		a.frames[cur] = Frame{}
	} else {
		a.frames[base].freeNext = cur
	}

	// Merge with the preceding run if adjacent.
	if prev != noFrame && prev+FrameNo(a.frames[prev].RunLength) == base {
		a.frames[prev].RunLength += a.frames[base].RunLength
		a.frames[prev].freeNext = a.frames[base].freeNext
		a.frames[base] = Frame{}
		return
	}

	if prev == noFrame {
		a.freeHd = base
	} else {
		a.frames[prev].freeNext = base
	}
}

func (a *Allocator) checkRange(base FrameNo, n uint32) {
	if base < 0 || int(base)+int(n) > len(a.frames) {
		kerr.Fatal("ppa: frame range out of bounds")
	}
}

// RefFrame returns a pointer to the frame descriptor at no, for callers
// (the page-table walker, the page-replacement engine) that need to
// adjust reference counts or record a back-pointer. Access to the
// returned pointer is not itself synchronized; callers that mutate it
// concurrently with Allocate/Free must hold their own lock or rely on
// the single-task cooperative scheduling model from spec.md §5.
func (a *Allocator) RefFrame(no FrameNo) *Frame {
	return &a.frames[no]
}

// FreeRuns returns a snapshot of (base, length) pairs describing the
// current free list, in ascending address order. It is intended for
// tests that assert on allocator-internal shape (spec.md §8).
func (a *Allocator) FreeRuns() [][2]uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()

	var runs [][2]uint32
	for cur := a.freeHd; cur != noFrame; cur = a.frames[cur].freeNext {
		runs = append(runs, [2]uint32{uint32(cur), a.frames[cur].RunLength})
	}
	return runs
}
