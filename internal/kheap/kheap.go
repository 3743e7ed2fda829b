// Package kheap implements the kernel heap from spec.md §4.1 "Kernel
// heap": a small-object allocator for kernel structures (task
// descriptors, page-table auxiliary state, VFS inodes) that don't
// warrant a full frame each.
//
// Grounded on the teacher kernel's (iansmith-mazarin) heap.go: a fixed-
// size arena (KERNEL_HEAP_SIZE) carved at boot, a doubly-linked list of
// segment headers threaded through the arena, best-fit search, splitting
// the chosen segment when it is larger than requested, and coalescing
// with both neighbors on free. This port keeps that exact shape — a
// fixed arena sized in whole frames at construction, never relocated —
// but tracks segment headers as a Go slice of descriptors addressed by
// byte offset into the arena, rather than pointers cast over raw memory
// addressed by a linker symbol, since there is no real heap address
// range to place them in.
package kheap

import (
	"fmt"
	"log/slog"
	"sync"
	"unsafe"

	"github.com/ucore-lineage/ucore/internal/kerr"
	"github.com/ucore-lineage/ucore/internal/mm/memlayout"
	"github.com/ucore-lineage/ucore/internal/mm/ppa"
)

const alignment = 16

// segment is one node of the heap's doubly linked list, describing a
// byte range [start, start+size) within the arena. next/prev are
// indices into Heap.segs, noSeg if absent.
type segment struct {
	start     int
	size      int
	allocated bool
	next      int
	prev      int
}

const noSeg = -1

// Heap is a fixed-size, best-fit small-object allocator backed by
// nFrames physical frames drawn from alloc at construction (spec.md
// §4.1 "Kernel heap").
type Heap struct {
	mu     sync.Mutex
	frames []ppa.FrameNo
	arena  []byte
	segs   []segment
	head   int
	log    *slog.Logger
}

// New carves nFrames contiguous-in-the-arena-sense frames from alloc and
// initializes them as a single free segment.
func New(alloc *ppa.Allocator, nFrames int) (*Heap, error) {
	if nFrames <= 0 {
		return nil, fmt.Errorf("kheap: new with %d frames: %w", nFrames, kerr.ErrInval)
	}
	frames := make([]ppa.FrameNo, nFrames)
	for i := 0; i < nFrames; i++ {
		f, err := alloc.Allocate(1)
		if err != nil {
			return nil, err
		}
		alloc.RefFrame(f).RefCount = 1
		frames[i] = f
	}
	return &Heap{
		frames: frames,
		arena:  make([]byte, nFrames*memlayout.PageSize),
		segs:   []segment{{start: 0, size: nFrames * memlayout.PageSize, next: noSeg, prev: noSeg}},
		head:   0,
		log:    slog.Default(),
	}, nil
}

func roundUp(size int) int {
	if r := size % alignment; r != 0 {
		size += alignment - r
	}
	return size
}

// Alloc returns a zeroed byte slice of exactly size bytes carved from
// the arena, chosen by best fit among free segments (spec.md §4.1
// "Kernel heap"). It fails with ErrNoMem when no free segment fits.
func (h *Heap) Alloc(size int) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if size <= 0 {
		return nil, fmt.Errorf("kheap: alloc %d bytes: %w", size, kerr.ErrInval)
	}
	want := roundUp(size)

	idx := h.findBestFit(want)
	if idx == noSeg {
		return nil, kerr.ErrNoMem
	}

	h.splitIfLarger(idx, want)
	h.segs[idx].allocated = true
	seg := h.segs[idx]
	for i := seg.start; i < seg.start+size; i++ {
		h.arena[i] = 0
	}
	return h.arena[seg.start : seg.start+size : seg.start+seg.size], nil
}

func (h *Heap) findBestFit(want int) int {
	best := noSeg
	bestDiff := -1
	for i := h.head; i != noSeg; i = h.segs[i].next {
		s := h.segs[i]
		if s.allocated || s.size < want {
			continue
		}
		diff := s.size - want
		if best == noSeg || diff < bestDiff {
			best, bestDiff = i, diff
		}
	}
	return best
}

// minSplit is the smallest remainder worth carving into its own free
// segment; below it, fragmentation cost outweighs the reuse benefit.
const minSplit = 32

func (h *Heap) splitIfLarger(idx, want int) {
	s := h.segs[idx]
	remainder := s.size - want
	if remainder < minSplit {
		return
	}
	newIdx := len(h.segs)
	h.segs = append(h.segs, segment{
		start: s.start + want,
		size:  remainder,
		next:  s.next,
		prev:  idx,
	})
	if s.next != noSeg {
		h.segs[s.next].prev = newIdx
	}
	h.segs[idx].next = newIdx
	h.segs[idx].size = want
}

// Free returns a slice previously returned by Alloc, coalescing with
// both free neighbors (spec.md §4.1 "Free").
func (h *Heap) Free(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(data) == 0 {
		return
	}
	start := h.offsetOf(data)
	idx := h.segmentAt(start)
	if idx == noSeg {
		kerr.Fatal("kheap: free of address not in arena")
	}
	h.segs[idx].allocated = false

	if prev := h.segs[idx].prev; prev != noSeg && !h.segs[prev].allocated {
		h.mergeInto(prev, idx)
		idx = prev
	}
	if next := h.segs[idx].next; next != noSeg && !h.segs[next].allocated {
		h.mergeInto(idx, next)
	}

	// Drop the descriptors merged away above, so segs holds exactly the
	// segments still linked from head and segmentAt cannot match a stale one.
	segs := make([]segment, 0, len(h.segs))
	for i := h.head; i != noSeg; i = h.segs[i].next {
		s := h.segs[i]
		s.prev, s.next = len(segs)-1, len(segs)+1
		segs = append(segs, s)
	}
	segs[len(segs)-1].next = noSeg
	h.segs, h.head = segs, 0
}

func (h *Heap) mergeInto(into, from int) {
	h.segs[into].size += h.segs[from].size
	h.segs[into].next = h.segs[from].next
	if h.segs[from].next != noSeg {
		h.segs[h.segs[from].next].prev = into
	}
}

// offsetOf recovers a previously returned slice's position in the
// arena. The arena is allocated once at construction and never
// reallocated, so data's backing array is always the arena's.
func (h *Heap) offsetOf(data []byte) int {
	return int(uintptr(unsafe.Pointer(&data[0])) - uintptr(unsafe.Pointer(&h.arena[0])))
}

func (h *Heap) segmentAt(start int) int {
	for i := range h.segs {
		if h.segs[i].start == start {
			return i
		}
	}
	return noSeg
}

// NumFrames returns how many frames back the arena.
func (h *Heap) NumFrames() int { return len(h.frames) }
