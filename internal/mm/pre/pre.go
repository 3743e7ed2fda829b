// Package pre implements the page-replacement engine from spec.md §4.5:
// a pluggable interface (Init/InitAS/Tick/MapSwappable/SetUnswappable/
// SwapOutVictim/CheckSwap) backed by a per-AS doubly linked list of
// swappable pages, with FIFO, enhanced-clock, and extended-clock victim
// selection.
//
// There is no single direct teacher analogue for page replacement
// (iansmith-mazarin never swaps: its demand-paged region is simply
// backed 1:1 by physical frames). The doubly linked free-segment list in
// the teacher's heap.go is adapted here instead: the same "next/prev
// links threaded through descriptors, push/pop from an end" shape, now
// threaded through per-page descriptors rather than heap segments, with
// victim selection added to satisfy spec.md's policy variants.
package pre

import (
	"log/slog"

	"github.com/ucore-lineage/ucore/internal/kerr"
	"github.com/ucore-lineage/ucore/internal/mm/as"
	"github.com/ucore-lineage/ucore/internal/mm/ppa"
	"github.com/ucore-lineage/ucore/internal/mm/ptable"
)

// BackingStore models the swap device pages are written to and read
// from (spec.md §4.5). Slot 0 is never used, so that a zero leaf-entry
// swap slot can serve as "never swapped."
type BackingStore interface {
	WriteSlot(slot uint32, page []byte) error
	ReadSlot(slot uint32) ([]byte, error)
}

// pageDesc is one node of an AS's replacement-candidate list.
type pageDesc struct {
	vaddr      uintptr
	prev, next *pageDesc
}

// state is the per-AS private replacement structure (spec.md §3 "AS...
// records... a replacement-engine private state").
type state struct {
	as         *as.AS
	head, tail *pageDesc // head = most recently inserted
	index      map[uintptr]*pageDesc
	hand       *pageDesc // clock-hand; no policy reads it, unlink only keeps it off removed pages
	slotBase   uint32
	nextSlot   uint32
}

// slotsPerAS reserves a disjoint range of the shared BackingStore's slot
// space for each address space registered with an Engine, so two AS's
// swapped-out pages never land on the same slot number (the store has no
// notion of "which AS" a slot belongs to beyond the number PTE.SwapSlot
// encodes).
const slotsPerAS = 1 << 16

func newState(a *as.AS, slotBase uint32) *state {
	return &state{as: a, index: make(map[uintptr]*pageDesc), slotBase: slotBase, nextSlot: 1}
}

func (s *state) push(addr uintptr) *pageDesc {
	p := &pageDesc{vaddr: addr}
	p.next = s.head
	if s.head != nil {
		s.head.prev = p
	}
	s.head = p
	if s.tail == nil {
		s.tail = p
	}
	s.index[addr] = p
	return p
}

func (s *state) unlink(p *pageDesc) {
	if p.prev != nil {
		p.prev.next = p.next
	} else {
		s.head = p.next
	}
	if p.next != nil {
		p.next.prev = p.prev
	} else {
		s.tail = p.prev
	}
	if s.hand == p {
		s.hand = p.next
	}
	delete(s.index, p.vaddr)
}

// Policy selects a victim among a state's candidate pages.
type Policy interface {
	// SelectVictim removes and returns the victim's virtual address, or
	// ok=false if the state holds no candidates.
	SelectVictim(tbl *ptable.Table, s *state) (addr uintptr, ok bool)
}

// Engine ties a Policy to a BackingStore and the per-AS states it
// manages. The zero value is not usable; construct with New.
type Engine struct {
	policy  Policy
	store   BackingStore
	states  map[*as.AS]*state
	swapOn  bool
	log     *slog.Logger
}

// New constructs an Engine. swapOn mirrors spec.md §4.1's "if n==1 and
// swapping is enabled" gate: CheckSwap reports this value.
func New(policy Policy, store BackingStore, swapOn bool) *Engine {
	return &Engine{
		policy: policy,
		store:  store,
		states: make(map[*as.AS]*state),
		swapOn: swapOn,
		log:    slog.Default(),
	}
}

// Init performs one-shot global initialization; there is no global state
// to initialize beyond the states map New already created.
func (e *Engine) Init() {}

// InitAS registers a's per-AS replacement state, assigning it its own
// slice of the shared backing store's slot numbers.
func (e *Engine) InitAS(a *as.AS) {
	e.states[a] = newState(a, uint32(len(e.states))*slotsPerAS)
}

// CheckSwap reports whether swapping is enabled.
func (e *Engine) CheckSwap() bool { return e.swapOn }

// Tick is a hook for policies that age state on the timer tick; none of
// the three policies in this port need it, but it is kept to satisfy the
// pluggable-engine vocabulary from spec.md §4.5.
func (e *Engine) Tick(a *as.AS) {}

// MapSwappable registers addr in a as a replacement candidate (spec.md
// §4.5): FIFO, enhanced-clock and extended-clock all push new mappings
// onto the insertion-ordered list the same way; they differ only in how
// SwapOutVictim scans it. swapIn is accepted for interface symmetry with
// the original contract (map_swappable is called identically whether the
// page was freshly faulted in or just swapped in).
func (e *Engine) MapSwappable(a *as.AS, addr uintptr, swapIn bool) {
	s := e.states[a]
	if s == nil {
		kerr.Fatal("pre: MapSwappable on unregistered AS")
	}
	if _, exists := s.index[addr]; exists {
		return
	}
	s.push(addr)
}

// SetUnswappable removes addr from a's candidate list, e.g. because it
// is being unmapped outside of swap-out.
func (e *Engine) SetUnswappable(a *as.AS, addr uintptr) {
	s := e.states[a]
	if s == nil {
		return
	}
	if p, ok := s.index[addr]; ok {
		s.unlink(p)
	}
}

// SwapOutVictim selects n victims from a's candidate list, writes each
// one's payload to the backing store, replaces its leaf entry with a
// slot-encoded non-present value, and frees its frame (spec.md §4.5
// "Swap-out"). inTick distinguishes a reactive swap (triggered by an
// allocation failure) from a tick-driven one for callers that want to
// log or account for them differently; it does not change behavior.
func (e *Engine) SwapOutVictim(a *as.AS, n int, inTick bool) error {
	s := e.states[a]
	if s == nil {
		return kerr.ErrInval
	}

	for i := 0; i < n; i++ {
		addr, ok := e.policy.SelectVictim(a.Table, s)
		if !ok {
			return kerr.ErrNoMem
		}
		pte, ok := a.Table.Locate(addr, false)
		if !ok || !pte.Present {
			continue
		}

		slot := s.slotBase + s.nextSlot
		s.nextSlot++
		payload := physmemPage(a, pte.Frame)
		if err := e.store.WriteSlot(slot, payload); err != nil {
			return err
		}

		frame := pte.Frame
		*pte = ptable.PTE{Present: false, SwapSlot: slot}
		a.Table.FreeFrame(frame)
		e.log.Debug("pre: swap out", slog.Uint64("addr", uint64(addr)), slog.Int("slot", int(slot)))
	}
	return nil
}

// SwapIn allocates a frame and reads the payload stored at the slot
// encoded in the non-present leaf entry for addr, returning the frame
// for the caller (the fault resolver) to install (spec.md §4.5
// "Swap-in").
func (e *Engine) SwapIn(a *as.AS, addr uintptr, alloc *ppa.Allocator) (ppa.FrameNo, error) {
	pte, ok := a.Table.Locate(addr, false)
	if !ok || pte.Present || pte.SwapSlot == 0 {
		return 0, kerr.ErrInval
	}

	frame, err := alloc.Allocate(1)
	if err != nil {
		return 0, err
	}
	payload, err := e.store.ReadSlot(pte.SwapSlot)
	if err != nil {
		return 0, err
	}
	a.Table.WriteFramePage(frame, payload)
	return frame, nil
}

func physmemPage(a *as.AS, frame ppa.FrameNo) []byte {
	return a.Table.ReadFramePage(frame)
}
