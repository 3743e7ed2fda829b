// Package ptable implements the two-level page-table walker from
// spec.md §4.2: a directory of 1024 entries, each pointing to a table of
// 1024 leaf entries, each leaf mapping one 4 KiB page.
//
// The directory/table split and the "allocate a fresh zeroed frame,
// install it with present|writable|user, then recurse" shape mirror the
// teacher kernel's (iansmith-mazarin) mmu.go, which walks an analogous
// (if deeper, ARM64-style) table hierarchy and allocates intermediate
// tables on demand from a frame pool; ptable collapses that to the
// x86-style two levels spec.md calls for and replaces raw pointer
// arithmetic with frame-number indexing, since this is a host-process
// simulation rather than bare-metal code walking real page tables.
package ptable

import (
	"log/slog"

	"github.com/ucore-lineage/ucore/internal/kerr"
	"github.com/ucore-lineage/ucore/internal/mm/memlayout"
	"github.com/ucore-lineage/ucore/internal/mm/physmem"
	"github.com/ucore-lineage/ucore/internal/mm/ppa"
)

const numEntries = 1024

// Perm is the permission subset of a leaf entry that callers specify;
// Present is always implied, and Install copies Writable and User from
// Perm as given (the fault resolver always passes User, spec.md §4.4
// step 3: "always user").
type Perm struct {
	Writable bool
	User     bool
}

// PTE is a leaf page-table entry (spec.md §3 "Page table"). SwapSlot is
// only meaningful when Present is false and SwapSlot != 0: it encodes the
// backing-device slot the page was swapped to (spec.md §4.5).
type PTE struct {
	Present  bool
	Frame    ppa.FrameNo
	Writable bool
	User     bool
	Accessed bool
	Dirty    bool
	SwapSlot uint32
}

// Table is the per-process two-level page table. Walker owns the PPA
// frames backing the directory and each second-level table; dirFrame and
// the table frames held in dir exist purely for refcount bookkeeping (spec.md §3 "every
// intermediate table is itself a frame") since a directory/table's
// logical content is kept in dir/tables rather than physmem.
type Table struct {
	alloc    *ppa.Allocator
	mem      *physmem.Memory
	dirFrame ppa.FrameNo
	dir      [numEntries]ppa.FrameNo // table frame per directory slot, -1 if absent
	tables   map[ppa.FrameNo]*[numEntries]PTE
	log      *slog.Logger

	invalidateCount int
}

// InvalidateCount returns how many times Install/Remove have invalidated
// a TLB entry, for tests asserting on spec.md §4.2's invalidation
// contract.
func (t *Table) InvalidateCount() int { return t.invalidateCount }

// New allocates a fresh, empty page table.
func New(alloc *ppa.Allocator, mem *physmem.Memory) (*Table, error) {
	dirFrame, err := alloc.Allocate(1)
	if err != nil {
		return nil, err
	}
	alloc.RefFrame(dirFrame).RefCount = 1
	t := &Table{
		alloc:    alloc,
		mem:      mem,
		dirFrame: dirFrame,
		tables:   make(map[ppa.FrameNo]*[numEntries]PTE),
		log:      slog.Default(),
	}
	for i := range t.dir {
		t.dir[i] = -1
	}
	return t, nil
}

// Locate indexes the directory by addr[31:22]. If the directory entry is
// absent and create is true, it allocates and installs a fresh zeroed
// table frame (spec.md §4.2). It returns the leaf entry at addr[21:12]
// of the referenced table, or (nil, false) if absent and create is
// false.
func (t *Table) Locate(addr uintptr, create bool) (*PTE, bool) {
	di := memlayout.DirIndex(addr)
	tf := t.dir[di]
	if tf == -1 {
		if !create {
			return nil, false
		}
		newFrame, err := t.alloc.Allocate(1)
		if err != nil {
			return nil, false
		}
		desc := t.alloc.RefFrame(newFrame)
		// Pinned at 1 rather than tracked per populated leaf entry: this
		// table's frame is freed directly by ExitRange walking t.dir, not
		// by entry refcounting, so a precise count here would never be
		// read.
		desc.RefCount = 1
		t.dir[di] = newFrame
		tbl := new([numEntries]PTE)
		t.tables[newFrame] = tbl
		tf = newFrame
	}
	tbl := t.tables[tf]
	ti := memlayout.TableIndex(addr)
	return &tbl[ti], true
}

// Install maps addr to frame with the given permissions, installing an
// intermediate table on demand. If a different frame was previously
// mapped there its reference is dropped (freed if it reaches zero); if
// the same frame was already mapped, the extra reference Install takes
// out is cancelled (spec.md §4.2 "Install").
func (t *Table) Install(addr uintptr, frame ppa.FrameNo, perm Perm) error {
	pte, ok := t.Locate(addr, true)
	if !ok {
		return kerr.ErrNoMem
	}

	desc := t.alloc.RefFrame(frame)
	desc.RefCount++

	switch {
	case pte.Present && pte.Frame == frame:
		desc.RefCount--
	case pte.Present:
		old := t.alloc.RefFrame(pte.Frame)
		old.RefCount--
		if old.RefCount == 0 {
			t.alloc.Free(pte.Frame, 1)
		}
	}

	*pte = PTE{Present: true, Frame: frame, Writable: perm.Writable, User: perm.User}
	t.invalidate(addr)
	return nil
}

// Remove unmaps addr, decrementing (and freeing on zero) the target
// frame's reference count (spec.md §4.2 "Remove").
func (t *Table) Remove(addr uintptr) {
	pte, ok := t.Locate(addr, false)
	if !ok || !pte.Present {
		return
	}
	desc := t.alloc.RefFrame(pte.Frame)
	desc.RefCount--
	if desc.RefCount == 0 {
		t.alloc.Free(pte.Frame, 1)
	}
	*pte = PTE{}
	t.invalidate(addr)
}

// UnmapRange removes every leaf mapping whose page lies in [start, end).
func (t *Table) UnmapRange(start, end uintptr) {
	for addr := memlayout.PageRoundDown(start); addr < end; addr += memlayout.PageSize {
		t.Remove(addr)
	}
}

// ExitRange frees every intermediate table whose coverage (1024 pages,
// memlayout.PageSize*numEntries bytes) lies entirely within [start, end),
// per spec.md §4.2 "exit-range".
func (t *Table) ExitRange(start, end uintptr) {
	const dirSpan = uintptr(numEntries) * memlayout.PageSize
	first := memlayout.DirIndex(memlayout.PageRoundDown(start))
	for di := first; di < numEntries; di++ {
		dirBase := uintptr(di) << 22
		if dirBase < start {
			continue
		}
		if dirBase+dirSpan > end {
			break
		}
		tf := t.dir[di]
		if tf == -1 {
			continue
		}
		t.alloc.Free(tf, 1)
		delete(t.tables, tf)
		t.dir[di] = -1
	}
}

// CopyRange copies every present leaf page in from's [start, end) range
// into a freshly allocated frame installed at the same virtual address
// and permission mask in t (spec.md §4.2 "Copy-range"). Share-based COW
// is a documented extension point; this performs an eager copy.
func (t *Table) CopyRange(from *Table, start, end uintptr) error {
	for addr := memlayout.PageRoundDown(start); addr < end; addr += memlayout.PageSize {
		srcPTE, ok := from.Locate(addr, false)
		if !ok || !srcPTE.Present {
			continue
		}
		dstFrame, err := t.alloc.Allocate(1)
		if err != nil {
			return err
		}
		t.mem.WritePage(int32(dstFrame), from.mem.ReadPage(int32(srcPTE.Frame)))
		if err := t.Install(addr, dstFrame, Perm{Writable: srcPTE.Writable, User: srcPTE.User}); err != nil {
			return err
		}
	}
	return nil
}

// FreeFrame releases a frame the caller has already unlinked from every
// leaf entry that referenced it (the page-replacement engine's swap-out,
// spec.md §4.5, having just overwritten the sole present mapping with a
// slot-encoded non-present entry). It mirrors Remove's decrement-then-
// free tail without requiring a still-present PTE to decrement through.
func (t *Table) FreeFrame(frame ppa.FrameNo) {
	desc := t.alloc.RefFrame(frame)
	desc.RefCount--
	if desc.RefCount <= 0 {
		t.alloc.Free(frame, 1)
	}
}

// ReadFramePage returns a copy of frame's physical contents, for the
// page-replacement engine's swap-out payload (spec.md §4.5).
func (t *Table) ReadFramePage(frame ppa.FrameNo) []byte {
	return t.mem.ReadPage(int32(frame))
}

// WriteFramePage overwrites frame's physical contents with payload, for
// the page-replacement engine's swap-in (spec.md §4.5).
func (t *Table) WriteFramePage(frame ppa.FrameNo, payload []byte) {
	t.mem.WritePage(int32(frame), payload)
}

// invalidate represents the hardware TLB-invalidate spec.md §4.2 requires
// after Install/Remove. There is no real TLB in a host-process
// simulation; invalidateCount lets tests observe that it was called the
// expected number of times.
func (t *Table) invalidate(addr uintptr) {
	t.invalidateCount++
}
