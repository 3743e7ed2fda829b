// Package as implements the address-space object from spec.md §4.3: an
// ordered list of virtual memory areas (VMAs) plus a root page table,
// supporting map/unmap/brk/find/duplicate.
//
// Grounded on the "one ordered region list + lookup cache" shape of
// biscuit's vm.Vm_t (see _examples/other_examples, vm/as.go), adapted
// here to spec.md's disjoint-sorted-slice discipline and one-entry find
// cache rather than biscuit's interval structure, and to the
// ptable/ppa/physmem packages this port uses in place of raw pointers
// into a real address space.
package as

import (
	"sort"

	"github.com/ucore-lineage/ucore/internal/kerr"
	"github.com/ucore-lineage/ucore/internal/mm/memlayout"
	"github.com/ucore-lineage/ucore/internal/mm/physmem"
	"github.com/ucore-lineage/ucore/internal/mm/ppa"
	"github.com/ucore-lineage/ucore/internal/mm/ptable"
)

// Flags describe what a VMA permits (spec.md §3).
type Flags struct {
	Read  bool
	Write bool
	Exec  bool
	Stack bool
}

// VMA is a half-open byte range [Start, End) with permission Flags.
type VMA struct {
	Start uintptr
	End   uintptr
	Flags Flags
}

func (v VMA) contains(addr uintptr) bool { return addr >= v.Start && addr < v.End }

// AS is an address space: a root page table plus an ordered, disjoint
// list of VMAs, a one-entry lookup cache, and a reference count of tasks
// sharing it (spec.md §3).
type AS struct {
	Table    *ptable.Table
	vmas     []VMA // kept sorted ascending by Start; pairwise disjoint
	cache    *VMA
	refCount int

	alloc *ppa.Allocator
	mem   *physmem.Memory
}

// New creates an empty address space backed by alloc/mem.
func New(alloc *ppa.Allocator, mem *physmem.Memory) (*AS, error) {
	tbl, err := ptable.New(alloc, mem)
	if err != nil {
		return nil, err
	}
	return &AS{Table: tbl, refCount: 1, alloc: alloc, mem: mem}, nil
}

// Ref increments the sharer count (a new thread joining the AS).
func (a *AS) Ref() { a.refCount++ }

// Unref decrements the sharer count and reports whether it reached zero,
// at which point the caller should tear the AS down (spec.md §3
// "Lifetime").
func (a *AS) Unref() bool {
	a.refCount--
	return a.refCount == 0
}

// RefCount returns the current sharer count.
func (a *AS) RefCount() int { return a.refCount }

// VMAs returns the current ordered VMA list. Callers must not mutate the
// returned slice.
func (a *AS) VMAs() []VMA { return a.vmas }

// FindVMA consults the one-entry cache, falling back to a scan of the
// sorted VMA list on a miss (spec.md §4.3 "find_vma").
func (a *AS) FindVMA(addr uintptr) (VMA, bool) {
	if a.cache != nil && a.cache.contains(addr) {
		return *a.cache, true
	}
	i := sort.Search(len(a.vmas), func(i int) bool { return a.vmas[i].End > addr })
	if i < len(a.vmas) && a.vmas[i].contains(addr) {
		a.cache = &a.vmas[i]
		return a.vmas[i], true
	}
	return VMA{}, false
}

// insertVMA requires disjointness with neighbors, inserts keeping Start
// ascending, and returns the inserted VMA's index (spec.md §4.3
// "insert_vma").
func (a *AS) insertVMA(v VMA) (int, error) {
	i := sort.Search(len(a.vmas), func(i int) bool { return a.vmas[i].Start >= v.Start })
	if i > 0 && a.vmas[i-1].End > v.Start {
		return 0, kerr.ErrInval
	}
	if i < len(a.vmas) && v.End > a.vmas[i].Start {
		return 0, kerr.ErrInval
	}
	a.vmas = append(a.vmas, VMA{})
	copy(a.vmas[i+1:], a.vmas[i:])
	a.vmas[i] = v
	a.cache = nil
	return i, nil
}

// Map rounds [addr, addr+length) to page boundaries, requires it lie
// entirely in the user region and not overlap an existing VMA, then
// creates and inserts it (spec.md §4.3 "map").
func (a *AS) Map(addr uintptr, length uintptr, flags Flags) (VMA, error) {
	start := memlayout.PageRoundDown(addr)
	end := memlayout.PageRoundUp(addr + length)
	if !memlayout.InUserRegion(start, end-start) {
		return VMA{}, kerr.ErrInval
	}
	v := VMA{Start: start, End: end, Flags: flags}
	if _, err := a.insertVMA(v); err != nil {
		return VMA{}, err
	}
	return v, nil
}

// Unmap removes [addr, addr+length) from the VMA list, splitting any VMA
// only partially covered into one or two residual VMAs that keep the
// original flags, and unmaps the corresponding page-table leaves (spec.md
// §4.3 "unmap").
func (a *AS) Unmap(addr uintptr, length uintptr) error {
	start := memlayout.PageRoundDown(addr)
	end := memlayout.PageRoundUp(addr + length)
	if end <= start {
		return kerr.ErrInval
	}

	var kept []VMA
	for _, v := range a.vmas {
		switch {
		case v.End <= start || v.Start >= end:
			kept = append(kept, v)
		case v.Start >= start && v.End <= end:
			// fully covered: drop it
		default:
			if v.Start < start {
				kept = append(kept, VMA{Start: v.Start, End: start, Flags: v.Flags})
			}
			if v.End > end {
				kept = append(kept, VMA{Start: end, End: v.End, Flags: v.Flags})
			}
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	a.vmas = kept
	a.cache = nil

	a.Table.UnmapRange(start, end)
	return nil
}

// Brk is equivalent to Unmap of the affected region followed by a merge
// with the immediately preceding VMA if it abuts and carries
// {read, write}; otherwise it creates a new VMA (spec.md §4.3 "brk").
func (a *AS) Brk(oldEnd, newEnd uintptr) error {
	if newEnd < oldEnd {
		return a.Unmap(newEnd, oldEnd-newEnd)
	}
	if newEnd == oldEnd {
		return nil
	}

	start := memlayout.PageRoundDown(oldEnd)
	end := memlayout.PageRoundUp(newEnd)

	for i := range a.vmas {
		v := &a.vmas[i]
		if v.End == start && v.Flags.Read && v.Flags.Write && !v.Flags.Stack {
			v.End = end
			a.cache = nil
			return nil
		}
	}
	_, err := a.Map(start, end-start, Flags{Read: true, Write: true})
	return err
}

// Duplicate traverses from's VMA list in reverse insertion order,
// creates a twin VMA in a for each, and eagerly copies the mapped pages
// (spec.md §4.3 "duplicate").
func (a *AS) Duplicate(from *AS) error {
	for i := len(from.vmas) - 1; i >= 0; i-- {
		v := from.vmas[i]
		if _, err := a.insertVMA(v); err != nil {
			return err
		}
		if err := a.Table.CopyRange(from.Table, v.Start, v.End); err != nil {
			return err
		}
	}
	return nil
}
