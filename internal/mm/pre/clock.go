package pre

import "github.com/ucore-lineage/ucore/internal/mm/ptable"

// EnhancedClockPolicy implements the four-pass not-recently-used scan
// (spec.md §4.5 "Enhanced clock"), run in insertion order (oldest to
// newest, s.tail to s.head) on every victim selection:
//  1. the first (accessed=0, dirty=0) page;
//  2. otherwise the first (accessed=0, dirty=1) page, this pass clearing
//     accessed on every page in the list, before and after the match;
//  3. otherwise the first dirty=0 page;
//  4. otherwise the first dirty=1 page.
type EnhancedClockPolicy struct{}

func (EnhancedClockPolicy) SelectVictim(tbl *ptable.Table, s *state) (uintptr, bool) {
	if p, ok := scanFirst(tbl, s, func(a, d bool) bool { return !a && !d }, false); ok {
		return s.popVictim(p), true
	}
	if p, ok := scanFirst(tbl, s, func(a, d bool) bool { return !a && d }, true); ok {
		return s.popVictim(p), true
	}
	if p, ok := scanFirst(tbl, s, func(_, d bool) bool { return !d }, false); ok {
		return s.popVictim(p), true
	}
	if p, ok := scanFirst(tbl, s, func(_, d bool) bool { return d }, false); ok {
		return s.popVictim(p), true
	}
	return 0, false
}

// scanFirst walks the candidate list in insertion order, oldest first
// (s.tail, the least-recently-mapped page, back through p.prev to
// s.head), returning the first node whose (accessed, dirty) bits satisfy
// match. When clearAccessed is set, every visited page's accessed bit is
// cleared in place regardless of whether it matched.
func scanFirst(tbl *ptable.Table, s *state, match func(accessed, dirty bool) bool, clearAccessed bool) (*pageDesc, bool) {
	var found *pageDesc
	for p := s.tail; p != nil; p = p.prev {
		pte, ok := tbl.Locate(p.vaddr, false)
		if !ok || !pte.Present {
			continue
		}
		if found == nil && match(pte.Accessed, pte.Dirty) {
			found = p
			if !clearAccessed {
				break
			}
		}
		if clearAccessed {
			pte.Accessed = false
		}
	}
	return found, found != nil
}

func (s *state) popVictim(p *pageDesc) uintptr {
	addr := p.vaddr
	s.unlink(p)
	return addr
}

// ExtendedClockPolicy implements the single-bit (dirty-only) clock
// (spec.md §4.5 "Extended clock"): one pass over the candidate list, in
// insertion order oldest first, picks the first clean page; every dirty
// page visited along the way has its dirty bit cleared. If the pass
// completes with no victim (every page was dirty, and is now clean), the
// oldest page (s.tail) is evicted instead of looping forever.
type ExtendedClockPolicy struct{}

func (ExtendedClockPolicy) SelectVictim(tbl *ptable.Table, s *state) (uintptr, bool) {
	for p := s.tail; p != nil; p = p.prev {
		pte, ok := tbl.Locate(p.vaddr, false)
		if !ok || !pte.Present {
			continue
		}
		if !pte.Dirty {
			return s.popVictim(p), true
		}
		pte.Dirty = false
	}
	if s.tail == nil {
		return 0, false
	}
	return s.popVictim(s.tail), true
}
