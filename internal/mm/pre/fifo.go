package pre

import "github.com/ucore-lineage/ucore/internal/mm/ptable"

// FIFOPolicy evicts the longest-resident swappable page: state.tail is
// always the least-recently-mapped candidate since MapSwappable only
// ever pushes at the head (spec.md §4.5 "FIFO").
type FIFOPolicy struct{}

func (FIFOPolicy) SelectVictim(tbl *ptable.Table, s *state) (uintptr, bool) {
	if s.tail == nil {
		return 0, false
	}
	victim := s.tail
	s.unlink(victim)
	return victim.vaddr, true
}
