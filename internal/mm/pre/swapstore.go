package pre

import (
	"sync"

	"github.com/ucore-lineage/ucore/internal/kerr"
	"github.com/ucore-lineage/ucore/internal/mm/memlayout"
)

// MemBackingStore is a BackingStore backed entirely by host memory, the
// "in-memory buffer" SPEC_FULL.md names as the default swap device when
// no real disk image is configured. Slot numbers are assigned by the
// Engine itself (see state.slotBase/nextSlot); the store just holds
// whatever page lands at each one.
type MemBackingStore struct {
	mu    sync.Mutex
	slots [][]byte
}

// NewMemBackingStore creates a store with room for nSlots page-sized
// slots (plus the reserved slot 0, which PTE.SwapSlot==0 means "never
// swapped").
func NewMemBackingStore(nSlots int) *MemBackingStore {
	return &MemBackingStore{slots: make([][]byte, nSlots+1)}
}

// WriteSlot stores page at slot.
func (s *MemBackingStore) WriteSlot(slot uint32, page []byte) error {
	if slot == 0 || int(slot) >= len(s.slots) {
		return kerr.ErrInval
	}
	buf := make([]byte, memlayout.PageSize)
	copy(buf, page)
	s.mu.Lock()
	s.slots[slot] = buf
	s.mu.Unlock()
	return nil
}

// ReadSlot returns the page previously written to slot.
func (s *MemBackingStore) ReadSlot(slot uint32) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot == 0 || int(slot) >= len(s.slots) || s.slots[slot] == nil {
		return nil, kerr.ErrInval
	}
	return s.slots[slot], nil
}
