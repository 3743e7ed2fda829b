package pre

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemBackingStoreWriteReadRoundTrip(t *testing.T) {
	store := NewMemBackingStore(4)
	page := make([]byte, 4096)
	page[0] = 0x42

	require.NoError(t, store.WriteSlot(1, page))
	got, err := store.ReadSlot(1)
	require.NoError(t, err)
	require.Equal(t, byte(0x42), got[0])
}

func TestMemBackingStoreRejectsSlotZero(t *testing.T) {
	store := NewMemBackingStore(4)
	require.Error(t, store.WriteSlot(0, make([]byte, 4096)))
	_, err := store.ReadSlot(0)
	require.Error(t, err)
}
