package machine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newFixture(t *testing.T) *Machine {
	t.Helper()
	m, err := New(Config{
		NumFrames:     256,
		SwapOn:        true,
		SwapSlots:     64,
		Replacement:   FIFO,
		Scheduler:     CFS,
		HeapFrames:    16,
		FSBlocks:      1024,
		FSInodeBlocks: 32,
		FormatFS:      true,
	})
	require.NoError(t, err)
	return m
}

func TestNewWiresEveryCoreSubsystem(t *testing.T) {
	m := newFixture(t)
	require.NotNil(t, m.Alloc)
	require.NotNil(t, m.Engine)
	require.NotNil(t, m.Resolver)
	require.NotNil(t, m.Tasks)
	require.NotNil(t, m.FS)
	require.NotNil(t, m.VFS)
	require.NotNil(t, m.Heap)
}

func TestScheduleReturnsInitTaskWhenAlone(t *testing.T) {
	m := newFixture(t)
	next, ok := m.Schedule()
	require.True(t, ok)
	require.Equal(t, m.Tasks.Init().Pid(), next.Pid())
}

func TestForkedChildIsSchedulableAfterEnqueue(t *testing.T) {
	m := newFixture(t)
	child, err := m.Tasks.Fork(m.Tasks.Init())
	require.NoError(t, err)

	m.SchedPol.Enqueue(m.RunQ, child)
	require.Equal(t, 2, m.RunQ.Len())
}

func TestVFSRootUsableImmediatelyAfterFormat(t *testing.T) {
	m := newFixture(t)
	root, err := m.VFS.Root()
	require.NoError(t, err)
	require.True(t, root.IsDir())
}
