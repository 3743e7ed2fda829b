package ksync

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeTask struct {
	mu   sync.Mutex
	woke bool
}

func (f *fakeTask) Wake() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.woke = true
}

func (f *fakeTask) wasWoken() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.woke
}

func TestDownDecrementsWithoutBlockingWhenPositive(t *testing.T) {
	s := New(1)
	done := make(chan struct{})
	go func() {
		s.Down(&fakeTask{})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Down blocked despite a positive counter")
	}
	require.Zero(t, s.Value())
}

func TestUpWakesFIFOWaiterInOrder(t *testing.T) {
	s := New(0)
	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Down(&fakeTask{})
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}(i)
		// Give the goroutine time to enqueue before the next one starts,
		// so FIFO order is deterministic for this test.
		for s.NumWaiters() <= i {
			time.Sleep(time.Millisecond)
		}
	}

	// Wait for each woken goroutine to record itself before the next Up,
	// so the order observed is the order Up released the waiters.
	for i := 0; i < 3; i++ {
		s.Up()
		for {
			mu.Lock()
			n := len(order)
			mu.Unlock()
			if n > i {
				break
			}
			time.Sleep(time.Millisecond)
		}
	}
	wg.Wait()

	require.Equal(t, []int{0, 1, 2}, order)
}

func TestUpWithNoWaitersIncrementsCounter(t *testing.T) {
	s := New(0)
	s.Up()
	require.Equal(t, 1, s.Value())
}
