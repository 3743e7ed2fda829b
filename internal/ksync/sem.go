// Package ksync implements the counting semaphore from spec.md §4.8: a
// non-negative counter plus a FIFO wait queue of blocked tasks, where
// up's decrement is transferred directly to the woken waiter rather
// than the waiter rechecking the counter itself.
//
// Grounded on the "disable interrupts for the critical section" model
// spec.md §5 describes for the semaphore counter and queue; this host-
// process port uses a sync.Mutex as that critical section's stand-in,
// the same substitution ppa.Allocator makes.
package ksync

import "sync"

// Waiter is the minimal view of a blocked task a Semaphore needs: a Wake
// method Up calls before releasing the waiter. The blocking itself uses
// a channel the Semaphore creates per waiter; internal/proc's Task
// implements Wake by updating its own state.
type Waiter interface {
	Wake()
}

type waitEntry struct {
	w    Waiter
	woke chan struct{}
}

// Semaphore is spec.md §4.8's counting semaphore.
type Semaphore struct {
	mu      sync.Mutex
	count   int
	waiters []*waitEntry
}

// New creates a semaphore with initial counter v (spec.md §4.8 "init").
func New(v int) *Semaphore {
	return &Semaphore{count: v}
}

// Down decrements the counter if positive; otherwise it enqueues the
// caller and blocks until an Up transfers a decrement to it directly,
// never rechecking the counter itself (spec.md §4.8 "down").
func (s *Semaphore) Down(w Waiter) {
	s.mu.Lock()
	if s.count > 0 {
		s.count--
		s.mu.Unlock()
		return
	}
	entry := &waitEntry{w: w, woke: make(chan struct{})}
	s.waiters = append(s.waiters, entry)
	s.mu.Unlock()

	<-entry.woke
}

// Up wakes the longest-waiting blocked task (FIFO) and transfers the
// decrement to it; if no task is waiting, the counter is incremented
// instead (spec.md §4.8 "up").
func (s *Semaphore) Up() {
	s.mu.Lock()
	if len(s.waiters) == 0 {
		s.count++
		s.mu.Unlock()
		return
	}
	entry := s.waiters[0]
	s.waiters = s.waiters[1:]
	s.mu.Unlock()

	entry.w.Wake()
	close(entry.woke)
}

// Value returns the current counter, for the sem/getvalue syscall.
func (s *Semaphore) Value() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// NumWaiters reports how many tasks are currently blocked, for tests
// asserting on queue shape.
func (s *Semaphore) NumWaiters() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiters)
}
