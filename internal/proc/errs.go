package proc

import "errors"

// Sentinel errors specific to task-table operations, in the errs.go-per-
// package style (pkg/system/proc/errs.go). Range/lifecycle violations
// that don't belong to the shared kerr taxonomy live here instead.
var (
	// ErrNoSuchTask is returned when a pid does not name a live task.
	ErrNoSuchTask = errors.New("proc: no such task")
	// ErrNotAChild is returned when Wait targets a pid that is not the
	// caller's child.
	ErrNotAChild = errors.New("proc: not a child of the caller")
	// ErrNoZombieChild is returned by Wait when the caller has no
	// children at all; with live children Wait blocks instead.
	ErrNoZombieChild = errors.New("proc: no zombie child")
)
