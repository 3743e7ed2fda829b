// Package kerr defines the kernel's error taxonomy (spec §7). Core routines
// never panic on user-caused errors; they return one of these sentinels,
// which the syscall layer shuttles back to user space. Invariant violations
// are reported through Fatal, which panics, because they are bugs in the
// kernel itself rather than user-caused conditions.
package kerr

import "errors"

// Kind classifies an error into the taxonomy from spec.md §7.
type Kind int

const (
	// KindNone means the error does not belong to the taxonomy (or err is nil).
	KindNone Kind = iota
	KindNoMem
	KindNoFreeProc
	KindInval
	KindNoEnt
	KindExists
	KindNotDir
	KindIsDir
	KindNotEmpty
	KindBusy
	KindInterrupted
)

var (
	// ErrNoMem is returned on physical frame or kernel-heap exhaustion.
	ErrNoMem = errors.New("kerr: out of memory")
	// ErrNoFreeProc is returned when the pid bitmap has no free slot.
	ErrNoFreeProc = errors.New("kerr: no free process slot")
	// ErrInval is returned for range, alignment, or permission violations.
	ErrInval = errors.New("kerr: invalid argument")
	// ErrNoEnt is returned when a file, directory entry, or child does not exist.
	ErrNoEnt = errors.New("kerr: no such entry")
	// ErrExists is returned by create-exclusive or link operations that would
	// overwrite an existing name.
	ErrExists = errors.New("kerr: entry already exists")
	// ErrNotDir is returned when a path component that must be a directory is not.
	ErrNotDir = errors.New("kerr: not a directory")
	// ErrIsDir is returned when an operation requires a non-directory.
	ErrIsDir = errors.New("kerr: is a directory")
	// ErrNotEmpty is returned by unlink/rmdir on a non-empty directory.
	ErrNotEmpty = errors.New("kerr: directory not empty")
	// ErrBusy is returned when reclaiming an inode still in use.
	ErrBusy = errors.New("kerr: resource busy")
	// ErrInterrupted is returned by a sleeping syscall woken by kill.
	ErrInterrupted = errors.New("kerr: interrupted")
)

var kinds = map[error]Kind{
	ErrNoMem:       KindNoMem,
	ErrNoFreeProc:  KindNoFreeProc,
	ErrInval:       KindInval,
	ErrNoEnt:       KindNoEnt,
	ErrExists:      KindExists,
	ErrNotDir:      KindNotDir,
	ErrIsDir:       KindIsDir,
	ErrNotEmpty:    KindNotEmpty,
	ErrBusy:        KindBusy,
	ErrInterrupted: KindInterrupted,
}

// Of reports the taxonomy Kind that err (or one of the errors it wraps)
// belongs to, or KindNone if it is nil or not part of the taxonomy.
func Of(err error) Kind {
	if err == nil {
		return KindNone
	}
	for sentinel, kind := range kinds {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindNone
}

// Fatal panics with msg. It is used for invariant violations — free-list
// corruption, inode refcount underflow, an invalid on-disk file type — that
// are bugs in the kernel itself and not user-caused conditions (spec §7).
func Fatal(msg string) {
	panic("ucore: fatal: " + msg)
}
