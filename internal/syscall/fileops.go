package syscall

import (
	"github.com/ucore-lineage/ucore/internal/kerr"
	"github.com/ucore-lineage/ucore/internal/mm/as"
	"github.com/ucore-lineage/ucore/internal/proc"
)

func (d *Dispatcher) open(t *proc.Task, a Args) (int64, error) {
	tf := d.filesFor(t)
	tf.mu.Lock()
	defer tf.mu.Unlock()

	inode, err := d.m.VFS.Lookup(tf.cwd, a.Path)
	if err != nil {
		return -1, err
	}
	fd := tf.nextFd
	tf.nextFd++
	tf.files[fd] = &fileHandle{inode: inode, writable: a.Flags.Write}
	return int64(fd), nil
}

func (d *Dispatcher) close(t *proc.Task, a Args) (int64, error) {
	tf := d.filesFor(t)
	tf.mu.Lock()
	h, ok := tf.files[a.Fd]
	if ok {
		delete(tf.files, a.Fd)
	}
	tf.mu.Unlock()
	if !ok {
		return -1, kerr.ErrInval
	}
	return 0, d.m.VFS.Release(h.inode)
}

func (d *Dispatcher) read(t *proc.Task, a Args) (int64, error) {
	tf := d.filesFor(t)
	tf.mu.Lock()
	h, ok := tf.files[a.Fd]
	tf.mu.Unlock()
	if !ok {
		return -1, kerr.ErrInval
	}
	n, err := d.m.VFS.IO(h.inode, a.Buf, h.offset, false)
	if err != nil {
		return -1, err
	}
	tf.mu.Lock()
	h.offset += uint32(n)
	tf.mu.Unlock()
	return int64(n), nil
}

func (d *Dispatcher) write(t *proc.Task, a Args) (int64, error) {
	tf := d.filesFor(t)
	tf.mu.Lock()
	h, ok := tf.files[a.Fd]
	tf.mu.Unlock()
	if !ok {
		return -1, kerr.ErrInval
	}
	if !h.writable {
		return -1, kerr.ErrInval
	}
	n, err := d.m.VFS.IO(h.inode, a.Buf, h.offset, true)
	if err != nil {
		return -1, err
	}
	tf.mu.Lock()
	h.offset += uint32(n)
	tf.mu.Unlock()
	return int64(n), nil
}

// seek whence values, matching the original's SEEK_SET/CUR/END.
const (
	SeekSet = 0
	SeekCur = 1
	SeekEnd = 2
)

func (d *Dispatcher) seek(t *proc.Task, a Args) (int64, error) {
	tf := d.filesFor(t)
	tf.mu.Lock()
	defer tf.mu.Unlock()
	h, ok := tf.files[a.Fd]
	if !ok {
		return -1, kerr.ErrInval
	}
	var base int64
	switch a.Whence {
	case SeekSet:
		base = 0
	case SeekCur:
		base = int64(h.offset)
	case SeekEnd:
		base = int64(h.inode.Size())
	default:
		return -1, kerr.ErrInval
	}
	pos := base + a.Offset
	if pos < 0 {
		return -1, kerr.ErrInval
	}
	h.offset = uint32(pos)
	return pos, nil
}

func (d *Dispatcher) fstat(t *proc.Task, a Args) (int64, error) {
	tf := d.filesFor(t)
	tf.mu.Lock()
	h, ok := tf.files[a.Fd]
	tf.mu.Unlock()
	if !ok {
		return -1, kerr.ErrInval
	}
	return int64(h.inode.Size()), nil
}

// fsync flushes fd's inode to the backing filesystem, surfacing a write
// failure rather than reporting success unconditionally (spec.md §9's
// superblock-sync Open Question).
func (d *Dispatcher) fsync(t *proc.Task, a Args) (int64, error) {
	tf := d.filesFor(t)
	tf.mu.Lock()
	h, ok := tf.files[a.Fd]
	tf.mu.Unlock()
	if !ok {
		return -1, kerr.ErrInval
	}
	return 0, d.m.VFS.Sync(h.inode)
}

// getCwd reconstructs the task's current-directory path by walking ".."
// entries to the volume root, writing it into a.Buf.
func (d *Dispatcher) getCwd(t *proc.Task, a Args) (int64, error) {
	tf := d.filesFor(t)
	tf.mu.Lock()
	cwd := tf.cwd
	tf.mu.Unlock()

	path, err := d.m.VFS.Path(cwd)
	if err != nil {
		return -1, err
	}
	copy(a.Buf, path)
	return int64(len(path)), nil
}

// getDirEntry reads the a.Offset'th occupied directory entry of the open
// directory fd, writing its name into a.Buf and returning its inode
// number (spec.md §6 "getdirentry").
func (d *Dispatcher) getDirEntry(t *proc.Task, a Args) (int64, error) {
	tf := d.filesFor(t)
	tf.mu.Lock()
	h, ok := tf.files[a.Fd]
	tf.mu.Unlock()
	if !ok {
		return -1, kerr.ErrInval
	}
	if !h.inode.IsDir() {
		return -1, kerr.ErrNotDir
	}
	name, ino, err := d.m.VFS.DirEntryAt(h.inode, int(a.Offset))
	if err != nil {
		return -1, err
	}
	copy(a.Buf, name)
	return int64(ino), nil
}

func (d *Dispatcher) dup(t *proc.Task, a Args) (int64, error) {
	tf := d.filesFor(t)
	tf.mu.Lock()
	defer tf.mu.Unlock()
	h, ok := tf.files[a.Fd]
	if !ok {
		return -1, kerr.ErrInval
	}
	newFd := tf.nextFd
	tf.nextFd++
	tf.files[newFd] = &fileHandle{inode: h.inode, offset: h.offset, writable: h.writable}
	return int64(newFd), nil
}

func (d *Dispatcher) chdir(t *proc.Task, a Args) (int64, error) {
	tf := d.filesFor(t)
	tf.mu.Lock()
	cwd := tf.cwd
	tf.mu.Unlock()

	dir, err := d.m.VFS.Lookup(cwd, a.Path)
	if err != nil {
		return -1, err
	}
	if !dir.IsDir() {
		return -1, kerr.ErrNotDir
	}
	tf.mu.Lock()
	tf.cwd = dir
	tf.mu.Unlock()
	return 0, nil
}

func (d *Dispatcher) mkdir(t *proc.Task, a Args) (int64, error) {
	tf := d.filesFor(t)
	tf.mu.Lock()
	cwd := tf.cwd
	tf.mu.Unlock()
	_, err := d.m.VFS.Mkdir(cwd, a.Path)
	if err != nil {
		return -1, err
	}
	return 0, nil
}

func (d *Dispatcher) link(t *proc.Task, a Args) (int64, error) {
	tf := d.filesFor(t)
	tf.mu.Lock()
	cwd := tf.cwd
	tf.mu.Unlock()

	target, err := d.m.VFS.Lookup(cwd, a.Path)
	if err != nil {
		return -1, err
	}
	defer d.m.VFS.Release(target)
	if err := d.m.VFS.Link(cwd, a.Argv[0], target); err != nil {
		return -1, err
	}
	return 0, nil
}

func (d *Dispatcher) unlink(t *proc.Task, a Args) (int64, error) {
	tf := d.filesFor(t)
	tf.mu.Lock()
	cwd := tf.cwd
	tf.mu.Unlock()
	return 0, d.m.VFS.Unlink(cwd, a.Path)
}

// brk grows or shrinks the task's data segment: the read/write,
// non-stack VMA Exec creates (spec.md §4.3's Brk, which extends that
// VMA in place when it abuts).
func (d *Dispatcher) brk(t *proc.Task, a Args) (int64, error) {
	var heapVMA *as.VMA
	for i, v := range t.AS.VMAs() {
		if v.Flags.Read && v.Flags.Write && !v.Flags.Stack {
			heapVMA = &t.AS.VMAs()[i]
			break
		}
	}
	if heapVMA == nil {
		return -1, kerr.ErrInval
	}
	newEnd := heapVMA.End + a.Size
	if err := t.AS.Brk(heapVMA.End, newEnd); err != nil {
		return -1, err
	}
	return int64(newEnd), nil
}
