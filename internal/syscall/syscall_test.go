package syscall

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ucore-lineage/ucore/internal/fs/sfs"
	"github.com/ucore-lineage/ucore/internal/machine"
	"github.com/ucore-lineage/ucore/internal/mm/as"
)

func newFixture(t *testing.T) (*Dispatcher, *machine.Machine) {
	t.Helper()
	m, err := machine.New(machine.Config{
		NumFrames:     256,
		SwapOn:        true,
		SwapSlots:     64,
		Replacement:   machine.FIFO,
		Scheduler:     machine.CFS,
		HeapFrames:    16,
		FSBlocks:      1024,
		FSInodeBlocks: 32,
		FormatFS:      true,
	})
	require.NoError(t, err)
	return New(m), m
}

func TestGetPidReturnsCallersPid(t *testing.T) {
	d, m := newFixture(t)
	ret, err := d.Dispatch(SysGetPid, m.Tasks.Init(), Args{})
	require.NoError(t, err)
	require.EqualValues(t, m.Tasks.Init().Pid(), ret)
}

func TestForkThenWaitRoundTrip(t *testing.T) {
	d, m := newFixture(t)
	init := m.Tasks.Init()

	ret, err := d.Dispatch(SysFork, init, Args{})
	require.NoError(t, err)
	childPid := int(ret)

	child, err := m.Tasks.Lookup(childPid)
	require.NoError(t, err)
	m.Tasks.Exit(child, 5)

	ret, err = d.Dispatch(SysWait, init, Args{})
	require.NoError(t, err)
	require.EqualValues(t, childPid, ret)
}

func TestMkdirChdirUnlinkViaDispatch(t *testing.T) {
	d, m := newFixture(t)
	init := m.Tasks.Init()

	_, err := d.Dispatch(SysMkdir, init, Args{Path: "sub"})
	require.NoError(t, err)

	_, err = d.Dispatch(SysChdir, init, Args{Path: "sub"})
	require.NoError(t, err)

	_, err = d.Dispatch(SysUnlink, init, Args{Path: "nonexistent"})
	require.Error(t, err)
}

func TestOpenWriteReadRoundTripViaDispatch(t *testing.T) {
	d, m := newFixture(t)
	init := m.Tasks.Init()

	root, err := m.VFS.Root()
	require.NoError(t, err)

	ino, err := m.FS.AllocInode()
	require.NoError(t, err)
	require.NoError(t, m.FS.WriteInode(ino, &sfs.DiskInode{Type: sfs.TypeFile}))
	target, err := m.VFS.LoadInode(ino)
	require.NoError(t, err)
	require.NoError(t, m.VFS.Link(root, "greeting.txt", target))
	require.NoError(t, m.VFS.Release(target))

	fd, err := d.Dispatch(SysOpen, init, Args{Path: "greeting.txt", Flags: as.Flags{Write: true}})
	require.NoError(t, err)

	n, err := d.Dispatch(SysWrite, init, Args{Fd: int(fd), Buf: []byte("hello")})
	require.NoError(t, err)
	require.EqualValues(t, 5, n)

	_, err = d.Dispatch(SysSeek, init, Args{Fd: int(fd), Whence: SeekSet, Offset: 0})
	require.NoError(t, err)

	buf := make([]byte, 5)
	n, err = d.Dispatch(SysRead, init, Args{Fd: int(fd), Buf: buf})
	require.NoError(t, err)
	require.EqualValues(t, 5, n)
	require.Equal(t, "hello", string(buf))

	_, err = d.Dispatch(SysClose, init, Args{Fd: int(fd)})
	require.NoError(t, err)
}

func TestUndefinedSyscallNumberFails(t *testing.T) {
	d, m := newFixture(t)
	_, err := d.Dispatch(Num(9999), m.Tasks.Init(), Args{})
	require.ErrorIs(t, err, ErrUndefinedSyscall)
}

func TestSemInitUpDownRoundTrip(t *testing.T) {
	d, m := newFixture(t)
	init := m.Tasks.Init()

	ret, err := d.Dispatch(SysSemInit, init, Args{SemVal: 1})
	require.NoError(t, err)
	semID := int(ret)

	_, err = d.Dispatch(SysSemDown, init, Args{SemID: semID})
	require.NoError(t, err)

	val, err := d.Dispatch(SysSemGetValue, init, Args{SemID: semID})
	require.NoError(t, err)
	require.EqualValues(t, 0, val)

	_, err = d.Dispatch(SysSemUp, init, Args{SemID: semID})
	require.NoError(t, err)
	val, err = d.Dispatch(SysSemGetValue, init, Args{SemID: semID})
	require.NoError(t, err)
	require.EqualValues(t, 1, val)
}

func TestBrkGrowsDataSegment(t *testing.T) {
	d, m := newFixture(t)
	init := m.Tasks.Init()
	require.NoError(t, m.Tasks.Exec(init, "test", nil))

	_, err := d.Dispatch(SysBrk, init, Args{Size: 4096})
	require.NoError(t, err)
}

func TestShmemReturnsReservedNotImplementedError(t *testing.T) {
	d, m := newFixture(t)
	_, err := d.Dispatch(SysShmem, m.Tasks.Init(), Args{})
	require.Error(t, err)
}

func TestGetDirEntryListsDirectoryContents(t *testing.T) {
	d, m := newFixture(t)
	init := m.Tasks.Init()

	_, err := d.Dispatch(SysMkdir, init, Args{Path: "sub"})
	require.NoError(t, err)

	fd, err := d.Dispatch(SysOpen, init, Args{Path: "sub"})
	require.NoError(t, err)

	buf := make([]byte, 32)
	seen := make(map[string]bool)
	for i := int64(0); ; i++ {
		clear(buf)
		_, err := d.Dispatch(SysGetDirEntry, init, Args{Fd: int(fd), Offset: i, Buf: buf})
		if err != nil {
			break
		}
		name := string(bytes.TrimRight(buf, "\x00"))
		seen[name] = true
	}
	require.True(t, seen["."])
	require.True(t, seen[".."])

	buf2 := make([]byte, 32)
	_, err = d.Dispatch(SysGetDirEntry, init, Args{Fd: int(fd), Offset: 9999, Buf: buf2})
	require.Error(t, err)
}

func TestGetCwdReconstructsPathAfterChdir(t *testing.T) {
	d, m := newFixture(t)
	init := m.Tasks.Init()

	_, err := d.Dispatch(SysMkdir, init, Args{Path: "work"})
	require.NoError(t, err)
	_, err = d.Dispatch(SysChdir, init, Args{Path: "work"})
	require.NoError(t, err)

	buf := make([]byte, 64)
	n, err := d.Dispatch(SysGetCwd, init, Args{Buf: buf})
	require.NoError(t, err)
	require.Equal(t, "/work", string(buf[:n]))
}

func TestFsyncFlushesDirtyInode(t *testing.T) {
	d, m := newFixture(t)
	init := m.Tasks.Init()

	_, err := d.Dispatch(SysMkdir, init, Args{Path: "sub"})
	require.NoError(t, err)

	fd, err := d.Dispatch(SysOpen, init, Args{Path: "sub"})
	require.NoError(t, err)
	_, err = d.Dispatch(SysFsync, init, Args{Fd: int(fd)})
	require.NoError(t, err)

	_, err = d.Dispatch(SysFsync, init, Args{Fd: 9999})
	require.Error(t, err)
}

func TestWaitTargetsSpecificPid(t *testing.T) {
	d, m := newFixture(t)
	init := m.Tasks.Init()

	ret1, err := d.Dispatch(SysFork, init, Args{})
	require.NoError(t, err)
	ret2, err := d.Dispatch(SysFork, init, Args{})
	require.NoError(t, err)

	child2, err := m.Tasks.Lookup(int(ret2))
	require.NoError(t, err)
	m.Tasks.Exit(child2, 2)

	ret, err := d.Dispatch(SysWait, init, Args{Pid: int(ret2)})
	require.NoError(t, err)
	require.EqualValues(t, ret2, ret)

	_, err = d.Dispatch(SysWait, init, Args{Pid: int(ret1) + 1000})
	require.Error(t, err)
}
