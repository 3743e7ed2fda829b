package sfs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatCreatesRootDirInode(t *testing.T) {
	dev := NewMemDevice(256)
	fs, err := Format(dev, 256, 16)
	require.NoError(t, err)

	root, err := fs.ReadInode(fs.SuperblockInfo().RootIno)
	require.NoError(t, err)
	require.Equal(t, TypeDir, root.Type)
	require.EqualValues(t, 2, root.Nlinks)
}

func TestAllocBlockMarksBitmapAndPersists(t *testing.T) {
	dev := NewMemDevice(256)
	fs, err := Format(dev, 256, 16)
	require.NoError(t, err)

	before := fs.SuperblockInfo().UnusedBlocks
	no, err := fs.AllocBlock()
	require.NoError(t, err)
	require.GreaterOrEqual(t, no, fs.SuperblockInfo().DataStart)
	require.Equal(t, before-1, fs.SuperblockInfo().UnusedBlocks)

	reopened, err := Open(dev)
	require.NoError(t, err)
	require.True(t, bitSet(reopened.freemap, no))
}

func TestBmapGetDirectThenIndirect(t *testing.T) {
	dev := NewMemDevice(4096)
	fs, err := Format(dev, 4096, 32)
	require.NoError(t, err)

	d := DiskInode{Type: TypeFile}

	directBlk, err := fs.BmapGet(&d, 3, true)
	require.NoError(t, err)
	require.NotZero(t, directBlk)
	require.Equal(t, directBlk, d.Direct[3])

	indirectBlk, err := fs.BmapGet(&d, NDirect+5, true)
	require.NoError(t, err)
	require.NotZero(t, indirectBlk)
	require.NotZero(t, d.Indirect)

	// Reading the same index again without create must return the same
	// block rather than allocating a fresh one.
	again, err := fs.BmapGet(&d, NDirect+5, false)
	require.NoError(t, err)
	require.Equal(t, indirectBlk, again)
}

func TestDirEntryRoundTrip(t *testing.T) {
	dev := NewMemDevice(256)
	fs, err := Format(dev, 256, 16)
	require.NoError(t, err)

	no, err := fs.AllocBlock()
	require.NoError(t, err)

	var e DirEntry
	e.Ino = 7
	require.NoError(t, SetEntryName(&e, "hello.txt"))
	require.NoError(t, fs.WriteDirEntry(no, e))

	got, err := fs.ReadDirEntry(no)
	require.NoError(t, err)
	require.EqualValues(t, 7, got.Ino)
	require.Equal(t, "hello.txt", EntryName(got))
}

func TestSetEntryNameRejectsOverlong(t *testing.T) {
	var e DirEntry
	err := SetEntryName(&e, "this-name-is-definitely-longer-than-the-limit-allows")
	require.Error(t, err)
}
