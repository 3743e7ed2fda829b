package shell

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ucore-lineage/ucore/internal/machine"
	"github.com/ucore-lineage/ucore/internal/syscall"
)

func TestTokenizeSplitsWordsSymbolsAndQuotes(t *testing.T) {
	tokens := tokenize(`echo "hello world" > out.txt`)
	require.Equal(t, []string{"echo", "hello world", ">", "out.txt"}, tokens)
}

func TestParseLineSplitsOnSemicolonAndTrailingAmpersand(t *testing.T) {
	cmds, err := parseLine("ls ; top &")
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	require.Equal(t, []string{"ls"}, cmds[0].argv)
	require.False(t, cmds[0].background)
	require.Equal(t, []string{"top"}, cmds[1].argv)
	require.True(t, cmds[1].background)
}

func TestParseLineCapturesRedirection(t *testing.T) {
	cmds, err := parseLine("cat < in.txt > out.txt")
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	require.Equal(t, "in.txt", cmds[0].stdinPath)
	require.Equal(t, "out.txt", cmds[0].stdoutPath)
}

func TestParseLineRejectsDanglingRedirection(t *testing.T) {
	_, err := parseLine("cat >")
	require.Error(t, err)
}

func newFixture(t *testing.T) (*syscall.Dispatcher, *machine.Machine) {
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
	return syscall.New(m), m
}

func TestShellCdBuiltinChangesDirectoryInPlace(t *testing.T) {
	d, m := newFixture(t)
	var out bytes.Buffer
	sh := New(d, m.Tasks.Init(), &out)

	_, err := d.Dispatch(syscall.SysMkdir, m.Tasks.Init(), syscall.Args{Path: "home"})
	require.NoError(t, err)

	require.NoError(t, sh.runLine("cd home"))
}

func TestShellRunExitsCleanlyOnEOF(t *testing.T) {
	d, m := newFixture(t)
	var out bytes.Buffer
	sh := New(d, m.Tasks.Init(), &out)

	err := sh.Run(strings.NewReader(""), false)
	require.NoError(t, err)
}
