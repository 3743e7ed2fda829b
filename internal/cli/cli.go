// Package cli implements the small set of user-space utilities
// original_source/user/{cat.c,kill.c,nice.c,top.c} provide, each driven
// over a syscall.Dispatcher exactly the way a real program would call
// into the kernel, rather than reaching into internal/proc directly.
package cli

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/ucore-lineage/ucore/internal/diag"
	"github.com/ucore-lineage/ucore/internal/mm/as"
	"github.com/ucore-lineage/ucore/internal/proc"
	"github.com/ucore-lineage/ucore/internal/syscall"
)

const catBufSize = 4096

// Cat writes each named file's contents to out in turn (cat.c's argc>1
// branch; the interactive no-argument echo loop is sh's job here, not
// this utility's, since this simulation has no raw terminal to read).
func Cat(d *syscall.Dispatcher, t *proc.Task, out io.Writer, names []string) error {
	for _, name := range names {
		if err := catOne(d, t, out, name); err != nil {
			return fmt.Errorf("cat: %s: %w", name, err)
		}
	}
	return nil
}

func catOne(d *syscall.Dispatcher, t *proc.Task, out io.Writer, name string) error {
	ret, err := d.Dispatch(syscall.SysOpen, t, syscall.Args{Path: name, Flags: as.Flags{Read: true}})
	if err != nil {
		return err
	}
	fd := int(ret)
	defer d.Dispatch(syscall.SysClose, t, syscall.Args{Fd: fd})

	buf := make([]byte, catBufSize)
	for {
		n, err := d.Dispatch(syscall.SysRead, t, syscall.Args{Fd: fd, Buf: buf})
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		if _, err := out.Write(buf[:n]); err != nil {
			return err
		}
	}
}

// Kill sends pid a synchronous termination (kill.c: "kill(str_to_int(argv[1]))").
func Kill(d *syscall.Dispatcher, t *proc.Task, pid int) error {
	_, err := d.Dispatch(syscall.SysKill, t, syscall.Args{Pid: pid})
	return err
}

// Nice sets pid's scheduling priority to prior, 1..19 (nice.c).
func Nice(d *syscall.Dispatcher, t *proc.Task, pid, prior int) error {
	_, err := d.Dispatch(syscall.SysNice, t, syscall.Args{Pid: pid, Prior: prior})
	return err
}

// Top renders a one-line-per-task snapshot of the table (top.c's
// print_gdb loop), using tablewriter the way the rest of this port's
// ambient stack renders tabular output. STATE and PRIOR are rendered from
// each task's packed get_pdb status word rather than read off the Task
// directly, since a real "top" only ever sees that word across the
// syscall boundary.
func Top(tasks *proc.Table, out io.Writer) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"PID", "NAME", "STATE", "PPID", "PRIOR"})
	for _, t := range tasks.Snapshot() {
		word, err := t.StatusWord()
		state, prior := t.State().String(), fmt.Sprintf("%d", t.StridePrior())
		if err == nil {
			flags, err := proc.UnpackStatusWord(word)
			if err == nil {
				state, prior = flags.String(), fmt.Sprintf("%d", flags.Prior)
			}
		}
		table.Append([]string{
			fmt.Sprintf("%d", t.Pid()),
			t.Name(),
			state,
			fmt.Sprintf("%d", t.Ppid()),
			prior,
		})
	}
	table.Render()
}

// TopVerbose dumps the full Task value of pid via go-spew, for a "-v"
// debugging flag top.c has no equivalent of (this port's addition, since
// the in-memory Task carries far more state than a C proc_struct_user
// snapshot would serialize).
func TopVerbose(tasks *proc.Table, pid int, out io.Writer) error {
	t, err := tasks.Lookup(pid)
	if err != nil {
		return err
	}
	diag.Dump(out, t)
	return nil
}
