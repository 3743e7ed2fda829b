// Command ucore boots the simulated kernel machine and drops into its
// line shell, or runs a single scripted utility (ps/top, kill, nice).
//
// Grounded on arctir-proctor's cmd package for the cobra wiring shape
// (a root command plus flat subcommands, each a thin Run over a shared
// package), adapted to this module's own domain.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/spf13/cobra"

	"github.com/ucore-lineage/ucore/internal/cli"
	"github.com/ucore-lineage/ucore/internal/fs/sfs"
	"github.com/ucore-lineage/ucore/internal/machine"
	"github.com/ucore-lineage/ucore/internal/shell"
	"github.com/ucore-lineage/ucore/internal/syscall"
)

const appName = "ucore"

var (
	flagFrames      int
	flagHeapFrames  int
	flagSwapSlots   int
	flagReplacement string
	flagScheduler   string
	flagDiskImage   string
	flagFSBlocks    uint32
	flagInodeBlocks uint32
)

// defaultDiskImage resolves the on-disk filesystem image path under the
// user's XDG data directory (spec.md §6 "persisted state is confined to
// the FS disk image"), mirroring arctir-proctor's use of xdg.DataHome
// for its own cache location.
func defaultDiskImage() string {
	return filepath.Join(xdg.DataHome, appName, "disk.img")
}

func buildMachine() (*machine.Machine, error) {
	var dev sfs.BlockDevice
	formatFS := true
	if flagDiskImage != "" {
		if err := os.MkdirAll(filepath.Dir(flagDiskImage), 0o755); err != nil {
			return nil, fmt.Errorf("ucore: preparing disk image directory: %w", err)
		}
		if _, err := os.Stat(flagDiskImage); err == nil {
			formatFS = false
		}
		fd, err := sfs.OpenFileDevice(flagDiskImage, flagFSBlocks)
		if err != nil {
			return nil, fmt.Errorf("ucore: opening disk image: %w", err)
		}
		dev = fd
	}

	return machine.New(machine.Config{
		NumFrames:     flagFrames,
		SwapOn:        flagSwapSlots > 0,
		SwapSlots:     flagSwapSlots,
		Replacement:   machine.ReplacementPolicy(flagReplacement),
		Scheduler:     machine.SchedPolicy(flagScheduler),
		HeapFrames:    flagHeapFrames,
		FSDevice:      dev,
		FSBlocks:      flagFSBlocks,
		FSInodeBlocks: flagInodeBlocks,
		FormatFS:      formatFS,
	})
}

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "A teaching x86 kernel simulation: memory, process, scheduler, and filesystem cores over a host process.",
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

var bootCmd = &cobra.Command{
	Use:   "boot",
	Short: "Construct the simulated machine and drop into its shell.",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := buildMachine()
		if err != nil {
			return err
		}
		d := syscall.New(m)
		sh := shell.New(d, m.Tasks.Init(), os.Stdout)
		return sh.Run(os.Stdin, true)
	},
}

var topCmd = &cobra.Command{
	Use:     "top",
	Aliases: []string{"ps"},
	Short:   "Snapshot the task table.",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := buildMachine()
		if err != nil {
			return err
		}
		verbose, _ := cmd.Flags().GetBool("verbose")
		if verbose {
			pid, _ := cmd.Flags().GetInt("pid")
			return cli.TopVerbose(m.Tasks, pid, os.Stdout)
		}
		cli.Top(m.Tasks, os.Stdout)
		return nil
	},
}

var killCmd = &cobra.Command{
	Use:   "kill <pid>",
	Short: "Kill processes which pid is <pid>.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := buildMachine()
		if err != nil {
			return err
		}
		var pid int
		if _, err := fmt.Sscanf(args[0], "%d", &pid); err != nil {
			return fmt.Errorf("kill: bad pid %q", args[0])
		}
		d := syscall.New(m)
		return cli.Kill(d, m.Tasks.Init(), pid)
	},
}

var catCmd = &cobra.Command{
	Use:   "cat <file>...",
	Short: "Print the contents of one or more files.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := buildMachine()
		if err != nil {
			return err
		}
		d := syscall.New(m)
		return cli.Cat(d, m.Tasks.Init(), os.Stdout, args)
	},
}

var niceCmd = &cobra.Command{
	Use:   "nice <pid> <prior>",
	Short: "Change process pid's priority to prior (1..19).",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := buildMachine()
		if err != nil {
			return err
		}
		var pid, prior int
		if _, err := fmt.Sscanf(args[0], "%d", &pid); err != nil {
			return fmt.Errorf("nice: bad pid %q", args[0])
		}
		if _, err := fmt.Sscanf(args[1], "%d", &prior); err != nil {
			return fmt.Errorf("nice: bad priority %q", args[1])
		}
		d := syscall.New(m)
		return cli.Nice(d, m.Tasks.Init(), pid, prior)
	},
}

func init() {
	rootCmd.PersistentFlags().IntVar(&flagFrames, "frames", 4096, "number of physical page frames")
	rootCmd.PersistentFlags().IntVar(&flagHeapFrames, "heap-frames", 64, "frames reserved for the kernel heap")
	rootCmd.PersistentFlags().IntVar(&flagSwapSlots, "swap-slots", 1024, "swap slots available to the page-replacement engine (0 disables swap)")
	rootCmd.PersistentFlags().StringVar(&flagReplacement, "replacement", "fifo", "page-replacement policy: fifo|enhanced-clock|extended-clock")
	rootCmd.PersistentFlags().StringVar(&flagScheduler, "scheduler", "cfs", "scheduler policy: cfs|stride")
	rootCmd.PersistentFlags().StringVar(&flagDiskImage, "disk-image", defaultDiskImage(), "path to the SFS disk image (empty for an in-memory volume)")
	rootCmd.PersistentFlags().Uint32Var(&flagFSBlocks, "fs-blocks", 65536, "total blocks in the filesystem volume")
	rootCmd.PersistentFlags().Uint32Var(&flagInodeBlocks, "fs-inode-blocks", 1024, "blocks reserved for inodes")

	topCmd.Flags().Bool("verbose", false, "dump the full task value instead of a table row")
	topCmd.Flags().Int("pid", 1, "pid to dump with --verbose")

	rootCmd.AddCommand(bootCmd, topCmd, killCmd, niceCmd, catCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
