package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oisee/quadcore-sim/pkg/debug"
	"github.com/oisee/quadcore-sim/pkg/machine"
)

const usageLine = "usage: qsim [imem0 imem1 imem2 imem3 memin memout " +
	"regout0 regout1 regout2 regout3 core0trace core1trace core2trace core3trace " +
	"bustrace dsram0 dsram1 dsram2 dsram3 tsram0 tsram1 tsram2 tsram3 " +
	"stats0 stats1 stats2 stats3]"

// filesFor resolves the positional arguments: none means the default
// filename table, exactly 27 names them all, anything else is fatal.
func filesFor(args []string) (machine.FileSet, error) {
	if len(args) == 0 {
		return machine.DefaultFiles(), nil
	}
	if len(args) != machine.NumFiles {
		fmt.Fprintln(os.Stderr, usageLine)
		os.Exit(1)
	}
	return machine.FilesFromArgs(args)
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "qsim [files...]",
		Short:         "Cycle-accurate simulator for four MESI-coherent pipelined cores",
		Long:          "qsim simulates four in-order five-stage cores with private\ndirect-mapped write-back caches kept coherent by a snooping MESI bus.\nIt runs until every core retires a HALT and writes per-cycle pipeline\nand bus traces, final register files, memory and cache images, and\nper-core statistics.\n\nInvoke with no arguments to use the default filename table, or with\nall 27 filenames in the fixed order.",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, err := filesFor(args)
			if err != nil {
				return err
			}
			return machine.RunFiles(fs)
		},
	}

	debugCmd := &cobra.Command{
		Use:   "debug [files...]",
		Short: "Step the simulation interactively, one cycle at a time",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, err := filesFor(args)
			if err != nil {
				return err
			}
			m, err := machine.Load(fs)
			if err != nil {
				return err
			}
			return debug.Run(m)
		},
	}

	rootCmd.AddCommand(debugCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
