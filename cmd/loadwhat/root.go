package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// run builds the root command, executes it, and returns the process exit
// code. Subcommands set the package-level exitCode var before returning;
// a cobra/argument error itself is an exitCLIError.
var exitCode int

func run() int {
	exitCode = exitClean

	rootCmd := &cobra.Command{
		Use:   "loadwhat",
		Short: "Diagnose why a Windows executable fails to load a DLL",
		Long:  "loadwhat launches a target as a debuggee, observes every module it loads, and — on a loader-shaped failure — resolves its static import graph against the Windows DLL search order to name the first missing or bad dependency.",
	}
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug-level logging")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newImportsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCLIError
	}
	return exitCode
}

var flagVerbose bool
