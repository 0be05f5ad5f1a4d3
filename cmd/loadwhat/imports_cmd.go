package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/loadwhat/loadwhat/internal/debugrun"
	"github.com/loadwhat/loadwhat/internal/emit"
	"github.com/loadwhat/loadwhat/internal/peimport"
)

func newImportsCmd() *cobra.Command {
	var cwdFlag string

	cmd := &cobra.Command{
		Use:   "imports <exe-or-dll>",
		Short: "Diagnose a module's static import graph without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exitCode = doImports(args[0], cwdFlag)
			return nil
		},
	}
	cmd.Flags().StringVar(&cwdFlag, "cwd", "", "working directory to resolve the target against")
	return cmd
}

func doImports(target string, cwdFlag string) int {
	w := emit.New(os.Stdout)

	cwd, err := effectiveCwd(cwdFlag)
	if err != nil {
		w.Emit(emit.Note, emit.Quote("msg", err.Error()))
		return exitCLIError
	}

	path, err := resolveTarget(target, cwd)
	if err != nil {
		w.Emit(emit.Note, emit.Quote("msg", err.Error()))
		return exitCLIError
	}

	if is64, err := peimport.Is64Bit(path); err != nil {
		w.Emit(emit.Note, emit.Quote("msg", err.Error()))
		return exitRunEngine
	} else if !is64 {
		w.Emit(emit.Note, emit.Quote("msg", "target is not a 64-bit PE image"))
		return exitUnsupportedOS
	}

	report, err := runStaticWalk(w, path, cwd, nil)
	if err != nil {
		w.Emit(emit.Note, emit.Quote("msg", err.Error()))
		return exitRunEngine
	}

	return summarize(w, report, nil, debugrun.RunOutcome{})
}
