package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/loadwhat/loadwhat/internal/config"
	"github.com/loadwhat/loadwhat/internal/debugrun"
	"github.com/loadwhat/loadwhat/internal/emit"
	"github.com/loadwhat/loadwhat/internal/fusion"
	"github.com/loadwhat/loadwhat/internal/peimport"
)

func newRunCmd() *cobra.Command {
	var cwdFlag string
	var timeoutMs uint32
	var loaderSnaps bool

	cmd := &cobra.Command{
		Use:   "run <exe> [-- args...]",
		Short: "Diagnose a target by running it under a debugger",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exitCode = doRun(args[0], args[1:], cwdFlag, timeoutMs, loaderSnaps)
			return nil
		},
	}
	cmd.Flags().StringVar(&cwdFlag, "cwd", "", "working directory for the target")
	cmd.Flags().Uint32Var(&timeoutMs, "timeout-ms", 0, "wall-clock deadline in milliseconds (0 = none)")
	cmd.Flags().BoolVar(&loaderSnaps, "loader-snaps", false, "enable FLG_SHOW_LDR_SNAPS for dynamic-missing detection")
	return cmd
}

func doRun(exe string, args []string, cwdFlag string, timeoutMs uint32, loaderSnaps bool) int {
	logger := config.NewLogger(flagVerbose)
	w := emit.New(os.Stdout)

	cwd, err := effectiveCwd(cwdFlag)
	if err != nil {
		w.Emit(emit.Note, emit.Quote("msg", err.Error()))
		return mapExit(exitCLIError, debugrun.TerminationExitProcess)
	}

	exePath, err := resolveTarget(exe, cwd)
	if err != nil {
		w.Emit(emit.Note, emit.Quote("msg", err.Error()))
		return mapExit(exitCLIError, debugrun.TerminationExitProcess)
	}

	if is64, err := peimport.Is64Bit(exePath); err != nil {
		w.Emit(emit.Note, emit.Quote("msg", err.Error()))
		return mapExit(exitRunEngine, debugrun.TerminationExitProcess)
	} else if !is64 {
		w.Emit(emit.Note, emit.Quote("msg", "target is not a 64-bit PE image"))
		return mapExit(exitUnsupportedOS, debugrun.TerminationExitProcess)
	}

	w.Emit(emit.RunStart, emit.Path("exe", exePath), emit.Bare("loader_snaps", boolField(loaderSnaps)))

	outcome, err := debugrun.Run(debugrun.Options{
		Exe:         exePath,
		Args:        args,
		Cwd:         cwd,
		TimeoutMs:   timeoutMs,
		LoaderSnaps: loaderSnaps,
		Logger:      logger,
	})
	if err != nil {
		w.Emit(emit.Note, emit.Quote("msg", err.Error()))
		return mapExit(exitRunEngine, debugrun.TerminationExitProcess)
	}

	for _, ev := range outcome.Events {
		switch ev.Kind {
		case debugrun.RuntimeLoaded:
			w.Emit(emit.RuntimeLoaded, emit.Quote("name", ev.Loaded.Name), emit.Path("path", ev.Loaded.Path), emit.Hex64("base", ev.Loaded.Base))
		case debugrun.RuntimeDebugString:
			w.Emit(emit.DebugString, emit.Int("pid", int64(ev.DebugString.Pid)), emit.Int("tid", int64(ev.DebugString.Tid)), emit.Quote("text", ev.DebugString.Text))
		}
	}

	runEndFields := []emit.Field{
		emit.Bare("termination", outcome.Termination.String()),
		emit.Int("elapsed_ms", outcome.ElapsedMillis),
	}
	if outcome.ExitCode != nil {
		runEndFields = append(runEndFields, emit.Hex("exit_code", *outcome.ExitCode))
	}
	if outcome.ExceptionCode != nil {
		runEndFields = append(runEndFields, emit.Hex("exception_code", *outcome.ExceptionCode))
	}
	w.Emit(emit.RunEnd, runEndFields...)

	if outcome.ExceptionCode != nil {
		w.Emit(emit.FirstBreak, emit.Hex("exception_code", *outcome.ExceptionCode), emit.Bare("reason", string(fusion.NTSTATUSReason(*outcome.ExceptionCode))))
	}

	var staticReport *fusion.StaticReport
	if fusion.ShouldRunStaticAnalysis(outcome) {
		report, err := runStaticWalk(w, exePath, cwd, lowerSet(loadedNames(outcome)))
		if err != nil {
			w.Emit(emit.Note, emit.Quote("msg", err.Error()))
			return mapExit(exitRunEngine, outcome.Termination)
		}
		staticReport = report
	}

	var dynMissing *fusion.DynamicMissing
	if loaderSnaps {
		dynMissing = fusion.ExtractDynamicMissing(outcome.Events)
		if dynMissing != nil {
			fields := []emit.Field{emit.Quote("dll", dynMissing.DLL), emit.Bare("reason", string(dynMissing.Reason))}
			if dynMissing.NTSTATUS != nil {
				fields = append(fields, emit.Hex("ntstatus", *dynMissing.NTSTATUS))
			}
			w.Emit(emit.DynamicMissing, fields...)
		}
	}

	return mapExit(summarize(w, staticReport, dynMissing, outcome), outcome.Termination)
}

func loadedNames(outcome debugrun.RunOutcome) []string {
	names := make([]string, 0, len(outcome.Modules))
	for _, m := range outcome.Modules {
		names = append(names, m.Name)
	}
	return names
}

func boolField(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// mapExit translates a core exit code to the alternate test-mode scheme
// when LOADWHAT_TEST_MODE is set, leaving core semantics unchanged. Test
// mode only defines clean/load-failure/timeout outcomes; a termination by
// timeout always maps to testExitTimeout regardless of the computed core
// code, and CLI/run-engine/unsupported-OS codes otherwise pass through
// unmapped since the harness contract has nothing else to say about them.
func mapExit(code int, termination debugrun.TerminationKind) int {
	if !config.TestModeEnabled() {
		return code
	}
	if termination == debugrun.TerminationTimeout {
		return testExitTimeout
	}
	switch code {
	case exitClean:
		return testExitClean
	case exitMissingImport:
		return testExitLoadFail
	default:
		return code
	}
}
