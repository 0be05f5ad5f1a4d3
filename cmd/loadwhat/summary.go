package main

import (
	"github.com/loadwhat/loadwhat/internal/debugrun"
	"github.com/loadwhat/loadwhat/internal/emit"
	"github.com/loadwhat/loadwhat/internal/fusion"
)

// summarize fuses the static and dynamic findings (if any) into the one
// SUMMARY line and returns the core exit code: a dynamic finding wins ties
// against a static one since it reflects what the loader actually did,
// rather than what the import graph merely implies it might do.
func summarize(w *emit.Writer, staticReport *fusion.StaticReport, dynMissing *fusion.DynamicMissing, outcome debugrun.RunOutcome) int {
	if dynMissing != nil {
		fields := []emit.Field{
			emit.Quote("dll", dynMissing.DLL),
			emit.Bare("reason", string(dynMissing.Reason)),
			emit.Bare("source", "dynamic"),
		}
		w.Emit(emit.Summary, fields...)
		return exitMissingImport
	}

	if staticReport != nil && staticReport.FirstIssue != nil {
		fi := staticReport.FirstIssue
		w.Emit(emit.Summary,
			emit.Quote("dll", fi.DLL),
			emit.Bare("tag", string(fi.Tag)),
			emit.Bare("source", "static"),
		)
		return exitMissingImport
	}

	w.Emit(emit.Summary, emit.Bare("status", "clean"), emit.Bare("termination", outcome.Termination.String()))
	return exitClean
}
