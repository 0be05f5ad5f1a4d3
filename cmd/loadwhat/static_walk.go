package main

import (
	"fmt"

	"github.com/loadwhat/loadwhat/internal/config"
	"github.com/loadwhat/loadwhat/internal/emit"
	"github.com/loadwhat/loadwhat/internal/fusion"
)

// runStaticWalk builds the search context for rootPath/cwd, emits the
// STATIC_START / SEARCH_ORDER bracket, walks the transitive import graph,
// and emits the terminal STATIC_FOUND / STATIC_MISSING / STATIC_BAD_IMAGE
// line (with its SEARCH_PATH probe trail) before STATIC_END.
func runStaticWalk(w *emit.Writer, rootPath, cwd string, runtimeLoaded map[string]bool) (*fusion.StaticReport, error) {
	ctx, err := config.BuildSearchContext(appDirOf(rootPath), cwd)
	if err != nil {
		return nil, fmt.Errorf("building search context: %w", err)
	}

	w.Emit(emit.StaticStart, emit.Bare("safe_dll_search_mode", boolField(ctx.SafeDllSearchMode)))

	order := ctx.Order()
	orderFields := make([]emit.Field, 0, len(order))
	for i, dir := range order {
		orderFields = append(orderFields, emit.Path(fmt.Sprintf("dir%d", i+1), dir))
	}
	w.Emit(emit.SearchOrder, orderFields...)

	report, err := fusion.WalkStaticImports(rootPath, ctx, runtimeLoaded)
	if err != nil {
		return nil, fmt.Errorf("walking static imports: %w", err)
	}

	if report.FirstIssue == nil {
		w.Emit(emit.StaticFound, emit.Bare("status", "clean"))
		w.Emit(emit.StaticEnd)
		return report, nil
	}

	fi := report.FirstIssue
	w.Emit(emit.StaticImport, emit.Quote("dll", fi.DLL), emit.Quote("via", fi.Via), emit.Int("depth", int64(fi.Depth)))
	for _, c := range fi.Candidates {
		w.Emit(emit.SearchPath, emit.Int("order", int64(c.Order)), emit.Path("path", c.Path), emit.Bare("result", string(c.Result)))
	}

	issueFields := []emit.Field{
		emit.Quote("dll", fi.DLL),
		emit.Quote("via", fi.Via),
		emit.Int("depth", int64(fi.Depth)),
	}
	switch fi.Tag {
	case fusion.MissingStaticImport:
		w.Emit(emit.StaticMissing, issueFields...)
	case fusion.BadStaticImportImage:
		w.Emit(emit.StaticBadImage, issueFields...)
	}
	w.Emit(emit.StaticEnd)
	return report, nil
}
