// Package fusion combines the four observation sources -- the debug-run
// outcome, the PE import reader, the search-order resolver, and the
// loader-snaps debug-string stream -- into a single diagnosis: which DLL
// failed to load, what needed it, and why every candidate path missed.
package fusion

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/loadwhat/loadwhat/internal/debugrun"
	"github.com/loadwhat/loadwhat/internal/peimport"
	"github.com/loadwhat/loadwhat/internal/search"
)

// Loader-failure exception/NTSTATUS codes that indicate high-confidence
// static-import failure (specification §4.4).
var loaderFailureCodes = map[uint32]bool{
	0xC0000135: true,
	0xC0000139: true,
	0xC000007B: true,
	0xC0000142: true,
	0xC000001D: true,
	0x8007007E: true,
	0x800700C1: true,
}

// ShouldRunStaticAnalysis implements the high/medium confidence rules
// from §4.4: a terminal exception matching the loader-failure set, or a
// clean-but-nonzero exit that happened fast with few modules loaded.
func ShouldRunStaticAnalysis(outcome debugrun.RunOutcome) bool {
	if outcome.ExceptionCode != nil && loaderFailureCodes[*outcome.ExceptionCode] {
		return true
	}
	if outcome.Termination == debugrun.TerminationExitProcess &&
		outcome.ExitCode != nil && *outcome.ExitCode != 0 &&
		outcome.ElapsedMillis < 1500 &&
		len(outcome.Modules) < 7 {
		return true
	}
	return false
}

// Tag is the kind of static import issue found.
type Tag string

// Static issue tags.
const (
	MissingStaticImport  Tag = "MISSING_STATIC_IMPORT"
	BadStaticImportImage Tag = "BAD_STATIC_IMPORT_IMAGE"
)

// FirstIssue is the single selected static import failure, with its full
// resolution evidence attached.
type FirstIssue struct {
	Module     string // the module whose import table names DLL
	Via        string // same as Module; kept distinct per spec field names
	Depth      int
	DLL        string
	Tag        Tag
	Candidates []search.CandidateResult
}

// StaticReport is the result of one transitive import walk.
type StaticReport struct {
	MissingOrBadCount int
	FirstIssue        *FirstIssue
	SafeDllSearchMode bool
}

type issue struct {
	depth      int
	via        string
	dll        string
	module     string
	tag        Tag
	candidates []search.CandidateResult
}

type queuedNode struct {
	path  string
	name  string
	via   string
	depth int
}

// WalkStaticImports performs the breadth-first transitive import walk
// described in §4.4, starting at rootPath. runtimeLoaded is the set of
// lowercased basenames the debug loop actually observed loaded (used to
// suppress depth-0 imports that were satisfied at runtime).
func WalkStaticImports(rootPath string, ctx search.SearchContext, runtimeLoaded map[string]bool) (*StaticReport, error) {
	rootName := strings.ToLower(filepath.Base(rootPath))

	visited := map[string]bool{canonical(rootPath): true}
	queue := []queuedNode{{path: rootPath, name: rootName, via: "", depth: 0}}

	var issues []issue

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		imports, err := peimport.Imports(node.path)
		if err != nil {
			// Forgiving redesign (see DESIGN.md / SPEC_FULL.md §9): a
			// dependency's own unparseable image is a finding, not a
			// run-engine error. The node itself was already resolved as
			// Found by the caller; record it as a bad image and stop
			// expanding this branch. A root that cannot be parsed is
			// returned as an error.
			if node.depth == 0 {
				return nil, err
			}
			issues = append(issues, issue{
				depth: node.depth, via: node.via, dll: node.name,
				module: node.via, tag: BadStaticImportImage,
			})
			continue
		}

		for _, dll := range imports {
			if search.IsAPISetStub(dll) {
				continue
			}
			if node.depth == 0 && runtimeLoaded[dll] {
				continue
			}

			res := search.Resolve(ctx, dll)
			switch res.Kind {
			case search.Found:
				key := canonical(res.Path)
				if !visited[key] {
					visited[key] = true
					queue = append(queue, queuedNode{
						path: res.Path, name: dll, via: node.name, depth: node.depth + 1,
					})
				}
			case search.Missing:
				issues = append(issues, issue{
					depth: node.depth + 1, via: node.name, dll: dll,
					module: node.name, tag: MissingStaticImport, candidates: res.Candidates,
				})
			case search.BadImage:
				issues = append(issues, issue{
					depth: node.depth + 1, via: node.name, dll: dll,
					module: node.name, tag: BadStaticImportImage, candidates: res.Candidates,
				})
			}
		}
	}

	report := &StaticReport{
		MissingOrBadCount: len(issues),
		SafeDllSearchMode: ctx.SafeDllSearchMode,
	}
	if len(issues) == 0 {
		return report, nil
	}

	sort.Slice(issues, func(i, j int) bool {
		a, b := issues[i], issues[j]
		if a.depth != b.depth {
			return a.depth < b.depth
		}
		if a.via != b.via {
			return a.via < b.via
		}
		return a.dll < b.dll
	})
	first := issues[0]
	report.FirstIssue = &FirstIssue{
		Module: first.module, Via: first.via, Depth: first.depth,
		DLL: first.dll, Tag: first.tag, Candidates: first.candidates,
	}
	return report, nil
}

func canonical(path string) string {
	return strings.ToLower(filepath.Clean(path))
}
