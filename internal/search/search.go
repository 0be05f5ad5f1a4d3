// Package search replicates the Windows DLL search order closely enough to
// tell a diagnosis apart: given a name and a SearchContext it builds the
// ordered candidate roots the loader would consult and probes each one.
package search

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/loadwhat/loadwhat/internal/peimport"
)

// Kind is the terminal classification of a Resolution.
type Kind int

// Resolution kinds.
const (
	Found Kind = iota
	Missing
	BadImage
)

func (k Kind) String() string {
	switch k {
	case Found:
		return "Found"
	case Missing:
		return "Missing"
	case BadImage:
		return "BadImage"
	default:
		return "Unknown"
	}
}

// ProbeResult is the per-candidate verdict, one of HIT / MISS / BAD_IMAGE.
type ProbeResult string

// Probe results.
const (
	Hit      ProbeResult = "HIT"
	Miss     ProbeResult = "MISS"
	BadImgPr ProbeResult = "BAD_IMAGE"
)

// CandidateResult is one probed path in a Resolution's candidate list.
type CandidateResult struct {
	Order  int
	Path   string
	Result ProbeResult
}

// Resolution is the outcome of resolving one DLL name against one
// SearchContext: a terminal Kind, the chosen path (if Found), and the
// prefix-closed list of everything probed along the way.
type Resolution struct {
	Kind       Kind
	Path       string
	Candidates []CandidateResult
}

// SearchContext is one session's worth of directories the loader consults,
// in the order the Windows loader would present them (modulo the
// Non-goals in the specification: no KnownDLLs, activation contexts, or
// AddDllDirectory).
type SearchContext struct {
	AppDir            string
	Cwd               string
	PathDirs          []string
	SystemDir         string
	WindowsDir        string
	System16Dir       string // optional; empty if it does not exist
	SafeDllSearchMode bool
}

// Order returns the case-insensitive-deduplicated, first-occurrence-wins
// list of root directories to probe, in loader order. Exported for
// callers that report the search order independently of resolving any
// particular name (the SEARCH_ORDER event).
func (ctx SearchContext) Order() []string {
	return ctx.order()
}

// order returns the case-insensitive-deduplicated, first-occurrence-wins
// list of root directories to probe, in loader order.
func (ctx SearchContext) order() []string {
	var roots []string
	add := func(dir string) {
		if dir == "" {
			return
		}
		roots = append(roots, dir)
	}

	cwdDistinct := !sameDir(ctx.AppDir, ctx.Cwd)

	if ctx.SafeDllSearchMode {
		add(ctx.AppDir)
		add(ctx.SystemDir)
		add(ctx.System16Dir)
		add(ctx.WindowsDir)
		if cwdDistinct {
			add(ctx.Cwd)
		}
	} else {
		add(ctx.AppDir)
		if cwdDistinct {
			add(ctx.Cwd)
		}
		add(ctx.SystemDir)
		add(ctx.System16Dir)
		add(ctx.WindowsDir)
	}
	for _, p := range ctx.PathDirs {
		add(p)
	}

	return dedupe(roots)
}

func sameDir(a, b string) bool {
	if a == "" || b == "" {
		return a == b
	}
	return strings.EqualFold(filepath.Clean(a), filepath.Clean(b))
}

func dedupe(dirs []string) []string {
	seen := make(map[string]struct{}, len(dirs))
	out := make([]string, 0, len(dirs))
	for _, d := range dirs {
		key := strings.ToLower(filepath.Clean(d))
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, d)
	}
	return out
}

// Resolve probes name against ctx's search order (or, if name is already
// absolute, against only that path) and returns the first terminal
// Resolution.
func Resolve(ctx SearchContext, name string) Resolution {
	if filepath.IsAbs(name) {
		return probeOne(1, name)
	}

	var candidates []CandidateResult
	for i, root := range ctx.order() {
		order := i + 1
		path := filepath.Join(root, name)
		result := classify(path)
		candidates = append(candidates, CandidateResult{Order: order, Path: path, Result: result})

		switch result {
		case Hit:
			return Resolution{Kind: Found, Path: path, Candidates: candidates}
		case BadImgPr:
			return Resolution{Kind: BadImage, Path: path, Candidates: candidates}
		}
	}
	return Resolution{Kind: Missing, Candidates: candidates}
}

func probeOne(order int, path string) Resolution {
	result := classify(path)
	candidates := []CandidateResult{{Order: order, Path: path, Result: result}}
	switch result {
	case Hit:
		return Resolution{Kind: Found, Path: path, Candidates: candidates}
	case BadImgPr:
		return Resolution{Kind: BadImage, Path: path, Candidates: candidates}
	default:
		return Resolution{Kind: Missing, Candidates: candidates}
	}
}

func classify(path string) ProbeResult {
	if _, err := os.Stat(path); err != nil {
		return Miss
	}
	if peimport.LooksLikePE(path) {
		return Hit
	}
	return BadImgPr
}

// IsAPISetStub reports whether name is a virtual API-set DLL
// (api-ms-win-*, ext-ms-*), which the static walker treats as resolved by
// definition and the resolver never needs to probe.
func IsAPISetStub(name string) bool {
	n := strings.ToLower(name)
	return strings.HasPrefix(n, "api-ms-win-") || strings.HasPrefix(n, "ext-ms-")
}
