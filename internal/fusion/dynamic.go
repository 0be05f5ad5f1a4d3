package fusion

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/loadwhat/loadwhat/internal/debugrun"
)

// Reason is the kind of dynamic load failure inferred from the debug
// string stream.
type Reason string

// Dynamic miss reasons.
const (
	ReasonNotFound Reason = "NOT_FOUND"
	ReasonBadImage Reason = "BAD_IMAGE"
	ReasonOther    Reason = "OTHER"
)

// DynamicMissing is the best dynamic-load failure line found in the
// OutputDebugString stream, per specification §4.6.
type DynamicMissing struct {
	DLL      string
	Reason   Reason
	NTSTATUS *uint32
}

// noiseDLLs are names the extractor never reports as the diagnosis even
// when they appear in a load-attempt or failure line: API-set stubs plus
// the handful of host DLLs that show up in nearly every loader-snaps
// trace.
var noiseDLLs = map[string]bool{
	"ntdll.dll":      true,
	"kernel32.dll":   true,
	"kernelbase.dll": true,
	"user32.dll":     true,
	"gdi32.dll":      true,
	"advapi32.dll":   true,
	"sechost.dll":    true,
	"msvcrt.dll":     true,
	"ucrtbase.dll":   true,
}

func isNoiseDLL(name string) bool {
	n := strings.ToLower(name)
	if noiseDLLs[n] {
		return true
	}
	return strings.HasPrefix(n, "api-ms-win-") || strings.HasPrefix(n, "ext-ms-")
}

// loadAttemptSubstrings mark a line as a load attempt (not a failure) when
// present alongside ".dll".
var loadAttemptSubstrings = []string{"dll name:", "ldrloaddll - enter", "loadlibrary"}

// probeOnlySubstrings mark a line as informational, never a diagnosis.
var probeOnlySubstrings = []string{
	"ldrpfindknowndll - return",
	"ldrpresolvedllname - return",
	"ldrpresolvefilename - return",
	"ldrpfindloadeddllinternal - return",
}

func isLoadAttempt(lower string) bool {
	for _, s := range loadAttemptSubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

func isProbeOnly(lower string) bool {
	for _, s := range probeOnlySubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// scoreFailureLine implements the §4.6 scoring table. Returns ok=false if
// the line matches none of the recognized failure patterns.
func scoreFailureLine(lower string) (int, bool) {
	switch {
	case strings.Contains(lower, "ldrpprocesswork - error: unable to load dll"):
		return 100, true
	case strings.Contains(lower, "- error: unable to load dll"):
		return 95, true
	case strings.Contains(lower, "walking the import tables"):
		return 90, true
	case strings.Contains(lower, "process initialization failed"):
		return 85, true
	case strings.Contains(lower, "ldrloaddll") && strings.Contains(lower, "failed"):
		return 80, true
	case strings.Contains(lower, "ldrpsearchpath - return") && containsLoaderFailureCode(lower):
		return 70, true
	}
	return 0, false
}

func containsLoaderFailureCode(lower string) bool {
	for code := range loaderFailureCodes {
		if strings.Contains(lower, fmt.Sprintf("0x%08x", code)) {
			return true
		}
	}
	return false
}

var explicitUnableToLoadPattern = regexp.MustCompile(`(?i)unable to load dll:?\s*"?([A-Za-z0-9_.\-]+\.dll)"?`)

// extractBasenames implements the basename-extraction algorithm from
// §4.6: scan for every ".dll" occurrence, walk left over name-forming
// characters, trim quotes, take the tail after the last path separator.
func extractBasenames(line string) []string {
	lower := strings.ToLower(line)
	isNameChar := func(c byte) bool {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
			return true
		case c == '_' || c == '.' || c == '-' || c == '\\' || c == '/' || c == ':':
			return true
		default:
			return false
		}
	}

	var names []string
	searchFrom := 0
	for {
		rel := strings.Index(lower[searchFrom:], ".dll")
		if rel < 0 {
			break
		}
		end := searchFrom + rel + len(".dll")
		start := end
		for start > 0 && isNameChar(line[start-1]) {
			start--
		}
		token := strings.Trim(line[start:end], `"'`)
		if i := strings.LastIndexAny(token, `\/`); i >= 0 {
			token = token[i+1:]
		}
		if strings.HasSuffix(strings.ToLower(token), ".dll") {
			names = append(names, token)
		}
		searchFrom = end
	}
	return names
}

// chooseDLLName picks the reported DLL name per §4.6's preference order:
// an explicit "unable to load dll" clause, then the first non-noise
// basename found in the winning line, then the last load candidate seen
// before it.
func chooseDLLName(line, lastLoadCandidate string) string {
	if m := explicitUnableToLoadPattern.FindStringSubmatch(line); m != nil {
		return strings.ToLower(m[1])
	}
	for _, n := range extractBasenames(line) {
		if !isNoiseDLL(n) {
			return strings.ToLower(n)
		}
	}
	if lastLoadCandidate != "" {
		return strings.ToLower(lastLoadCandidate)
	}
	return ""
}

func statusCodeIn(lower string, code uint32) bool {
	return strings.Contains(lower, fmt.Sprintf("0x%08x", code))
}

// classifyReason maps a failure line to a Reason and, where a known
// status code appears literally in the text, the NTSTATUS value itself.
func classifyReason(line string) (Reason, *uint32) {
	lower := strings.ToLower(line)
	for _, code := range [...]uint32{0xC0000135, 0x8007007E} {
		if statusCodeIn(lower, code) {
			c := code
			return ReasonNotFound, &c
		}
	}
	for _, code := range [...]uint32{0xC000007B, 0x800700C1} {
		if statusCodeIn(lower, code) {
			c := code
			return ReasonBadImage, &c
		}
	}
	switch {
	case strings.Contains(lower, "not found"), strings.Contains(lower, "could not be found"), strings.Contains(lower, "file not found"):
		return ReasonNotFound, nil
	case strings.Contains(lower, "bad image"), strings.Contains(lower, "invalid image"):
		return ReasonBadImage, nil
	default:
		return ReasonOther, nil
	}
}

// ExtractDynamicMissing scans a run's OutputDebugString events for the
// highest-scoring failure line (ties broken by later occurrence per
// §4.6), skipping probe-only chatter, and resolves a DLL name against the
// preference order in chooseDLLName. Returns nil if no failure line
// scored or no DLL name could be determined.
func ExtractDynamicMissing(events []debugrun.RuntimeEvent) *DynamicMissing {
	var lastLoadCandidate string
	bestScore := -1
	var bestLine string

	for _, ev := range events {
		if ev.Kind != debugrun.RuntimeDebugString {
			continue
		}
		line := ev.DebugString.Text
		lower := strings.ToLower(line)
		if isProbeOnly(lower) {
			continue
		}
		if strings.Contains(lower, ".dll") && isLoadAttempt(lower) {
			if names := extractBasenames(line); len(names) > 0 {
				lastLoadCandidate = names[len(names)-1]
			}
			continue
		}
		if score, ok := scoreFailureLine(lower); ok && score >= bestScore {
			bestScore = score
			bestLine = line
		}
	}

	if bestScore < 0 {
		return nil
	}
	dll := chooseDLLName(bestLine, lastLoadCandidate)
	if dll == "" {
		return nil
	}
	reason, status := classifyReason(bestLine)
	return &DynamicMissing{DLL: dll, Reason: reason, NTSTATUS: status}
}

// NTSTATUSReason maps the loader-failure exception/NTSTATUS codes from
// ShouldRunStaticAnalysis's high-confidence set to a Reason, for callers
// building a SUMMARY line from a raw exception code rather than a parsed
// debug string.
func NTSTATUSReason(code uint32) Reason {
	switch code {
	case 0xC0000135, 0xC0000142, 0x8007007E:
		return ReasonNotFound
	case 0xC0000139, 0xC000007B, 0xC000001D, 0x800700C1:
		return ReasonBadImage
	default:
		return ReasonOther
	}
}
