package fusion

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/loadwhat/loadwhat/internal/debugrun"
	"github.com/loadwhat/loadwhat/internal/search"
)

// buildMinimalPE64 assembles a tiny, bit-exact-valid PE32+ image whose
// import table names the given DLLs. Mirrors the fixture builder in
// internal/peimport's own tests; duplicated here since those layout
// constants are unexported.
func buildMinimalPE64(t *testing.T, dlls []string) []byte {
	t.Helper()

	const (
		elfanewOffset    = 0x3c
		coffHeaderSize   = 20
		importDescSize   = 20
		magicPE32P       = 0x020b
		dataDirBasePE32P = 112
		peOffset         = 0x80
		optHeaderOffset  = peOffset + 4 + coffHeaderSize
		sizeOptHeader    = 240
		sectionOffset    = optHeaderOffset + sizeOptHeader
	)

	importRVA := uint32(0x2000)
	namesRVA := importRVA + uint32((len(dlls)+1)*importDescSize)

	sectionRawPtr := uint32(0x400)
	var names []byte
	nameOffsets := make([]uint32, len(dlls))
	for i, d := range dlls {
		nameOffsets[i] = namesRVA + uint32(len(names))
		names = append(names, []byte(d)...)
		names = append(names, 0)
	}

	sectionSize := namesRVA + uint32(len(names)) - importRVA
	fileSize := sectionRawPtr + sectionSize
	buf := make([]byte, fileSize)

	buf[0], buf[1] = 'M', 'Z'
	binary.LittleEndian.PutUint32(buf[elfanewOffset:], peOffset)
	copy(buf[peOffset:], "PE\x00\x00")

	coff := peOffset + 4
	binary.LittleEndian.PutUint16(buf[coff+2:], 1)
	binary.LittleEndian.PutUint16(buf[coff+16:], sizeOptHeader)

	binary.LittleEndian.PutUint16(buf[optHeaderOffset:], magicPE32P)
	dataDirBase := optHeaderOffset + dataDirBasePE32P
	binary.LittleEndian.PutUint32(buf[dataDirBase+8:], importRVA)

	sec := sectionOffset
	binary.LittleEndian.PutUint32(buf[sec+8:], sectionSize)
	binary.LittleEndian.PutUint32(buf[sec+12:], importRVA)
	binary.LittleEndian.PutUint32(buf[sec+16:], sectionSize)
	binary.LittleEndian.PutUint32(buf[sec+20:], sectionRawPtr)

	for i, off := range nameOffsets {
		d := sectionRawPtr + uint32(i*importDescSize)
		binary.LittleEndian.PutUint32(buf[d+12:], off)
	}

	copy(buf[sectionRawPtr+(namesRVA-importRVA):], names)
	return buf
}

func writeDLL(t *testing.T, dir, name string, dlls []string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	data := buildMinimalPE64(t, dlls)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestShouldRunStaticAnalysisOnLoaderFailureException(t *testing.T) {
	code := uint32(0xC0000135)
	outcome := debugrun.RunOutcome{Termination: debugrun.TerminationException, ExceptionCode: &code}
	if !ShouldRunStaticAnalysis(outcome) {
		t.Fatal("expected high-confidence trigger for STATUS_DLL_NOT_FOUND")
	}
}

func TestShouldRunStaticAnalysisOnFastDirtyExit(t *testing.T) {
	code := uint32(1)
	outcome := debugrun.RunOutcome{
		Termination:   debugrun.TerminationExitProcess,
		ExitCode:      &code,
		ElapsedMillis: 200,
		Modules:       []debugrun.LoadedModule{{Name: "ntdll.dll"}},
	}
	if !ShouldRunStaticAnalysis(outcome) {
		t.Fatal("expected medium-confidence trigger for fast dirty exit with few modules")
	}
}

func TestShouldRunStaticAnalysisNotTriggeredOnCleanExit(t *testing.T) {
	code := uint32(0)
	outcome := debugrun.RunOutcome{
		Termination: debugrun.TerminationExitProcess,
		ExitCode:    &code,
	}
	if ShouldRunStaticAnalysis(outcome) {
		t.Fatal("clean exit must not trigger static analysis")
	}
}

func TestShouldRunStaticAnalysisNotTriggeredOnSlowDirtyExit(t *testing.T) {
	code := uint32(1)
	outcome := debugrun.RunOutcome{
		Termination:   debugrun.TerminationExitProcess,
		ExitCode:      &code,
		ElapsedMillis: 5000,
	}
	if ShouldRunStaticAnalysis(outcome) {
		t.Fatal("slow dirty exit must not trigger static analysis")
	}
}

func TestWalkStaticImportsFindsMissingDependency(t *testing.T) {
	tmp := t.TempDir()
	root := writeDLL(t, tmp, "host.exe", []string{"missing.dll"})

	ctx := search.SearchContext{AppDir: tmp, SystemDir: filepath.Join(tmp, "sys"), WindowsDir: filepath.Join(tmp, "win")}
	report, err := WalkStaticImports(root, ctx, nil)
	if err != nil {
		t.Fatalf("WalkStaticImports: %v", err)
	}
	if report.FirstIssue == nil {
		t.Fatal("expected a first issue")
	}
	if report.FirstIssue.DLL != "missing.dll" {
		t.Fatalf("got DLL %q, want missing.dll", report.FirstIssue.DLL)
	}
	if report.FirstIssue.Tag != MissingStaticImport {
		t.Fatalf("got tag %v, want MissingStaticImport", report.FirstIssue.Tag)
	}
	if report.FirstIssue.Depth != 1 {
		t.Fatalf("got depth %d, want 1", report.FirstIssue.Depth)
	}
}

func TestWalkStaticImportsFollowsTransitiveChain(t *testing.T) {
	tmp := t.TempDir()
	writeDLL(t, tmp, "b.dll", []string{"missing.dll"})
	root := writeDLL(t, tmp, "host.exe", []string{"b.dll"})

	ctx := search.SearchContext{AppDir: tmp}
	report, err := WalkStaticImports(root, ctx, nil)
	if err != nil {
		t.Fatalf("WalkStaticImports: %v", err)
	}
	if report.FirstIssue == nil {
		t.Fatal("expected a first issue two levels down")
	}
	if report.FirstIssue.Via != "b.dll" {
		t.Fatalf("got via %q, want b.dll", report.FirstIssue.Via)
	}
	if report.FirstIssue.Depth != 2 {
		t.Fatalf("got depth %d, want 2", report.FirstIssue.Depth)
	}
}

func TestWalkStaticImportsSkipsAPISetStubs(t *testing.T) {
	tmp := t.TempDir()
	root := writeDLL(t, tmp, "host.exe", []string{"api-ms-win-core-file-l1-2-0.dll"})

	ctx := search.SearchContext{AppDir: tmp}
	report, err := WalkStaticImports(root, ctx, nil)
	if err != nil {
		t.Fatalf("WalkStaticImports: %v", err)
	}
	if report.FirstIssue != nil {
		t.Fatalf("expected no issue, api-set stubs are never probed, got %+v", report.FirstIssue)
	}
}

func TestWalkStaticImportsSuppressesRuntimeObservedAtDepthZero(t *testing.T) {
	tmp := t.TempDir()
	root := writeDLL(t, tmp, "host.exe", []string{"loaded.dll"})

	ctx := search.SearchContext{AppDir: tmp}
	runtimeLoaded := map[string]bool{"loaded.dll": true}
	report, err := WalkStaticImports(root, ctx, runtimeLoaded)
	if err != nil {
		t.Fatalf("WalkStaticImports: %v", err)
	}
	if report.FirstIssue != nil {
		t.Fatalf("expected runtime-observed suppression at depth 0, got %+v", report.FirstIssue)
	}
}

func TestWalkStaticImportsCleanWhenEverythingResolves(t *testing.T) {
	tmp := t.TempDir()
	writeDLL(t, tmp, "b.dll", nil)
	root := writeDLL(t, tmp, "host.exe", []string{"b.dll"})

	ctx := search.SearchContext{AppDir: tmp}
	report, err := WalkStaticImports(root, ctx, nil)
	if err != nil {
		t.Fatalf("WalkStaticImports: %v", err)
	}
	if report.MissingOrBadCount != 0 || report.FirstIssue != nil {
		t.Fatalf("expected clean report, got %+v", report)
	}
}
