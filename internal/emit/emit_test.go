package emit

import (
	"strings"
	"testing"
)

func TestEmitBarewordAndQuotedFields(t *testing.T) {
	var b strings.Builder
	w := New(&b)
	w.Emit(StaticMissing, Bare("depth", "1"), Quote("dll", "lwtest_a.dll"))

	got := b.String()
	want := `STATIC_MISSING depth=1 dll="lwtest_a.dll"` + "\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestEmitEscapesQuotedFields(t *testing.T) {
	var b strings.Builder
	w := New(&b)
	w.Emit(Note, Quote("msg", "line one\nline \"two\"\twith\\backslash"))

	got := b.String()
	want := `NOTE msg="line one\nline \"two\"\twith\\backslash"` + "\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestEmitHexField(t *testing.T) {
	var b strings.Builder
	w := New(&b)
	w.Emit(FirstBreak, Hex("status", 0xC0000135))

	got := b.String()
	want := "FIRST_BREAK status=0xc0000135\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestEmitHex64Field(t *testing.T) {
	var b strings.Builder
	w := New(&b)
	w.Emit(RuntimeLoaded, Hex64("base", 0x7ffe00010000))

	got := b.String()
	want := "RUNTIME_LOADED base=0x7ffe00010000\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestStripExtendedPrefixUNC(t *testing.T) {
	got := StripExtendedPrefix(`\\?\UNC\server\share\file.dll`)
	want := `\\server\share\file.dll`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestStripExtendedPrefixLocal(t *testing.T) {
	got := StripExtendedPrefix(`\\?\C:\Windows\System32\kernel32.dll`)
	want := `C:\Windows\System32\kernel32.dll`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestStripExtendedPrefixLeavesOrdinaryPathAlone(t *testing.T) {
	got := StripExtendedPrefix(`C:\app\host.exe`)
	want := `C:\app\host.exe`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestPathFieldIsQuotedAndStripped(t *testing.T) {
	var b strings.Builder
	w := New(&b)
	w.Emit(RuntimeLoaded, Path("path", `\\?\C:\app\lwtest_a.dll`))

	got := b.String()
	want := `RUNTIME_LOADED path="C:\\app\\lwtest_a.dll"` + "\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
