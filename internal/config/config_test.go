package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/loadwhat/loadwhat/internal/log"
)

func TestLogLevelVerboseIsDebug(t *testing.T) {
	if (Config{Verbose: true}).LogLevel() != log.LevelDebug {
		t.Fatal("verbose config should log at Debug")
	}
	if (Config{Verbose: false}).LogLevel() != log.LevelWarn {
		t.Fatal("default config should log at Warn")
	}
}

func TestPathDirsSplitsOnListSeparator(t *testing.T) {
	t.Setenv("PATH", "C:\\a"+string(filepath.ListSeparator)+"C:\\b")
	got := PathDirs()
	want := []string{`C:\a`, `C:\b`}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestPathDirsEmptyWhenUnset(t *testing.T) {
	t.Setenv("PATH", "")
	if got := PathDirs(); len(got) != 0 {
		t.Fatalf("expected no directories, got %v", got)
	}
}

func TestTestModeEnabled(t *testing.T) {
	os.Unsetenv(TestModeVar)
	if TestModeEnabled() {
		t.Fatal("expected test mode off when unset")
	}
	t.Setenv(TestModeVar, "1")
	if !TestModeEnabled() {
		t.Fatal("expected test mode on when set to 1")
	}
}
