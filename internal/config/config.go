// Package config holds the Config type, the logger it implies, and the
// environment lookups the CLI needs. PATH splitting and the
// test-mode toggle go through github.com/xyproto/env/v2 instead of raw
// os.Getenv, matching the idiom the xyproto pack repos use for every
// environment-backed default.
package config

import (
	"path/filepath"
	"strings"

	"github.com/xyproto/env/v2"

	"github.com/loadwhat/loadwhat/internal/log"
)

// TestModeVar is the environment variable that switches the CLI's exit
// code mapping to the alternate harness-friendly scheme (§6).
const TestModeVar = "LOADWHAT_TEST_MODE"

// Config describes one CLI invocation's settings. The run/imports commands
// take their flags directly; NewLogger is the only place a Config is
// built, from the verbose flag alone.
type Config struct {
	Exe         string
	Args        []string
	Cwd         string
	TimeoutMs   uint32
	LoaderSnaps bool
	Verbose     bool
	TestMode    bool
	Logger      *log.Helper
}

// LogLevel returns the logging verbosity implied by Verbose, matching the
// teacher's `log.FilterLevel(log.LevelError)` default-then-override
// pattern (§4.7).
func (c Config) LogLevel() log.Level {
	if c.Verbose {
		return log.LevelDebug
	}
	return log.LevelWarn
}

// NewLogger builds the Helper this Config implies.
func NewLogger(verbose bool) *log.Helper {
	return log.New(Config{Verbose: verbose}.LogLevel())
}

// TestModeEnabled reports whether LOADWHAT_TEST_MODE is set in the
// environment to a truthy value, via env.Bool's truthy-string rules.
func TestModeEnabled() bool {
	return env.Bool(TestModeVar)
}

// PathDirs splits the PATH environment variable into its component
// directories, using env.Str so an empty/unset PATH degrades to no
// directories rather than a panic on a nil split.
func PathDirs() []string {
	raw := env.Str("PATH", "")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, string(filepath.ListSeparator))
	dirs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			dirs = append(dirs, p)
		}
	}
	return dirs
}
