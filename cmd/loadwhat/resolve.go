package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/loadwhat/loadwhat/internal/config"
)

// resolveTarget resolves exe per §6: absolute paths are used as-is; a bare
// name is searched against cwd then PATH, with ".exe" appended when the
// name carries no extension.
func resolveTarget(exe, cwd string) (string, error) {
	if filepath.IsAbs(exe) {
		return checkExists(exe)
	}

	candidates := []string{filepath.Join(cwd, exe)}
	for _, dir := range config.PathDirs() {
		candidates = append(candidates, filepath.Join(dir, exe))
	}
	if filepath.Ext(exe) == "" {
		var withExt []string
		for _, c := range candidates {
			withExt = append(withExt, c+".exe")
		}
		candidates = append(candidates, withExt...)
	}

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("could not resolve %q against cwd or PATH", exe)
}

func checkExists(path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	return path, nil
}

// appDirOf is the directory the resolved target lives in -- SearchContext's
// AppDir.
func appDirOf(resolvedPath string) string {
	return filepath.Dir(resolvedPath)
}

// effectiveCwd resolves the --cwd override against the current working
// directory, defaulting to it when unset.
func effectiveCwd(override string) (string, error) {
	if override == "" {
		return os.Getwd()
	}
	if filepath.IsAbs(override) {
		return override, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, override), nil
}

// lowerSet builds a lowercased-name membership set, used for the
// RUNTIME_OBSERVED suppression at the static walker's depth 0.
func lowerSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[strings.ToLower(n)] = true
	}
	return set
}
