package config

import (
	"github.com/loadwhat/loadwhat/internal/search"
	"github.com/loadwhat/loadwhat/internal/winapi"
)

// BuildSearchContext assembles a search.SearchContext for appDir/cwd using
// live OS queries (system/Windows directories, SafeDllSearchMode) plus the
// environment's PATH.
func BuildSearchContext(appDir, cwd string) (search.SearchContext, error) {
	sysDir, err := winapi.SystemDirectory()
	if err != nil {
		return search.SearchContext{}, err
	}
	winDir, err := winapi.WindowsDirectory()
	if err != nil {
		return search.SearchContext{}, err
	}
	return search.SearchContext{
		AppDir:            appDir,
		Cwd:               cwd,
		PathDirs:          PathDirs(),
		SystemDir:         sysDir,
		WindowsDir:        winDir,
		System16Dir:       winapi.System16Directory(winDir),
		SafeDllSearchMode: winapi.ReadSafeDllSearchMode(),
	}, nil
}
