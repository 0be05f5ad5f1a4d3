package winapi

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/windows"
)

// GetFinalPathByHandle resolves the on-disk path of an open file handle,
// with the \\?\ and \\?\UNC\ prefixes Windows adds stripped, per the
// specification's output contract (§6).
func GetFinalPathByHandle(h windows.Handle) (string, error) {
	buf := make([]uint16, 520)
	n, err := windows.GetFinalPathNameByHandle(h, &buf[0], uint32(len(buf)), 0)
	if err != nil {
		return "", fmt.Errorf("winapi: GetFinalPathNameByHandle: %w", err)
	}
	if int(n) > len(buf) {
		buf = make([]uint16, n+1)
		if _, err := windows.GetFinalPathNameByHandle(h, &buf[0], uint32(len(buf)), 0); err != nil {
			return "", fmt.Errorf("winapi: GetFinalPathNameByHandle: %w", err)
		}
	}
	return StripExtendedPrefix(windows.UTF16ToString(buf)), nil
}

// StripExtendedPrefix removes the \\?\UNC\ and \\?\ extended-length
// prefixes Windows APIs like GetFinalPathNameByHandle prepend.
func StripExtendedPrefix(path string) string {
	const uncPrefix = `\\?\UNC\`
	const rawPrefix = `\\?\`
	if strings.HasPrefix(path, uncPrefix) {
		return `\\` + path[len(uncPrefix):]
	}
	if strings.HasPrefix(path, rawPrefix) {
		return path[len(rawPrefix):]
	}
	return path
}

// SystemDirectory returns the 64-bit system directory (GetSystemDirectory).
func SystemDirectory() (string, error) {
	buf := make([]uint16, windows.MAX_PATH)
	n, err := windows.GetSystemDirectory(&buf[0], uint32(len(buf)))
	if err != nil {
		return "", fmt.Errorf("winapi: GetSystemDirectory: %w", err)
	}
	return windows.UTF16ToString(buf[:n]), nil
}

// WindowsDirectory returns the Windows directory (GetWindowsDirectory).
func WindowsDirectory() (string, error) {
	buf := make([]uint16, windows.MAX_PATH)
	n, err := windows.GetWindowsDirectory(&buf[0], uint32(len(buf)))
	if err != nil {
		return "", fmt.Errorf("winapi: GetWindowsDirectory: %w", err)
	}
	return windows.UTF16ToString(buf[:n]), nil
}

// System16Directory returns the legacy 16-bit system directory
// (<windir>\SYSTEM) if it exists on this host, or "" if it does not (the
// specification models it as optional).
func System16Directory(windowsDir string) string {
	if windowsDir == "" {
		return ""
	}
	dir := filepath.Join(windowsDir, "SYSTEM")
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return dir
	}
	return ""
}
