package util

import (
	"os"
	"path/filepath"
)

// GetConfigDir returns the per-user config directory for the application,
// creating it if it does not already exist.
func GetConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, Name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

// ResolveFilePath looks for name in the current working directory first,
// falling back to the per-user config directory. It does not require the
// file to exist at the returned path; callers handle the not-found case.
func ResolveFilePath(name string) string {
	if _, err := os.Stat(name); err == nil {
		return name
	}
	if dir, err := GetConfigDir(); err == nil {
		return filepath.Join(dir, name)
	}
	return name
}

// ResolveFilePathWithSubdir is like ResolveFilePath but looks inside a named
// subdirectory of the per-user config directory (e.g. ".ssh" for host keys).
func ResolveFilePathWithSubdir(subdir, name string) string {
	local := filepath.Join(subdir, name)
	if _, err := os.Stat(local); err == nil {
		return local
	}
	if dir, err := GetConfigDir(); err == nil {
		full := filepath.Join(dir, subdir)
		if err := os.MkdirAll(full, 0700); err == nil {
			return filepath.Join(full, name)
		}
	}
	return local
}
