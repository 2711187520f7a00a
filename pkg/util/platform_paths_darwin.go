//go:build darwin

package util

import "path/filepath"

const reservedPathChars = "/:"

// platformDirs uses the per-user Library folders.
func platformDirs(name string) appDirs {
	lib := filepath.Join(homeDir(), "Library")
	return appDirs{
		config: filepath.Join(lib, "Application Support", name),
		cache:  filepath.Join(lib, "Caches", name),
		logs:   filepath.Join(lib, "Logs", name),
	}
}
