//go:build !windows && !darwin

package util

import (
	"os"
	"path/filepath"
	"strings"
)

const reservedPathChars = "/"

// platformDirs follows the XDG base directory layout:
//   - config: $XDG_CONFIG_HOME/<name>     (~/.config/<name>)
//   - cache:  $XDG_CACHE_HOME/<name>      (~/.cache/<name>)
//   - logs:   $XDG_STATE_HOME/<name>/logs (~/.local/state/<name>/logs)
func platformDirs(name string) appDirs {
	return appDirs{
		config: filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), name),
		cache:  filepath.Join(xdgDir("XDG_CACHE_HOME", ".cache"), name),
		logs:   filepath.Join(xdgDir("XDG_STATE_HOME", filepath.Join(".local", "state")), name, "logs"),
	}
}

// xdgDir returns $env when it is an absolute path, else ~/fallback.
func xdgDir(env, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(env)); filepath.IsAbs(v) {
		return v
	}
	return filepath.Join(homeDir(), fallback)
}
