package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const defaultAppName = "dreaf"

var (
	appNameMu sync.RWMutex
	appName   = defaultAppName
)

// SetAppName sets the application name used for config/cache/log directories.
// Empty names are ignored.
func SetAppName(name string) {
	if strings.TrimSpace(name) == "" {
		return
	}
	appNameMu.Lock()
	appName = strings.TrimSpace(name)
	appNameMu.Unlock()
}

// AppName returns the configured application name.
func AppName() string {
	appNameMu.RLock()
	defer appNameMu.RUnlock()
	return appName
}

// appDirs are the per-user directories of the application on this platform.
type appDirs struct {
	config string
	cache  string
	logs   string
}

func currentDirs() appDirs {
	return platformDirs(pathSegment(AppName()))
}

// ConfigDir holds config.toml and the vendor session files.
func ConfigDir() string { return currentDirs().config }

// CacheDir holds the SQLite database.
func CacheDir() string { return currentDirs().cache }

// LogDir holds the rotated log files.
func LogDir() string { return currentDirs().logs }

// DefaultDBPath returns <CacheDir>/dreaf.db.
func DefaultDBPath() string {
	return filepath.Join(CacheDir(), pathSegment(AppName())+".db")
}

// DefaultSessionsDir returns <ConfigDir>/sessions, where vendor credentials are persisted.
func DefaultSessionsDir() string {
	return filepath.Join(ConfigDir(), "sessions")
}

// DefaultConfigFile returns <ConfigDir>/config.toml.
func DefaultConfigFile() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// EnsureDirs creates the given directories. Safe to call multiple times.
func EnsureDirs(dirs ...string) error {
	for _, d := range dirs {
		if strings.TrimSpace(d) == "" {
			continue
		}
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", d, err)
		}
	}
	return nil
}

// pathSegment makes name usable as one directory name: reserved characters
// become '-', and trailing dots and spaces are dropped.
func pathSegment(name string) string {
	out := strings.Map(func(r rune) rune {
		if r == filepath.Separator || r == 0 || strings.ContainsRune(reservedPathChars, r) {
			return '-'
		}
		return r
	}, strings.TrimSpace(name))
	out = strings.TrimRight(out, " .")
	if out == "" {
		return defaultAppName
	}
	return out
}

// homeDir falls back to the working directory when no home is known.
func homeDir() string {
	if h, err := os.UserHomeDir(); err == nil && strings.TrimSpace(h) != "" {
		return h
	}
	return "."
}
