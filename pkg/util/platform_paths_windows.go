//go:build windows

package util

import (
	"os"
	"path/filepath"
	"strings"
)

const reservedPathChars = `<>:"/\|?*`

// platformDirs keeps config under the roaming profile and the cache and logs
// under the local one:
//   - config: %APPDATA%\<name>
//   - cache:  %LOCALAPPDATA%\<name>\Cache
//   - logs:   %LOCALAPPDATA%\<name>\Logs
func platformDirs(name string) appDirs {
	local := filepath.Join(appDataDir("LOCALAPPDATA", "Local"), name)
	return appDirs{
		config: filepath.Join(appDataDir("APPDATA", "Roaming"), name),
		cache:  filepath.Join(local, "Cache"),
		logs:   filepath.Join(local, "Logs"),
	}
}

func appDataDir(env, profileSub string) string {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		return v
	}
	return filepath.Join(homeDir(), "AppData", profileSub)
}
