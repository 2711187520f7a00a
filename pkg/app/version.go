package app

import "sync"

// Version is overridden at build time with -ldflags "-X github.com/scragly/dreaf/pkg/app.Version=...".
var Version = "dev"

var (
	versionMu  sync.RWMutex
	appVersion string
)

// AppVersion returns the running version, preferring one set with SetAppVersion.
func AppVersion() string {
	versionMu.RLock()
	defer versionMu.RUnlock()
	if appVersion != "" {
		return appVersion
	}
	return Version
}

// SetAppVersion overrides the version reported at startup.
func SetAppVersion(v string) {
	versionMu.Lock()
	appVersion = v
	versionMu.Unlock()
}
