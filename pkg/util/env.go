package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadEnvWithLocalBinFallback ensures the specified environment variable is present.
// It loads ./.env and then $HOME/.local/bin/.env, without overwriting variables that are
// already set, and returns the value of tokenEnvName.
//
// Returns a descriptive error when the variable is still unset after both files were tried.
func LoadEnvWithLocalBinFallback(tokenEnvName string) (string, error) {
	loadEnvFiles()

	if v := os.Getenv(tokenEnvName); v != "" {
		return v, nil
	}

	envPath := localBinEnvPath()
	if envPath == "" {
		return "", fmt.Errorf("environment variable %q not set and home directory unresolved", tokenEnvName)
	}
	return "", fmt.Errorf("environment variable %q not set; attempted to load ./.env and %s", tokenEnvName, envPath)
}

// loadEnvFiles applies the .env files in precedence order. godotenv.Load never
// overrides variables already present, so the first file to define a key wins.
func loadEnvFiles() {
	candidates := []string{".env", localBinEnvPath()}
	for _, p := range candidates {
		if p == "" {
			continue
		}
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			_ = godotenv.Load(p)
		}
	}
}

func localBinEnvPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ""
	}
	return filepath.Join(home, ".local", "bin", ".env")
}

// EnvString returns the trimmed value of key, or def when unset/blank.
func EnvString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// EnvBool reports whether key holds a truthy value (1, true, yes, on).
func EnvBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

// EnvInt64 parses key as a base-10 integer, falling back to def.
func EnvInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

// EnvFloat parses key as a float, falling back to def.
func EnvFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// EnvDuration parses key with time.ParseDuration, falling back to def.
func EnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// EnvList splits a comma-separated variable into trimmed, non-empty items.
// Returns nil when the variable is unset.
func EnvList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
