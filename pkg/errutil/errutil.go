package errutil

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/scragly/dreaf/pkg/log"
)

// Small helpers that run an operation and log its failure on the category
// logger that owns it. The returned error is the caller's to handle.

var (
	mu     sync.RWMutex
	logger *log.Logger
)

// InitializeGlobalErrorHandler sets the logger used by the helpers.
// The last non-nil logger wins.
func InitializeGlobalErrorHandler(l *log.Logger) error {
	if l == nil {
		return fmt.Errorf("nil logger provided")
	}
	mu.Lock()
	logger = l
	mu.Unlock()
	return nil
}

func categoryLogger(c log.Category) *slog.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	return l.For(c)
}

func run(c log.Category, msg string, fn func() error, attrs ...any) error {
	if fn == nil {
		return fmt.Errorf("nil function provided")
	}
	err := fn()
	if err == nil {
		return nil
	}
	categoryLogger(c).Error(msg, append(attrs, "err", err)...)
	return err
}

// HandleDiscordError executes fn and logs a failure as a Discord error.
// The error is returned unmodified.
func HandleDiscordError(operation string, fn func() error) error {
	return run(log.DiscordEvents, "Discord operation failed", fn, "operation", operation)
}

// HandleStorageError executes fn and logs a failure on the database logger.
func HandleStorageError(operation string, fn func() error) error {
	return run(log.Database, "Storage operation failed", fn, "operation", operation)
}

// HandleConfigError executes fn and wraps a failure with the operation and path.
func HandleConfigError(operation, path string, fn func() error) error {
	if err := run(log.Application, "Config operation failed", fn, "operation", operation, "path", path); err != nil {
		return fmt.Errorf("config %s %s: %w", operation, path, err)
	}
	return nil
}
