package log

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Category identifies a log stream. Each category is written to its own rotated file.
type Category int

const (
	Application Category = iota
	DiscordEvents
	Database
	Redeem
	Errors
)

func (c Category) fileName() string {
	switch c {
	case DiscordEvents:
		return "discord.log"
	case Database:
		return "database.log"
	case Redeem:
		return "redeem.log"
	case Errors:
		return "error.log"
	default:
		return "application.log"
	}
}

func (c Category) String() string {
	return strings.TrimSuffix(c.fileName(), ".log")
}

var allCategories = []Category{Application, DiscordEvents, Database, Redeem, Errors}

// Options configures SetupLogger.
type Options struct {
	Dir        string
	Level      slog.Level
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	// Console mirrors every record to stderr in text form.
	Console bool
}

// DefaultOptions returns rotation defaults; Dir must still be set.
func DefaultOptions() Options {
	return Options{
		Level:      slog.LevelInfo,
		MaxSizeMB:  20,
		MaxBackups: 5,
		MaxAgeDays: 28,
		Compress:   true,
		Console:    true,
	}
}

// Logger holds one slog.Logger per category and the rotators that back them.
type Logger struct {
	mu        sync.Mutex
	loggers   map[Category]*slog.Logger
	rotators  []*lumberjack.Logger
	level     *slog.LevelVar
	closeOnce sync.Once
}

// GlobalLogger is set by SetupLogger. Before setup, the category accessors fall back to stderr.
var GlobalLogger *Logger

var (
	globalMu sync.RWMutex
	fallback = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
)

// SetupLogger builds the category loggers and installs them globally.
// The application logger also becomes slog's default.
func SetupLogger(opts Options) error {
	l, err := New(opts)
	if err != nil {
		return err
	}
	globalMu.Lock()
	prev := GlobalLogger
	GlobalLogger = l
	globalMu.Unlock()
	if prev != nil {
		prev.Sync()
	}
	slog.SetDefault(l.For(Application))
	return nil
}

// New creates a Logger writing JSON lines to <Dir>/<category>.log (rotated) and,
// when Console is set, text lines to stderr.
func New(opts Options) (*Logger, error) {
	if strings.TrimSpace(opts.Dir) == "" {
		return nil, errors.New("log directory is empty")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	level := new(slog.LevelVar)
	level.Set(opts.Level)

	l := &Logger{
		loggers: make(map[Category]*slog.Logger, len(allCategories)),
		level:   level,
	}

	errRotator := l.rotator(opts, Errors)
	for _, c := range allCategories {
		handlers := make([]slog.Handler, 0, 3)
		if c == Errors {
			handlers = append(handlers, slog.NewJSONHandler(errRotator, &slog.HandlerOptions{Level: level}))
		} else {
			handlers = append(handlers,
				slog.NewJSONHandler(l.rotator(opts, c), &slog.HandlerOptions{Level: level}),
				// Warnings and errors of every category are also collected in error.log.
				slog.NewJSONHandler(errRotator, &slog.HandlerOptions{Level: slog.LevelWarn}),
			)
		}
		if opts.Console {
			handlers = append(handlers, slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		}
		l.loggers[c] = slog.New(fanout(handlers)).With("category", c.String())
	}
	return l, nil
}

func (l *Logger) rotator(opts Options, c Category) *lumberjack.Logger {
	r := &lumberjack.Logger{
		Filename:   filepath.Join(opts.Dir, c.fileName()),
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
	l.rotators = append(l.rotators, r)
	return r
}

// For returns the logger of a category.
func (l *Logger) For(c Category) *slog.Logger {
	if l == nil {
		return fallback
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if lg, ok := l.loggers[c]; ok {
		return lg
	}
	return fallback
}

// SetLevel changes the minimum level at runtime.
func (l *Logger) SetLevel(level slog.Level) {
	if l == nil {
		return
	}
	l.level.Set(level)
}

// Sync closes the rotated files. Safe to call more than once.
func (l *Logger) Sync() {
	if l == nil {
		return
	}
	l.closeOnce.Do(func() {
		for _, r := range l.rotators {
			_ = r.Close()
		}
	})
}

func current() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return GlobalLogger
}

// ApplicationLogger returns the application category logger.
func ApplicationLogger() *slog.Logger { return current().For(Application) }

// DiscordLogger returns the Discord events category logger.
func DiscordLogger() *slog.Logger { return current().For(DiscordEvents) }

// DatabaseLogger returns the storage category logger.
func DatabaseLogger() *slog.Logger { return current().For(Database) }

// RedeemLogger returns the vendor/redemption category logger.
func RedeemLogger() *slog.Logger { return current().For(Redeem) }

// ErrorLoggerRaw returns the dedicated error logger.
func ErrorLoggerRaw() *slog.Logger { return current().For(Errors) }

// ParseLevel maps debug/info/warn/error to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
