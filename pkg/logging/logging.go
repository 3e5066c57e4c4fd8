package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	defaultLogger *slog.Logger
	mu            sync.RWMutex
)

// Options describes how the process logger is built.
type Options struct {
	Level  string // debug|info|warn|error
	Format string // json|text
	File   string // rotate into this file instead of stdout when set

	// Output replaces stdout when File is empty.
	Output io.Writer

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Logger returns the process-wide logger, lazily initialised using environment
// variables:
//   - VERIFLOW_LOG_FORMAT: "json" (default) or "text"
//   - VERIFLOW_LOG_LEVEL: debug|info|warn|error
//   - VERIFLOW_LOG_FILE: optional path for a rotating log file
func Logger() *slog.Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = New(optionsFromEnv())
	}
	return defaultLogger
}

// SetLogger overrides the global logger; mainly useful for tests.
func SetLogger(l *slog.Logger) {
	if l == nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = l
}

// Configure rebuilds the global logger from explicit options.
func Configure(opts Options) *slog.Logger {
	l := New(opts)
	SetLogger(l)
	return l
}

// WithComponent attaches a component field to the shared logger.
func WithComponent(component string) *slog.Logger {
	return Logger().With("component", component)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// New builds a logger from options without touching the global one.
func New(opts Options) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}

	var out io.Writer = os.Stdout
	if opts.Output != nil {
		out = opts.Output
	}
	if strings.TrimSpace(opts.File) != "" {
		out = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    positiveOr(opts.MaxSizeMB, 50),
			MaxBackups: positiveOr(opts.MaxBackups, 5),
			MaxAge:     positiveOr(opts.MaxAgeDays, 14),
			Compress:   true,
		}
	}

	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "text":
		handler = slog.NewTextHandler(out, handlerOpts)
	default:
		handler = slog.NewJSONHandler(out, handlerOpts)
	}
	return slog.New(handler).With("service", "veriflow")
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

func optionsFromEnv() Options {
	return Options{
		Level:  os.Getenv("VERIFLOW_LOG_LEVEL"),
		Format: os.Getenv("VERIFLOW_LOG_FORMAT"),
		File:   os.Getenv("VERIFLOW_LOG_FILE"),
	}
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// Trim shortens text for log attributes without splitting runes.
func Trim(text string, limit int) string {
	text = strings.TrimSpace(text)
	if limit <= 0 || len([]rune(text)) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit]) + "..."
}
