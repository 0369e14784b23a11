// Package logger provides structured logging for the dialog runtime.
//
// It wraps Go's standard log/slog with a single process-wide level, read
// from DIALOGRT_LOG_LEVEL at startup or set with SetLevel; there are no
// per-package or per-module levels. All exported functions use a global
// logger that can be reconfigured at process startup.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// DefaultLogger is the global structured logger instance. Safe for
// concurrent use; reconfigured wholesale by SetLevel/SetLogger.
var DefaultLogger *slog.Logger

func init() {
	level := slog.LevelInfo
	if envLevel := os.Getenv("DIALOGRT_LOG_LEVEL"); envLevel != "" {
		level = ParseLevel(envLevel)
	}
	DefaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// ParseLevel converts a case-insensitive level name to a slog.Level,
// defaulting to Info for unrecognized values.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
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

// SetLevel replaces the global logger with one at the given level, writing
// to stderr as text.
func SetLevel(level slog.Level) {
	DefaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// SetLogger replaces the global logger outright, e.g. to route to JSON or a
// different sink.
func SetLogger(l *slog.Logger) {
	DefaultLogger = l
}

// Info logs at info level with structured key/value attributes.
func Info(msg string, args ...any) { DefaultLogger.Info(msg, args...) }

// Warn logs at warn level with structured key/value attributes.
func Warn(msg string, args ...any) { DefaultLogger.Warn(msg, args...) }

// Error logs at error level with structured key/value attributes.
func Error(msg string, args ...any) { DefaultLogger.Error(msg, args...) }

// Debug logs at debug level with structured key/value attributes.
func Debug(msg string, args ...any) { DefaultLogger.Debug(msg, args...) }

// InfoContext logs at info level, propagating ctx for handlers that use it
// (e.g. to attach trace IDs).
func InfoContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.InfoContext(ctx, msg, args...)
}

// WarnContext logs at warn level, propagating ctx.
func WarnContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.WarnContext(ctx, msg, args...)
}

// ErrorContext logs at error level, propagating ctx.
func ErrorContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.ErrorContext(ctx, msg, args...)
}
