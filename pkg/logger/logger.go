package logger

import (
	"log/slog"
	"os"
	"strings"
)

// Logger is a thin wrapper around slog so packages can take a concrete
// dependency without caring about handler setup.
type Logger struct {
	*slog.Logger
}

// New creates a text logger writing to stdout at the given level.
// Unknown level strings fall back to info.
func New(level string) *Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return &Logger{Logger: slog.New(handler)}
}

// With returns a logger with the given attributes attached to every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}
