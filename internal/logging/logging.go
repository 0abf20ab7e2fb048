package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// New creates a console slog.Logger with provided level string.
func New(level string) *slog.Logger {
	return NewConsole(os.Stdout, level)
}

// NewConsole writes text logs to w.
func NewConsole(w io.Writer, level string) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: levelFromString(level),
	})
	return slog.New(handler)
}

// NewWithFile writes text to stdout and JSON to path. The returned func closes the file.
// When the file cannot be opened the logger degrades to stdout only.
func NewWithFile(level, path string) (*slog.Logger, func() error) {
	if path == "" {
		return New(level), func() error { return nil }
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger := New(level)
		logger.Error("failed to open log file, using stdout only", "error", err, "file", path)
		return logger, func() error { return nil }
	}

	return NewWithWriters(os.Stdout, file, level), file.Close
}

// NewWithWriters fans out text to console and JSON to file.
func NewWithWriters(console, file io.Writer, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: levelFromString(level)}
	return slog.New(slogmulti.Fanout(
		slog.NewTextHandler(console, opts),
		slog.NewJSONHandler(file, opts),
	))
}

// Discard returns a logger that drops everything, for tests and optional components.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func levelFromString(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "error":
		return slog.LevelError
	case "warn", "warning":
		return slog.LevelWarn
	case "info":
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
