package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Level is shared by every logger built here so a config reload can change
// verbosity without rebuilding handlers.
var Level = new(slog.LevelVar)

func NewLogger(level string) *slog.Logger {
	return NewLoggerTo(os.Stdout, level)
}

func NewLoggerTo(w io.Writer, level string) *slog.Logger {
	SetLevel(level)
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: Level})
	return slog.New(h).With("service", "replyguard")
}

func SetLevel(level string) {
	Level.Set(ParseLevel(level))
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Discard returns a logger that drops everything; handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
