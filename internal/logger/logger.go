package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Rotation defaults for the runner's own log file. Per-test logs are not
// rotated; they are truncated on open so each file reflects the latest
// attempt.
const (
	defaultMaxSizeMB  = 10
	defaultMaxBackups = 3
	defaultMaxAgeDays = 7
)

// New builds the runner's logger. With dir set, records go to a
// lumberjack-rotated dipot.log inside it; otherwise they go to stderr with
// level coloring.
func New(level, dir string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if dir != "" {
		_ = os.MkdirAll(dir, 0o750)
		w := &lj.Logger{
			Filename:   filepath.Join(dir, "dipot.log"),
			MaxSize:    defaultMaxSizeMB,
			MaxBackups: defaultMaxBackups,
			MaxAge:     defaultMaxAgeDays,
		}
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(newColorHandler(os.Stderr, opts))
}

// Discard returns a logger that drops everything; embedding callers that do
// not care about runner diagnostics use it.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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
