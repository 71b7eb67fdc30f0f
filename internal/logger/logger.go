// Package logger configures the process-wide structured logger. Subsystems
// log through slog with a component attribute so one JSON stream can be
// filtered per concern (sync, outbox, scheduler) downstream.
package logger

import (
	"log/slog"
	"os"
	"strings"
)

// Init installs the default slog logger with the configured format and
// level. Unknown values fall back to text at info, which suits development.
func Init(format, level string) {
	opts := &slog.HandlerOptions{
		Level:     parseLevel(level),
		AddSource: true,
	}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler).With("service", "ptw-core"))
}

// Component returns a child logger tagged with the subsystem name.
func Component(name string) *slog.Logger {
	return slog.Default().With("component", name)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
