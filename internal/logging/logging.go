// Package logging configures the process-wide slog logger. Everything goes
// to stderr because stdout carries the MCP stdio transport.
package logging

import (
	"io"
	"log/slog"
	"os"
)

var level = new(slog.LevelVar)

// Setup installs a JSON handler on stderr as the default logger.
func Setup(debug bool) *slog.Logger {
	return SetupWriter(os.Stderr, debug)
}

// SetupWriter is Setup with an explicit destination.
func SetupWriter(w io.Writer, debug bool) *slog.Logger {
	SetDebug(debug)
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// SetDebug toggles debug level at runtime.
func SetDebug(debug bool) {
	if debug {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}
}

// WithComponent returns the default logger tagged with a component name.
func WithComponent(name string) *slog.Logger {
	return slog.Default().With("component", name)
}
