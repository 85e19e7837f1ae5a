// Package logging wires the core's structured diagnostics through zerolog.
// Unlike a typical CLI tool the core never owns a global logger instance:
// the embedding Database builds a root logger and derives its own
// "database" child logger from it, consistent with the no-global-singleton
// design the execution context already enforces. The buffer pool, shadow
// WAL and transaction manager take no logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level mirrors the embedding host's configured verbosity.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config configures the logger a Database constructs for its subsystems.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer // defaults to os.Stderr
}

// New builds a root zerolog.Logger from cfg. Callers derive per-subsystem
// child loggers with Component.
func New(cfg Config) zerolog.Logger {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	if cfg.JSONOutput {
		return zerolog.New(out).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
	}).Level(level).With().Timestamp().Logger()
}

// Component returns a child logger tagged with the owning subsystem name,
// e.g. logging.Component(root, "bufferpool").
func Component(root zerolog.Logger, name string) zerolog.Logger {
	return root.With().Str("component", name).Logger()
}
