// Package logging configures the zerolog logger shared by every component of
// a torua-sql node: the gossip worker, the statement dispatcher, the wire
// session, and the catalog.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide logger. Init configures it; until Init is
// called it writes human-readable console output at info level so tests and
// short-lived tools still produce sane output.
var Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

// Config controls Init's output format and verbosity.
type Config struct {
	Level      string // "debug", "info", "warn", "error"; defaults to info
	JSONOutput bool
	Output     io.Writer
}

// Init replaces the global Logger according to cfg. Called once from
// cmd/torua-sql's root command before any component starts.
func Init(cfg Config) {
	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(cfg.Level); err == nil && cfg.Level != "" {
		level = parsed
	}
	zerolog.SetGlobalLevel(level)

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(out).With().Timestamp().Logger()
		return
	}
	Logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
}

// Component returns a child logger tagged with the owning component, the way
// every subsystem in this repo identifies its log lines.
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// Node returns a child logger tagged with the owning node's id.
func Node(nodeID string) zerolog.Logger {
	return Logger.With().Str("node_id", nodeID).Logger()
}
