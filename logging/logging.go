// Package logging configures the global zerolog logger.
//
// Logs go to stderr so the stdio MCP mode keeps stdout for the protocol.
// Packages log through github.com/rs/zerolog/log with a "module" field:
//
//	log.Info().Str("module", "room").Str("room", key).Msg("user joined")
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup installs the global logger. debug lowers the level to debug and
// pretty switches from JSON lines to the console writer.
func Setup(debug, pretty bool) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(Level(debug))
	log.Logger = New(os.Stderr, pretty)
}

// New builds a timestamped logger writing to w.
func New(w io.Writer, pretty bool) zerolog.Logger {
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

// Level maps the debug flag to a zerolog level.
func Level(debug bool) zerolog.Level {
	if debug {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}
