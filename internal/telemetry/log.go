package telemetry

import (
	"os"

	"github.com/rs/zerolog"
)

// NewLogger builds the engine's root zerolog logger. pretty selects the
// human-readable console writer (for interactive cmd/walker runs); false
// gives newline-delimited JSON suitable for log shipping.
func NewLogger(level string, pretty bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if pretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
