// Package logging configures the zerolog writer shared by the rest of
// the service, matching the structured, field-based diagnostics the
// original source guarded behind #ifndef NDEBUG stderr prints.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds a logger at the given level, writing human-readable
// console output to w. Pass zerolog.Disabled to silence logging
// entirely (e.g. in tests).
func New(w io.Writer, level zerolog.Level) zerolog.Logger {
	console := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	return zerolog.New(console).Level(level).With().Timestamp().Logger()
}

// NewDefault builds a logger writing to stderr at info level, the
// default for the netcalc command.
func NewDefault() zerolog.Logger {
	return New(os.Stderr, zerolog.InfoLevel)
}
