// Package logger builds the process-wide zerolog logger. Every
// component receives it through fx and derives child loggers with
// their own fields; the level is applied globally once the
// configuration has been read.
package logger

import (
	"os"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func New() zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	return zerolog.New(os.Stdout).
		With().
		Timestamp().
		Caller().
		Str("service", "warship-tracker").
		Logger().
		Level(zerolog.InfoLevel)
}

// ParseLevel maps the LOG_LEVEL config value to a zerolog level.
// Unknown values fall back to info rather than erroring: a typo in an
// env var should never take the tracker down.
func ParseLevel(name string) zerolog.Level {
	switch name {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

var Module = fx.Provide(New)
