package common

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

var baseLogger = zerolog.New(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: "2006-01-02 15:04:05",
}).With().Timestamp().Logger()

// GetLogger returns a named logger for a subsystem. All loggers share the
// same output and level, the name shows up as a field on every line.
func GetLogger(name string) zerolog.Logger {
	return baseLogger.With().Str("sys", name).Logger()
}

// --------------------------------------------------------------------------
// Logger initialization
// --------------------------------------------------------------------------

// InitLoggers sets the global log level from its string form
func InitLoggers(level string) {
	zerolog.SetGlobalLevel(parseLogLevel(level))
}

// parseLogLevel converts a string level to zerolog.Level
func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warning", "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		panic(fmt.Sprintf("invalid log level: %s. must be one of debug, info, warn, error", level))
	}
}
