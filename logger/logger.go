// Package logger configures the process-wide zerolog logger and hands out
// component-scoped children.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger is the process-wide base logger. It is usable before Initialize
// runs (writes JSON to stderr at info level).
var Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

// Initialize configures the global level and a console writer on stderr.
// Unknown levels fall back to info.
func Initialize(level string) {
	InitializeWithWriter(level, zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "2006-01-02 15:04:05",
	})
}

// InitializeWithWriter is Initialize with an explicit sink.
func InitializeWithWriter(level string, w io.Writer) {
	zerolog.TimeFieldFormat = time.RFC3339
	Logger = zerolog.New(w).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(ParseLevel(level))
	log.Logger = Logger
}

// ParseLevel maps a config level string to a zerolog level.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// GetForComponent returns a child logger tagged with component.
func GetForComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}
