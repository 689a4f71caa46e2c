// Package logtrace sets up zerolog for the advx binaries and carries request
// identifiers through contexts so that log lines of one dispatch can be correlated.
package logtrace

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultLevel is used when no level, or an unknown one, is configured.
const DefaultLevel = zerolog.WarnLevel

// InitLogger installs the global logger. CLI output goes to a console writer on
// stderr so diagnostics never mix with command output on stdout.
func InitLogger(level string) {
	InitLoggerWithWriter(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}, level)
}

// InitLoggerWithWriter installs the global logger writing to w.
func InitLoggerWithWriter(w io.Writer, level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(ParseLevel(level))
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}

// ParseLevel maps a configured level name to a zerolog level.
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		return DefaultLevel
	}
	return lvl
}
