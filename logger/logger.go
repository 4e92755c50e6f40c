// Package logger configures the process-wide zerolog logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Init initializes a logger per the given options and returns it; callers
// inject it into components rather than reaching for a global. If logFile is
// empty, logs go to stdout; pretty selects human-readable console output and
// is only valid without a log file. Level comes from LOG_LEVEL (debug, info,
// warn, error, trace).
func Init(logFile string, pretty bool) (zerolog.Logger, error) {
	level := parseLogLevel(os.Getenv("LOG_LEVEL"))

	var output io.Writer
	switch {
	case logFile != "":
		//nolint:gosec // G304: operator-specified log file path is intentional
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("failed to open log file %s: %w", logFile, err)
		}
		output = file
	case pretty:
		output = zerolog.ConsoleWriter{Out: os.Stdout}
	default:
		output = os.Stdout
	}

	log := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()

	log.Info().Str("level", level.String()).Msg("Logger initialized")
	return log, nil
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "trace":
		return zerolog.TraceLevel
	default:
		return zerolog.InfoLevel
	}
}
