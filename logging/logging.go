// Package logging provides structured logging for the wallet service.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Config holds logger settings.
type Config struct {
	Level  string
	Prefix string
	Output io.Writer
}

// New creates a leveled structured logger. An empty level means info.
func New(cfg Config) *log.Logger {
	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	logger := log.NewWithOptions(output, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		Prefix:          cfg.Prefix,
	})
	logger.SetLevel(ParseLevel(cfg.Level))
	return logger
}

// Nop returns a logger that discards everything. Used by tests.
func Nop() *log.Logger {
	return log.New(io.Discard)
}

// ParseLevel parses a level name, defaulting to info.
func ParseLevel(level string) log.Level {
	switch strings.ToLower(level) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	case "fatal":
		return log.FatalLevel
	default:
		return log.InfoLevel
	}
}
