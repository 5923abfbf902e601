package main

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger creates a structured logger from the configured level and format.
// JSON output is the default; "pretty" switches to the human-readable console
// writer for development.
func NewLogger(cfg *Config) zerolog.Logger {
	var level zerolog.Level
	switch cfg.LogLevel {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	var output io.Writer = os.Stdout
	if cfg.LogFormat == "pretty" {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	zerolog.TimeFieldFormat = time.RFC3339

	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}
