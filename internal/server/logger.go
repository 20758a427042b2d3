package server

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the process logger: a human-readable console writer in
// development, JSON lines on stdout everywhere else.
func NewLogger(cfg *Config) zerolog.Logger {
	return newLoggerTo(os.Stdout, cfg)
}

func newLoggerTo(out io.Writer, cfg *Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	if cfg.IsDevelopment() {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Logger()
}
