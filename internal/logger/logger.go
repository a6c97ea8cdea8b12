// Package logger provides structured logging with per-component tags.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with component context helpers.
type Logger struct {
	zerolog.Logger
}

// Config holds logger configuration.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json or console
}

// New creates a new logger with the given configuration.
func New(cfg Config) *Logger {
	var output io.Writer = os.Stdout
	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	l := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()

	return &Logger{Logger: l}
}

// Default creates a console logger at info level.
func Default() *Logger {
	return New(Config{Level: "info", Format: "console"})
}

// Discard creates a logger that drops everything. Used in tests.
func Discard() *Logger {
	return &Logger{Logger: zerolog.New(io.Discard)}
}

// WithComponent adds a component field to the logger.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.With().Str("component", component).Logger()}
}

// WithUserID adds a user id field to the logger.
func (l *Logger) WithUserID(id string) *Logger {
	return &Logger{Logger: l.With().Str("user_id", id).Logger()}
}
