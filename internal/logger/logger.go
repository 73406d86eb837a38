// Package logger constructs the process-wide structured logger.
package logger

import (
	"io"
	"log/slog"
	"os"
)

// Config holds the logger configuration.
type Config struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// NewLogger builds a slog logger from the configuration. The service runs
// under a supervisor that captures standard streams, so output is stdout or
// stderr. An unparseable level falls back to info.
func NewLogger(cfg Config, output io.Writer) *slog.Logger {
	if output == nil {
		if cfg.Output == "stderr" {
			output = os.Stderr
		} else {
			output = os.Stdout
		}
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(output, opts))
	}
	return slog.New(slog.NewTextHandler(output, opts))
}
