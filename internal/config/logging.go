package config

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/terra-clan/assessment-composer/internal/lib/slogpretty"
)

// ParseLevel maps a LOG_LEVEL value to a slog level
func ParseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("invalid log level: %q", s)
}

// NewLogger builds the process logger for the configured format
func NewLogger(cfg LogConfig, out io.Writer) *slog.Logger {
	level, _ := ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level}

	switch cfg.Format {
	case "text":
		return slog.New(slog.NewTextHandler(out, opts))
	case "pretty":
		return slog.New(slogpretty.NewHandler(out, level))
	default:
		return slog.New(slog.NewJSONHandler(out, opts))
	}
}
