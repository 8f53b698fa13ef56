package config

import (
	"io"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"
)

// Level maps LogLevel onto a slog level. Unknown values mean info.
func (c Config) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// NewLogger builds the process logger: JSON for Lambda, tint-colored text
// for local runs.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	if c.LogFormat == FormatText {
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      c.Level(),
			TimeFormat: time.RFC3339,
		}))
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: c.Level()}))
}
