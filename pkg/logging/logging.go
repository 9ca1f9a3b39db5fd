// Package logging builds the slog loggers used by the stepscaler commands:
// text or JSON on stdout at a configurable level.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New returns a logger writing to stdout.
func New(format, level string) *slog.Logger {
	return NewWithWriter(os.Stdout, format, level)
}

// NewWithWriter returns a logger writing to w. format is "json" or "text";
// anything else means text.
func NewWithWriter(w io.Writer, format, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel maps debug, info, warn and error to slog levels. Unknown
// values are info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
