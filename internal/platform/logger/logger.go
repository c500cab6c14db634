package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	dErrors "accord/pkg/domain-errors"
)

// New returns a structured logger writing to stdout.
func New(level, format string) (*slog.Logger, error) {
	return NewWithWriter(os.Stdout, level, format)
}

// NewWithWriter returns a structured logger writing to w. Format is "json" or
// "text"; level is one of debug, info, warn, error.
func NewWithWriter(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, dErrors.Newf(dErrors.CodeInvalidConfiguration, "unknown log format %q", format)
	}
}

// ParseLevel maps a level name to its slog level. Empty means info.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, dErrors.Newf(dErrors.CodeInvalidConfiguration, "unknown log level %q", level)
	}
}
