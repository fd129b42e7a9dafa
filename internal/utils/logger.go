package utils

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger returns a JSON logger at info level for production and a text
// logger at debug level otherwise.
func NewLogger(environment string) *slog.Logger {
	return NewLoggerTo(os.Stdout, environment)
}

func NewLoggerTo(w io.Writer, environment string) *slog.Logger {
	if environment == "production" {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// NewNopLogger discards everything. Used when a caller passes no logger.
func NewNopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// LogError logs err with msg and any extra key-value pairs.
func LogError(logger *slog.Logger, err error, msg string, args ...any) {
	allArgs := append([]any{"error", err}, args...)
	logger.Error(msg, allArgs...)
}
