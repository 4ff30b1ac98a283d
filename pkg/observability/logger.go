// Package observability holds the shared structured logger.
package observability

import (
	"log/slog"
	"os"
)

// logger is the process-wide JSON logger. Tool servers often share stdout
// with a stdio transport, so logs go to stderr.
var logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))

// Logger returns the shared logger.
func Logger() *slog.Logger {
	return logger
}

// WithFields returns a logger with additional fields attached.
func WithFields(kv ...any) *slog.Logger {
	return logger.With(kv...)
}

// SetLevel rebuilds the shared logger at the given level.
func SetLevel(level slog.Level) {
	logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
