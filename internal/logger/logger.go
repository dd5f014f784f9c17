// Package logger provides structured logging setup and the context carriers
// for request-scoped identity (request id, acting user).
package logger

import (
	"log/slog"
	"os"
	"strings"

	"github.com/opencampus/tenantcore/internal/config"
)

// New builds the process logger: JSON records on stdout, tagged with the
// service name so multi-service log streams stay separable. Debug level also
// enables source locations.
func New(cfg config.Logging) *slog.Logger {
	level := parseLevel(cfg.Level)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	})
	return slog.New(handler).With("service", cfg.Service)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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
