package logging

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the JSON logger both processes share. slog keeps the
// standard-library feel while emitting structured records any backend
// can ingest; source locations are only attached at debug, where the
// extra bytes pay for themselves.
func NewLogger(level string) *slog.Logger {
	lvl := levelFromString(level)
	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler).With("service", "trike-dispatch")
}

func levelFromString(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
