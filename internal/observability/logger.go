// Package observability provides the keeper's slog setup, the
// logger-in-context helpers, and the prometheus metric set.
package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// SetupLogger configures a JSON slog logger writing to stderr, and
// additionally to filePath when one is configured. The logger is
// installed as the process default.
func SetupLogger(level, filePath string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var w io.Writer = os.Stderr
	if filePath != "" {
		if f, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
			w = io.MultiWriter(os.Stderr, f)
		} else {
			slog.Warn("log file unavailable, logging to stderr only",
				slog.String("path", filePath), slog.Any("error", err))
		}
	}

	h := slog.NewJSONHandler(w, opts)
	lg := slog.New(h).With(slog.String("service", "solcron-keeper"))
	slog.SetDefault(lg)
	return lg
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "trace", "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
