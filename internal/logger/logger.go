// Package logger builds the structured slog logger shared by the binaries.
package logger

import (
	"io"
	"log/slog"
	"strings"
)

// New returns a JSON slog.Logger writing to w. Local and dev environments
// log at debug level; everything else logs at info.
func New(env string, w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parseLevel(env),
	}))
}

func parseLevel(env string) slog.Level {
	switch strings.ToLower(env) {
	case "local", "dev":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
