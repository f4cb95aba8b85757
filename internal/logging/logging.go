// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps a level name to a slog level. Unknown names fall back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Init installs a text handler on stderr. verbose forces debug level.
func Init(level string, verbose bool) {
	InitWriter(os.Stderr, level, verbose)
}

// InitWriter installs a text handler writing to w.
func InitWriter(w io.Writer, level string, verbose bool) {
	lvl := ParseLevel(level)
	if verbose {
		lvl = slog.LevelDebug
	}
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(h))
}
