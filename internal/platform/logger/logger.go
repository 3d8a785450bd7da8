package logger

import (
	"log/slog"
	"os"
	"strings"
)

// New returns a structured logger writing to stdout. Level accepts
// debug, info, warn or error; format is json or text. Unrecognized
// values fall back to info and json rather than failing startup.
func New(level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
