package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"quizbot/internal/config"
)

const (
	FormatJSON = "json"
	FormatText = "text"
)

// New builds the process logger from the logging section. Output goes to w,
// or stderr when w is nil.
func New(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", FormatJSON:
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	case FormatText:
		h = NewColorHandler(w, level)
	default:
		return nil, fmt.Errorf("invalid logging.format %q; allowed: json, text", cfg.Format)
	}
	return slog.New(h), nil
}

// ParseLevel maps a config level name to slog.Level. Empty means info.
func ParseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("invalid logging.level %q", raw)
}
