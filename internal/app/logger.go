package app

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// parseLevel maps a -log-level value onto a slog level. An empty value is
// info; "warning" is accepted next to the names slog knows.
func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	switch s = strings.ToLower(s); s {
	case "":
		return slog.LevelInfo, nil
	case "warning":
		return slog.LevelWarn, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown log level %q: must be debug, info, warn or error", s)
	}
	return level, nil
}

// newLogger builds the logger of one App. The global slog logger is left
// untouched so several apps can run side by side in tests.
func newLogger(cfg *Config, outW io.Writer) *slog.Logger {
	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler = slog.NewTextHandler(outW, opts)
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(outW, opts)
	}
	return slog.New(handler).With("app", "fmriflow")
}
