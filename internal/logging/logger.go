package logging

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"

	"github.com/i474232898/aqi-feature-store/internal/config"
)

const appName = "aqi-feature-store"

// New returns the process logger: coloured text in dev, JSON in prod.
func New(cfg *config.Config, w io.Writer) *slog.Logger {
	level := ParseLevel(cfg.LogLevel)

	if !cfg.IsProd() {
		h := tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
		return slog.New(h).With("app", appName)
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(h).With(
		"app", appName,
		"env", cfg.AppEnv,
	)
}

// ParseLevel maps a LOG_LEVEL value to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
