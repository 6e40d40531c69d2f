package command

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/joeycumines/safeswitch/internal/config"
)

// logConfig holds resolved logging configuration.
type logConfig struct {
	level  slog.Level
	format string
}

// resolveLogConfig resolves log configuration from flags and settings. Flag
// values take precedence; empty flags fall back to the resolved settings.
func resolveLogConfig(flagLevel, flagFormat string, settings config.Settings) (logConfig, error) {
	var lc logConfig

	levelStr := flagLevel
	if levelStr == "" {
		levelStr = settings.LogLevel
	}
	switch strings.ToLower(levelStr) {
	case "debug":
		lc.level = slog.LevelDebug
	case "info", "":
		lc.level = slog.LevelInfo
	case "warn":
		lc.level = slog.LevelWarn
	case "error":
		lc.level = slog.LevelError
	default:
		return lc, fmt.Errorf("invalid log level: %s", levelStr)
	}

	lc.format = strings.ToLower(flagFormat)
	if lc.format == "" {
		lc.format = settings.LogFormat
	}
	switch lc.format {
	case "", "text":
		lc.format = "text"
	case "json":
	default:
		return lc, fmt.Errorf("invalid log format: %s", lc.format)
	}

	return lc, nil
}

// logger builds a logger writing to w.
func (lc logConfig) logger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: lc.level}
	if lc.format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
