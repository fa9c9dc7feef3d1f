package config

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLogLevel maps LOG_LEVEL to a slog level; unknown values mean info
func ParseLogLevel(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
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

// NewLogHandler builds the handler selected by LOG_FORMAT. Debug logs carry
// their source location.
func NewLogHandler(w io.Writer, cfg *Config) slog.Handler {
	level := ParseLogLevel(cfg.LogLevel)
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if strings.ToLower(cfg.LogFormat) == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// InitLogger installs the configured logger as the process default
func InitLogger(cfg *Config) {
	logger := slog.New(NewLogHandler(os.Stdout, cfg)).With("service", "boarding")
	slog.SetDefault(logger)

	slog.Info("Logger initialized",
		"level", ParseLogLevel(cfg.LogLevel).String(),
		"format", cfg.LogFormat,
	)
}
