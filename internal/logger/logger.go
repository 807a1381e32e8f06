package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation configuration for the runner's own operational log.
// Invocation output logs are plain append files and never rotate; these
// apply only to the file configured here.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes the runner's operational logging.
// Rotation parameters follow lumberjack semantics.
type Config struct {
	Level      string `json:"level" mapstructure:"level"`             // debug, info, warn, error (default info)
	File       string `json:"file" mapstructure:"file"`               // rotating log file; empty means console only
	Color      bool   `json:"color" mapstructure:"color"`             // colorize console output
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"` // megabytes before rotation (default 10)
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"` // number of backups to keep (default 3)
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress" mapstructure:"compress"` // gzip rotated files
}

// New builds a slog.Logger from the config: a colorized text handler on
// stderr, or a text handler on a lumberjack-rotated file when File is set.
func (c Config) New() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.level()}
	if c.File != "" {
		var w io.Writer = &lj.Logger{
			Filename:   c.File,
			MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
			MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   c.Compress,
		}
		return slog.New(slog.NewTextHandler(w, opts))
	}
	if c.Color {
		return slog.New(NewColorTextHandler(os.Stderr, opts, true))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func (c Config) level() slog.Level {
	switch strings.ToLower(c.Level) {
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

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
