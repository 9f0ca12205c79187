package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config configures the supervisor's own diagnostic logger.
type Config struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"` // text or json
	Color  bool   `mapstructure:"color" json:"color"`
	// File, when set, sends supervisor logs to a rotated file instead of stderr.
	File       string `mapstructure:"file" json:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" json:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" json:"max_age_days"`
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// New builds the supervisor logger. The returned closer releases the log file,
// if any.
func New(cfg Config) (*slog.Logger, io.Closer) {
	var w io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		if err := EnsureDir(cfg.File); err == nil {
			fc := FileConfig{MaxSizeMB: cfg.MaxSizeMB, MaxBackups: cfg.MaxBackups, MaxAgeDays: cfg.MaxAgeDays}
			lj := fc.rotating(cfg.File)
			w, closer = lj, lj
		}
	}
	return slog.New(newHandler(w, cfg)), closer
}

func newHandler(w io.Writer, cfg Config) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	switch {
	case strings.EqualFold(cfg.Format, "json"):
		return slog.NewJSONHandler(w, opts)
	case cfg.Color && cfg.File == "":
		return NewColorTextHandler(w, opts)
	default:
		return slog.NewTextHandler(w, opts)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
