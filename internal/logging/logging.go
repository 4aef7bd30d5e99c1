// Package logging builds the process logger from configuration.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig controls the optional rotating log file.
type FileConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	Path        string `yaml:"path" json:"path"`
	MaxSizeMB   int    `yaml:"max_size_mb" json:"max_size_mb"`
	BackupCount int    `yaml:"backup_count" json:"backup_count"`
}

// Config is the logging section of the configuration file.
type Config struct {
	Level  string     `yaml:"level" json:"level"`
	Format string     `yaml:"format" json:"format"` // "json" or "text"
	File   FileConfig `yaml:"file" json:"file"`
}

// DefaultConfig returns info-level text logging to stdout only.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "text",
		File: FileConfig{
			Path:        "logs/app.log",
			MaxSizeMB:   10,
			BackupCount: 5,
		},
	}
}

// ParseLevel accepts debug, info, warn/warning and error in any case.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "critical":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// New creates a logger writing to stdout and, when enabled, to a rotating file.
// The returned closer releases the file and is never nil.
func New(cfg Config) (*slog.Logger, io.Closer, error) {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg Config, stdout io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	out := stdout
	var closer io.Closer = nopCloser{}
	if cfg.File.Enabled {
		if dir := filepath.Dir(cfg.File.Path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
			}
		}
		rotator := &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSizeMB,
			MaxBackups: cfg.File.BackupCount,
		}
		out = io.MultiWriter(stdout, rotator)
		closer = rotator
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	case "", "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	return slog.New(handler), closer, nil
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
