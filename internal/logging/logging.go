// Package logging wires the process-wide slog handler: text lines to
// stdout and a size-rotated file.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/modulab/foreman/internal/config"
)

// Setup installs the default slog logger per the logging config. An empty
// file path logs to stdout only.
func Setup(cfg config.LoggingConfig) error {
	var w io.Writer = os.Stdout

	if strings.TrimSpace(cfg.File) != "" {
		dir := filepath.Dir(cfg.File)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create log dir: %w", err)
			}
		}
		maxSize := cfg.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 10
		}
		maxBackups := cfg.MaxBackups
		if maxBackups < 0 {
			maxBackups = 0
		}
		w = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
		})
	}

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLevel(cfg.Level)})
	slog.SetDefault(slog.New(handler))
	return nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
