// Package logging builds the slog logger shared by the binaries.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/airvzxf/stt-assistant/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New returns a logger for cfg writing to stderr and, when cfg.File is set,
// to a rotating log file. The returned closer releases the file.
func New(cfg config.LogConfig) (*slog.Logger, io.Closer, error) {
	return newLogger(cfg, os.Stderr)
}

func newLogger(cfg config.LogConfig, console io.Writer) (*slog.Logger, io.Closer, error) {
	var out io.Writer = console
	var closer io.Closer = nopCloser{}

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, nil, err
		}
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
		out = io.MultiWriter(console, rotator)
		closer = rotator
	}

	opts := &slog.HandlerOptions{Level: config.ParseLogLevel(cfg.Level)}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler), closer, nil
}

// Component returns a child logger tagged with the component name.
func Component(base *slog.Logger, name string) *slog.Logger {
	return base.With(slog.String("component", name))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
