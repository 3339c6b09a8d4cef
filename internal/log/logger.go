// Package log installs the process-wide slog logger.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"firestige.xyz/aqmon/internal/config"
)

var levels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// Init installs the global logger. Logs go to stderr so that stdout stays free
// for the console event sink. The returned closer releases the log file.
func Init(cfg config.LogConfig) (io.Closer, error) {
	return InitWriter(cfg, os.Stderr)
}

// InitWriter is Init with an explicit console writer.
func InitWriter(cfg config.LogConfig, console io.Writer) (io.Closer, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	out, closer := console, io.Closer(nopCloser{})
	if fc := cfg.Outputs.File; fc.Enabled {
		rotating, err := rotatingFile(fc)
		if err != nil {
			return nil, fmt.Errorf("failed to create file output: %w", err)
		}
		out, closer = io.MultiWriter(console, rotating), rotating
	}

	handler, err := newHandler(cfg.Format, out, &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	})
	if err != nil {
		return nil, err
	}

	slog.SetDefault(slog.New(handler))
	return closer, nil
}

func newHandler(format string, w io.Writer, opts *slog.HandlerOptions) (slog.Handler, error) {
	switch strings.ToLower(format) {
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	case "text":
		return slog.NewTextHandler(w, opts), nil
	}
	return nil, fmt.Errorf("unsupported log format: %s (must be json or text)", format)
}

func parseLevel(s string) (slog.Level, error) {
	if l, ok := levels[strings.ToLower(s)]; ok {
		return l, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown level: %q", s)
}

// rotatingFile returns a size-rotated log file. Zero limits fall back to the
// lumberjack defaults.
func rotatingFile(fc config.FileOutputConfig) (*lumberjack.Logger, error) {
	if fc.Path == "" {
		return nil, fmt.Errorf("file output requires 'path' field")
	}
	return &lumberjack.Logger{
		Filename:   fc.Path,
		MaxSize:    fc.Rotation.MaxSizeMB,
		MaxBackups: fc.Rotation.MaxBackups,
		MaxAge:     fc.Rotation.MaxAgeDays,
		Compress:   fc.Rotation.Compress,
	}, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
