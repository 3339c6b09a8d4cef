package log

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/aqmon/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"Warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := parseLevel(tt.input)
			if err != nil {
				t.Errorf("parseLevel(%q) returned error: %v", tt.input, err)
			}
			if level != tt.expected {
				t.Errorf("parseLevel(%q) = %v, expected %v", tt.input, level, tt.expected)
			}
		})
	}

	for _, input := range []string{"trace", "fatal", ""} {
		if _, err := parseLevel(input); err == nil {
			t.Errorf("parseLevel(%q) should return error, got nil", input)
		}
	}
}

func TestInitWriter_LevelAndFormat(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	var buf bytes.Buffer
	closer, err := InitWriter(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)
	defer closer.Close()

	slog.Info("segment admitted")
	slog.Warn("queue full", "dropped", 3)

	out := buf.String()
	assert.NotContains(t, out, "segment admitted")
	assert.Contains(t, out, `"msg":"queue full"`)
	assert.Contains(t, out, `"dropped":3`)
}

func TestInitWriter_FileOutput(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	logPath := filepath.Join(t.TempDir(), "aqmon.log")
	var buf bytes.Buffer
	closer, err := InitWriter(config.LogConfig{
		Level:  "debug",
		Format: "text",
		Outputs: config.LogOutputsConfig{
			File: config.FileOutputConfig{
				Enabled:  true,
				Path:     logPath,
				Rotation: config.RotationConfig{MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1},
			},
		},
	}, &buf)
	require.NoError(t, err)

	slog.Debug("session starting", "target", "172.65.160.131")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "target=172.65.160.131")
	assert.Contains(t, buf.String(), "session starting")
}

func TestInitWriter_Errors(t *testing.T) {
	var buf bytes.Buffer
	tests := []struct {
		name string
		cfg  config.LogConfig
		want string
	}{
		{"level", config.LogConfig{Level: "loud", Format: "json"}, "invalid log level"},
		{"format", config.LogConfig{Level: "info", Format: "xml"}, "unsupported log format"},
		{"file path", config.LogConfig{Level: "info", Format: "json",
			Outputs: config.LogOutputsConfig{File: config.FileOutputConfig{Enabled: true}}}, "path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := InitWriter(tt.cfg, &buf)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
