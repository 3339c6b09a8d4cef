package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/aqmon/internal/core"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aqmon.yml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "pcap", cfg.Capture.Backend)
	assert.Equal(t, "tcp", cfg.Capture.BPFFilter)
	assert.Equal(t, 100*time.Millisecond, cfg.Capture.ReadTimeoutDuration)
	assert.Equal(t, 4096, cfg.Queue.Capacity)
	assert.Equal(t, 50*time.Millisecond, cfg.Queue.PushTimeoutDuration)
	assert.Equal(t, []string{"b", "o"}, cfg.Protocol.EnvelopePath)
	assert.True(t, cfg.Protocol.SuppressDuplicates)
	assert.True(t, cfg.Sinks.Console.Enabled)
	assert.False(t, cfg.Sinks.Kafka.Enabled)
	require.Len(t, cfg.Servers, len(DefaultServers))
	assert.Equal(t, "Artix", cfg.Servers[0].Name)
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
monitor:
  log:
    level: debug
    format: json
  capture:
    backend: file
    file: /tmp/session.pcap
    read_timeout: 250ms
  target: Yorumi
  servers:
    - name: Yorumi
      address: 172.65.249.41
    - name: Local
      address: 127.0.0.1
  queue:
    capacity: 16
    push_timeout: 0s
  protocol:
    envelope_path: [env, object]
    commands:
      - code: skill-data
        kind: skill_data
      - code: death
        kind: monster_death
    suppress_duplicates: false
  sinks:
    kafka:
      enabled: true
      brokers: ["localhost:9092"]
      topic: game-events
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Expected log level debug, got %s", cfg.Log.Level)
	}
	if cfg.Capture.ReadTimeoutDuration != 250*time.Millisecond {
		t.Errorf("Expected read timeout 250ms, got %v", cfg.Capture.ReadTimeoutDuration)
	}
	if cfg.Queue.PushTimeoutDuration >= 0 {
		t.Errorf("Expected a zero push timeout to mean never wait, got %v", cfg.Queue.PushTimeoutDuration)
	}
	assert.Len(t, cfg.Servers, 2)
	assert.False(t, cfg.Protocol.SuppressDuplicates)
	assert.Equal(t, "snappy", cfg.Sinks.Kafka.Compression, "unset keys keep their defaults")

	cc, err := cfg.Protocol.ClassifierConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"env", "object"}, cc.EnvelopePath)
	assert.Equal(t, core.KindSkillData, cc.Table.Lookup("skill-data"))
	assert.Equal(t, core.KindMonsterDeath, cc.Table.Lookup("death"))
	assert.Equal(t, core.KindStatUpdate, cc.Table.Lookup("stu"), "built-in codes stay mapped")
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("MONITOR_LOG_LEVEL", "warn")
	t.Setenv("MONITOR_TARGET", "Alteon")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "Alteon", cfg.Target)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"log level", "monitor:\n  log:\n    level: loud\n"},
		{"backend", "monitor:\n  capture:\n    backend: netmap\n"},
		{"file backend without file", "monitor:\n  capture:\n    backend: file\n"},
		{"duration", "monitor:\n  queue:\n    idle_interval: soon\n"},
		{"server address", "monitor:\n  servers:\n    - name: X\n      address: not-an-ip\n"},
		{"duplicate server", "monitor:\n  servers:\n    - {name: A, address: 1.1.1.1}\n    - {name: a, address: 1.1.1.2}\n"},
		{"command kind", "monitor:\n  protocol:\n    commands:\n      - {code: x, kind: teleport}\n"},
		{"kafka without brokers", "monitor:\n  sinks:\n    kafka:\n      enabled: true\n"},
		{"console kinds", "monitor:\n  sinks:\n    console:\n      kinds: [nope]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.True(t, errors.Is(err, core.ErrConfigInvalid), "got %v", err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

func TestLoadMalformedFile(t *testing.T) {
	_, err := Load(writeConfig(t, "monitor:\n  log: [unterminated\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

func TestLoadWarningLevel(t *testing.T) {
	cfg, err := Load(writeConfig(t, "monitor:\n  log:\n    level: warning\n"))
	require.NoError(t, err)
	assert.Equal(t, "warning", cfg.Log.Level)

	t.Setenv("MONITOR_LOG_LEVEL", "WARNING")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "WARNING", cfg.Log.Level)
}

func TestResolveTarget(t *testing.T) {
	cfg := Default()

	addr, label, err := cfg.ResolveTarget("artix")
	require.NoError(t, err)
	assert.Equal(t, "172.65.160.131", addr.String())
	assert.Equal(t, "Artix", label)

	addr, label, err = cfg.ResolveTarget("172.65.249.3")
	require.NoError(t, err)
	assert.Equal(t, "Safiria", label)
	assert.True(t, addr.Is4())

	_, label, err = cfg.ResolveTarget("10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", label)

	_, _, err = cfg.ResolveTarget("Atlantis")
	assert.ErrorIs(t, err, core.ErrUnknownServer)

	_, _, err = cfg.ResolveTarget("")
	assert.ErrorIs(t, err, core.ErrUnknownServer)
}
