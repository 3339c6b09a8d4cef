// Package config handles configuration loading using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/aqmon/internal/core"
)

// Config represents the top-level configuration.
// Maps to the `monitor:` root key in YAML.
type Config struct {
	Log      LogConfig      `mapstructure:"log" yaml:"log" toml:"log"`
	Capture  CaptureConfig  `mapstructure:"capture" yaml:"capture" toml:"capture"`
	Target   string         `mapstructure:"target" yaml:"target" toml:"target"` // Server name or IP address
	Servers  []ServerConfig `mapstructure:"servers" yaml:"servers" toml:"servers"`
	Queue    QueueConfig    `mapstructure:"queue" yaml:"queue" toml:"queue"`
	Protocol ProtocolConfig `mapstructure:"protocol" yaml:"protocol" toml:"protocol"`
	Sinks    SinksConfig    `mapstructure:"sinks" yaml:"sinks" toml:"sinks"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics" toml:"metrics"`
}

// ─── Logging ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level" yaml:"level" toml:"level"`    // debug / info / warn(ing) / error
	Format  string           `mapstructure:"format" yaml:"format" toml:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs" yaml:"outputs" toml:"outputs"`
}

// LogOutputsConfig lists extra log outputs. Logs always go to stderr.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file" yaml:"file" toml:"file"`
}

// FileOutputConfig configures the rotating log file.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled" toml:"enabled"`
	Path     string         `mapstructure:"path" yaml:"path" toml:"path"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation" toml:"rotation"`
}

// RotationConfig contains lumberjack rotation limits.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb" toml:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days" toml:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups" toml:"max_backups"`
	Compress   bool `mapstructure:"compress" yaml:"compress" toml:"compress"`
}

// ─── Capture ───

// CaptureConfig selects and tunes the capture backend.
type CaptureConfig struct {
	Backend     string `mapstructure:"backend" yaml:"backend" toml:"backend"` // pcap / afpacket / file
	Interface   string `mapstructure:"interface" yaml:"interface" toml:"interface"`
	SnapLen     int    `mapstructure:"snap_len" yaml:"snap_len" toml:"snap_len"`
	BPFFilter   string `mapstructure:"bpf_filter" yaml:"bpf_filter" toml:"bpf_filter"`
	ReadTimeout string `mapstructure:"read_timeout" yaml:"read_timeout" toml:"read_timeout"` // e.g. "100ms"
	Promiscuous bool   `mapstructure:"promiscuous" yaml:"promiscuous" toml:"promiscuous"`
	File        string `mapstructure:"file" yaml:"file" toml:"file"` // pcap file for the file backend
	BlockSize   int    `mapstructure:"block_size" yaml:"block_size" toml:"block_size"`
	NumBlocks   int    `mapstructure:"num_blocks" yaml:"num_blocks" toml:"num_blocks"`

	ReadTimeoutDuration time.Duration `mapstructure:"-" yaml:"-" toml:"-"`
}

// ServerConfig names one game server.
type ServerConfig struct {
	Name    string `mapstructure:"name" yaml:"name" toml:"name"`
	Address string `mapstructure:"address" yaml:"address" toml:"address"`
}

// QueueConfig configures the ingestion queue.
type QueueConfig struct {
	Capacity     int    `mapstructure:"capacity" yaml:"capacity" toml:"capacity"`
	PushTimeout  string `mapstructure:"push_timeout" yaml:"push_timeout" toml:"push_timeout"`    // "0s" or negative never waits
	IdleInterval string `mapstructure:"idle_interval" yaml:"idle_interval" toml:"idle_interval"` // Longest idle wait in the processing loop

	PushTimeoutDuration  time.Duration `mapstructure:"-" yaml:"-" toml:"-"`
	IdleIntervalDuration time.Duration `mapstructure:"-" yaml:"-" toml:"-"`
}

// ─── Protocol ───

// ProtocolConfig describes where the command lives and how codes map to kinds.
type ProtocolConfig struct {
	EnvelopePath       []string        `mapstructure:"envelope_path" yaml:"envelope_path" toml:"envelope_path"`
	CommandField       string          `mapstructure:"command_field" yaml:"command_field" toml:"command_field"`
	Commands           []CommandConfig `mapstructure:"commands" yaml:"commands" toml:"commands"` // Added to or overriding the built-in table
	SuppressDuplicates bool            `mapstructure:"suppress_duplicates" yaml:"suppress_duplicates" toml:"suppress_duplicates"`
}

// CommandConfig maps one command code to a kind name. Codes are case-sensitive,
// so they are listed rather than used as map keys.
type CommandConfig struct {
	Code string `mapstructure:"code" yaml:"code" toml:"code"`
	Kind string `mapstructure:"kind" yaml:"kind" toml:"kind"`
}

// ─── Sinks ───

// SinksConfig contains the built-in event subscribers.
type SinksConfig struct {
	Console ConsoleSinkConfig `mapstructure:"console" yaml:"console" toml:"console"`
	Kafka   KafkaSinkConfig   `mapstructure:"kafka" yaml:"kafka" toml:"kafka"`
}

// ConsoleSinkConfig configures the stdout event printer.
type ConsoleSinkConfig struct {
	Enabled bool     `mapstructure:"enabled" yaml:"enabled" toml:"enabled"`
	Format  string   `mapstructure:"format" yaml:"format" toml:"format"` // json / text
	Kinds   []string `mapstructure:"kinds" yaml:"kinds" toml:"kinds"`    // Empty = all kinds
}

// KafkaSinkConfig configures the Kafka event publisher.
type KafkaSinkConfig struct {
	Enabled      bool     `mapstructure:"enabled" yaml:"enabled" toml:"enabled"`
	Brokers      []string `mapstructure:"brokers" yaml:"brokers" toml:"brokers"`
	Topic        string   `mapstructure:"topic" yaml:"topic" toml:"topic"`
	Compression  string   `mapstructure:"compression" yaml:"compression" toml:"compression"` // none / gzip / snappy / lz4 / zstd
	BatchSize    int      `mapstructure:"batch_size" yaml:"batch_size" toml:"batch_size"`
	BatchTimeout string   `mapstructure:"batch_timeout" yaml:"batch_timeout" toml:"batch_timeout"`
	MaxAttempts  int      `mapstructure:"max_attempts" yaml:"max_attempts" toml:"max_attempts"`
	Kinds        []string `mapstructure:"kinds" yaml:"kinds" toml:"kinds"`

	BatchTimeoutDuration time.Duration `mapstructure:"-" yaml:"-" toml:"-"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" toml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen" toml:"listen"`
	Path    string `mapstructure:"path" yaml:"path" toml:"path"`
}

// Root wraps Config under the `monitor:` key, as written on disk.
type Root struct {
	Monitor Config `mapstructure:"monitor" yaml:"monitor" toml:"monitor"`
}

// EnvPrefix is the environment prefix produced by the root key, e.g.
// MONITOR_LOG_LEVEL overrides monitor.log.level.
const EnvPrefix = "MONITOR"

// Load reads configuration from path. An empty path yields the defaults with
// environment overrides applied.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: failed to read config file: %w", core.ErrConfigInvalid, err)
		}
	}

	// The `monitor.` key prefix maps to `MONITOR_` via the key replacer.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root Root
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal config: %w", core.ErrConfigInvalid, err)
	}
	cfg := root.Monitor

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Default returns the validated default configuration.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		// defaults are static; failure here is a programming error
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("monitor.log.level", "info")
	v.SetDefault("monitor.log.format", "text")
	v.SetDefault("monitor.log.outputs.file.enabled", false)
	v.SetDefault("monitor.log.outputs.file.path", "aqmon.log")
	v.SetDefault("monitor.log.outputs.file.rotation.max_size_mb", 20)
	v.SetDefault("monitor.log.outputs.file.rotation.max_age_days", 7)
	v.SetDefault("monitor.log.outputs.file.rotation.max_backups", 3)
	v.SetDefault("monitor.log.outputs.file.rotation.compress", false)

	// Capture defaults
	v.SetDefault("monitor.capture.backend", "pcap")
	v.SetDefault("monitor.capture.snap_len", 65535)
	v.SetDefault("monitor.capture.bpf_filter", "tcp")
	v.SetDefault("monitor.capture.read_timeout", "100ms")
	v.SetDefault("monitor.capture.promiscuous", false)
	v.SetDefault("monitor.capture.block_size", 1<<20)
	v.SetDefault("monitor.capture.num_blocks", 16)

	v.SetDefault("monitor.target", "")
	v.SetDefault("monitor.servers", defaultServers())

	// Queue defaults
	v.SetDefault("monitor.queue.capacity", 4096)
	v.SetDefault("monitor.queue.push_timeout", "50ms")
	v.SetDefault("monitor.queue.idle_interval", "100ms")

	// Protocol defaults
	v.SetDefault("monitor.protocol.envelope_path", []string{"b", "o"})
	v.SetDefault("monitor.protocol.command_field", "cmd")
	v.SetDefault("monitor.protocol.suppress_duplicates", true)

	// Sink defaults
	v.SetDefault("monitor.sinks.console.enabled", true)
	v.SetDefault("monitor.sinks.console.format", "text")
	v.SetDefault("monitor.sinks.kafka.enabled", false)
	v.SetDefault("monitor.sinks.kafka.topic", "aqmon-events")
	v.SetDefault("monitor.sinks.kafka.compression", "snappy")
	v.SetDefault("monitor.sinks.kafka.batch_size", 100)
	v.SetDefault("monitor.sinks.kafka.batch_timeout", "1s")
	v.SetDefault("monitor.sinks.kafka.max_attempts", 3)

	// Metrics defaults
	v.SetDefault("monitor.metrics.enabled", false)
	v.SetDefault("monitor.metrics.listen", "127.0.0.1:9464")
	v.SetDefault("monitor.metrics.path", "/metrics")
}

func defaultServers() []map[string]any {
	out := make([]map[string]any, 0, len(DefaultServers))
	for _, s := range DefaultServers {
		out = append(out, map[string]any{"name": s.Name, "address": s.Address})
	}
	return out
}

// ValidateAndApplyDefaults validates the configuration and parses durations.
func (cfg *Config) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Log.Level)] {
		return fmt.Errorf("%w: invalid log level: %s (must be debug/info/warn/warning/error)", core.ErrConfigInvalid, cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("%w: invalid log format: %s (must be json/text)", core.ErrConfigInvalid, cfg.Log.Format)
	}
	if cfg.Log.Outputs.File.Enabled && cfg.Log.Outputs.File.Path == "" {
		return fmt.Errorf("%w: log.outputs.file.path is required when file output is enabled", core.ErrConfigInvalid)
	}

	// ── Capture ──
	switch cfg.Capture.Backend {
	case "pcap", "afpacket":
	case "file":
		if cfg.Capture.File == "" {
			return fmt.Errorf("%w: capture.file is required for the file backend", core.ErrConfigInvalid)
		}
	default:
		return fmt.Errorf("%w: unsupported capture.backend: %s (must be pcap/afpacket/file)", core.ErrConfigInvalid, cfg.Capture.Backend)
	}
	if cfg.Capture.SnapLen <= 0 {
		return fmt.Errorf("%w: capture.snap_len must be positive", core.ErrConfigInvalid)
	}
	var err error
	if cfg.Capture.ReadTimeoutDuration, err = parseDuration("capture.read_timeout", cfg.Capture.ReadTimeout); err != nil {
		return err
	}

	// ── Servers ──
	seen := make(map[string]bool, len(cfg.Servers))
	for _, s := range cfg.Servers {
		key := strings.ToLower(s.Name)
		if s.Name == "" || seen[key] {
			return fmt.Errorf("%w: server names must be unique and non-empty (%q)", core.ErrConfigInvalid, s.Name)
		}
		seen[key] = true
		if _, err := parseAddr(s.Address); err != nil {
			return fmt.Errorf("%w: server %s: %v", core.ErrConfigInvalid, s.Name, err)
		}
	}

	// ── Queue ──
	if cfg.Queue.Capacity <= 0 {
		return fmt.Errorf("%w: queue.capacity must be positive", core.ErrConfigInvalid)
	}
	if cfg.Queue.PushTimeoutDuration, err = parseDuration("queue.push_timeout", cfg.Queue.PushTimeout); err != nil {
		return err
	}
	if cfg.Queue.PushTimeoutDuration == 0 {
		cfg.Queue.PushTimeoutDuration = -1
	}
	if cfg.Queue.IdleIntervalDuration, err = parseDuration("queue.idle_interval", cfg.Queue.IdleInterval); err != nil {
		return err
	}
	if cfg.Queue.IdleIntervalDuration <= 0 {
		return fmt.Errorf("%w: queue.idle_interval must be positive", core.ErrConfigInvalid)
	}

	// ── Protocol ──
	if cfg.Protocol.CommandField == "" {
		cfg.Protocol.CommandField = "cmd"
	}
	for _, c := range cfg.Protocol.Commands {
		if c.Code == "" {
			return fmt.Errorf("%w: protocol.commands entries need a code", core.ErrConfigInvalid)
		}
		if _, err := core.ParseKind(c.Kind); err != nil {
			return fmt.Errorf("%w: protocol.commands %q: %v", core.ErrConfigInvalid, c.Code, err)
		}
	}

	// ── Sinks ──
	if cfg.Sinks.Console.Format != "json" && cfg.Sinks.Console.Format != "text" {
		return fmt.Errorf("%w: invalid sinks.console.format: %s (must be json/text)", core.ErrConfigInvalid, cfg.Sinks.Console.Format)
	}
	if err := validateKinds("sinks.console.kinds", cfg.Sinks.Console.Kinds); err != nil {
		return err
	}
	if cfg.Sinks.Kafka.Enabled {
		if len(cfg.Sinks.Kafka.Brokers) == 0 {
			return fmt.Errorf("%w: sinks.kafka.brokers is required when sinks.kafka.enabled=true", core.ErrConfigInvalid)
		}
		if cfg.Sinks.Kafka.Topic == "" {
			return fmt.Errorf("%w: sinks.kafka.topic is required when sinks.kafka.enabled=true", core.ErrConfigInvalid)
		}
	}
	if err := validateKinds("sinks.kafka.kinds", cfg.Sinks.Kafka.Kinds); err != nil {
		return err
	}
	if cfg.Sinks.Kafka.BatchTimeoutDuration, err = parseDuration("sinks.kafka.batch_timeout", cfg.Sinks.Kafka.BatchTimeout); err != nil {
		return err
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return fmt.Errorf("%w: metrics.listen is required when metrics.enabled=true", core.ErrConfigInvalid)
	}
	return nil
}

func parseDuration(key, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s %q: %v", core.ErrConfigInvalid, key, s, err)
	}
	return d, nil
}

func validateKinds(key string, names []string) error {
	for _, n := range names {
		if _, err := core.ParseKind(n); err != nil {
			return fmt.Errorf("%w: %s: %v", core.ErrConfigInvalid, key, err)
		}
	}
	return nil
}
