package sink

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"firestige.xyz/aqmon/internal/core"
)

const (
	defaultBatchSize    = 100
	defaultBatchTimeout = time.Second
	defaultCompression  = "snappy"
	defaultMaxAttempts  = 3
)

// KafkaConfig contains Kafka sink configuration.
type KafkaConfig struct {
	Brokers      []string      // required
	Topic        string        // required
	BatchSize    int           // optional, default 100
	BatchTimeout time.Duration // optional, default 1s
	Compression  string        // optional: none|gzip|snappy|lz4|zstd, default snappy
	MaxAttempts  int           // optional, default 3
	CommandField string        // optional, default "cmd"
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes events to a topic keyed by kind. Writes are asynchronous so
// the processing goroutine never waits on the broker; delivery failures are
// logged and counted.
type Kafka struct {
	cfg    KafkaConfig
	writer messageWriter

	reported atomic.Uint64
	failed   atomic.Uint64
}

// NewKafka validates cfg and creates the writer. No connection is made until
// the first batch is flushed.
func NewKafka(cfg KafkaConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = defaultBatchTimeout
	}
	if cfg.Compression == "" {
		cfg.Compression = defaultCompression
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.CommandField == "" {
		cfg.CommandField = "cmd"
	}

	codec, err := compressionCodec(cfg.Compression)
	if err != nil {
		return nil, err
	}

	k := &Kafka{cfg: cfg}
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:          cfg.Brokers,
		Topic:            cfg.Topic,
		Balancer:         &kafka.Hash{}, // same kind, same partition
		BatchSize:        cfg.BatchSize,
		BatchTimeout:     cfg.BatchTimeout,
		MaxAttempts:      cfg.MaxAttempts,
		CompressionCodec: codec,
		Async:            true,
	})
	w.Completion = k.completion
	k.writer = w

	slog.Info("kafka sink started",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
		"batch_size", cfg.BatchSize,
		"batch_timeout", cfg.BatchTimeout,
		"compression", cfg.Compression,
	)
	return k, nil
}

func compressionCodec(name string) (compress.Codec, error) {
	switch name {
	case "none":
		return nil, nil
	case "gzip":
		return compress.Gzip.Codec(), nil
	case "snappy":
		return compress.Snappy.Codec(), nil
	case "lz4":
		return compress.Lz4.Codec(), nil
	case "zstd":
		return compress.Zstd.Codec(), nil
	default:
		return nil, fmt.Errorf("invalid compression type: %s", name)
	}
}

func (k *Kafka) Name() string { return "kafka" }

// Handle enqueues ev for publishing.
func (k *Kafka) Handle(ev core.GameEvent) error {
	value, err := Encode(ev, k.cfg.CommandField)
	if err != nil {
		k.failed.Add(1)
		return fmt.Errorf("serialize event failed: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.Kind.String()),
		Value: value,
		Time:  ev.Timestamp,
	}
	if err := k.writer.WriteMessages(context.Background(), msg); err != nil {
		k.failed.Add(1)
		return fmt.Errorf("kafka write failed: %w", err)
	}
	return nil
}

func (k *Kafka) completion(msgs []kafka.Message, err error) {
	if err != nil {
		k.failed.Add(uint64(len(msgs)))
		slog.Error("kafka delivery failed", "topic", k.cfg.Topic, "messages", len(msgs), "error", err)
		return
	}
	k.reported.Add(uint64(len(msgs)))
}

// Close flushes pending messages.
func (k *Kafka) Close() error {
	if err := k.writer.Close(); err != nil {
		slog.Error("error closing kafka writer", "error", err)
		return err
	}
	slog.Info("kafka sink stopped",
		"total_reported", k.reported.Load(),
		"total_errors", k.failed.Load(),
	)
	return nil
}
