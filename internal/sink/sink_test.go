package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/aqmon/internal/core"
	"firestige.xyz/aqmon/internal/dispatch"
)

var ts = time.Date(2024, 5, 1, 12, 30, 45, 123000000, time.UTC)

func deathEvent() core.GameEvent {
	return core.GameEvent{
		Kind:      core.KindMonsterDeath,
		Payload:   map[string]any{"cmd": "addGoldExp", "intGold": float64(50)},
		Timestamp: ts,
	}
}

func TestEncode(t *testing.T) {
	data, err := Encode(deathEvent(), "cmd")
	require.NoError(t, err)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, "monster_death", rec["kind"])
	assert.Equal(t, "addGoldExp", rec["cmd"])
	assert.Equal(t, "2024-05-01T12:30:45.123Z", rec["timestamp"])
	assert.Equal(t, map[string]any{"cmd": "addGoldExp", "intGold": float64(50)}, rec["payload"])
}

func TestConsole_Formats(t *testing.T) {
	var buf bytes.Buffer
	c, err := NewConsole(&buf, "text", "")
	require.NoError(t, err)
	require.NoError(t, c.Handle(deathEvent()))
	assert.Equal(t, `[12:30:45.123] monster_death cmd=addGoldExp {"cmd":"addGoldExp","intGold":50}`+"\n", buf.String())

	buf.Reset()
	c, err = NewConsole(&buf, "json", "cmd")
	require.NoError(t, err)
	require.NoError(t, c.Handle(deathEvent()))
	assert.True(t, strings.HasPrefix(buf.String(), `{"kind":"monster_death","cmd":"addGoldExp"`), buf.String())
	assert.NoError(t, c.Close())

	_, err = NewConsole(&buf, "xml", "")
	assert.Error(t, err)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed pipe") }

func TestSubscribe(t *testing.T) {
	reg := dispatch.NewRegistry()
	var buf bytes.Buffer
	c, err := NewConsole(&buf, "text", "")
	require.NoError(t, err)

	require.NoError(t, Subscribe(reg, c, []string{"monster_death", "drop-item"}))
	assert.Equal(t, 1, reg.Len(core.KindMonsterDeath))
	assert.Equal(t, 1, reg.Len(core.KindDropItem))
	assert.Equal(t, 0, reg.Len(core.KindCombat))

	reg.Dispatch(deathEvent())
	assert.Contains(t, buf.String(), "monster_death")

	reg = dispatch.NewRegistry()
	require.NoError(t, Subscribe(reg, c, nil))
	for _, k := range core.Kinds() {
		assert.Equal(t, 1, reg.Len(k), k.String())
	}

	assert.ErrorIs(t, Subscribe(reg, c, []string{"teleport"}), core.ErrUnknownKind)
}

func TestSubscribe_ErrorsCounted(t *testing.T) {
	reg := dispatch.NewRegistry()
	c, err := NewConsole(failingWriter{}, "text", "")
	require.NoError(t, err)
	require.NoError(t, Subscribe(reg, c, []string{"monster_death"}))

	reg.Dispatch(deathEvent())
	assert.Equal(t, uint64(1), reg.Stats().Failures)
}

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestNewKafka_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     KafkaConfig
		wantErr bool
	}{
		{"missing brokers", KafkaConfig{Topic: "events"}, true},
		{"missing topic", KafkaConfig{Brokers: []string{"localhost:9092"}}, true},
		{"invalid compression", KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "events", Compression: "brotli"}, true},
		{"minimal", KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "events"}, false},
		{"full", KafkaConfig{
			Brokers:      []string{"b1:9092", "b2:9092"},
			Topic:        "events",
			BatchSize:    10,
			BatchTimeout: 200 * time.Millisecond,
			Compression:  "zstd",
			MaxAttempts:  5,
		}, false},
		{"no compression", KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "events", Compression: "none"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, err := NewKafka(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "kafka", k.Name())
			assert.Positive(t, k.cfg.BatchSize)
			assert.NotEmpty(t, k.cfg.Compression)
		})
	}
}

func TestKafka_Handle(t *testing.T) {
	fw := &fakeWriter{}
	k := &Kafka{cfg: KafkaConfig{Topic: "events", CommandField: "cmd"}, writer: fw}

	require.NoError(t, k.Handle(deathEvent()))
	require.Len(t, fw.msgs, 1)
	assert.Equal(t, "monster_death", string(fw.msgs[0].Key))
	assert.Equal(t, ts, fw.msgs[0].Time)
	assert.Contains(t, string(fw.msgs[0].Value), `"intGold":50`)

	fw.err = errors.New("writer closed")
	assert.Error(t, k.Handle(deathEvent()))
	assert.Equal(t, uint64(1), k.failed.Load())

	k.completion(make([]kafka.Message, 3), nil)
	k.completion(make([]kafka.Message, 2), errors.New("broker down"))
	assert.Equal(t, uint64(3), k.reported.Load())
	assert.Equal(t, uint64(3), k.failed.Load())

	require.NoError(t, k.Close())
	assert.True(t, fw.closed)
}
