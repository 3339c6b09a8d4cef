// Package sink defines event subscribers shipped with the CLI.
package sink

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"firestige.xyz/aqmon/internal/core"
	"firestige.xyz/aqmon/internal/dispatch"
	"firestige.xyz/aqmon/internal/metrics"
)

// Sink consumes classified events.
type Sink interface {
	Name() string
	Handle(ev core.GameEvent) error
	Close() error
}

// Registrar is the subset of a session used to attach sinks.
type Registrar interface {
	Register(kind core.PacketKind, cb dispatch.Callback) error
}

// Subscribe registers s for the named kinds, or every kind when names is empty.
func Subscribe(r Registrar, s Sink, names []string) error {
	kinds := core.Kinds()
	if len(names) > 0 {
		kinds = kinds[:0]
		for _, n := range names {
			k, err := core.ParseKind(n)
			if err != nil {
				return fmt.Errorf("sink %s: %w", s.Name(), err)
			}
			kinds = append(kinds, k)
		}
	}

	cb := func(ev core.GameEvent) error {
		if err := s.Handle(ev); err != nil {
			metrics.SinkErrorsTotal.WithLabelValues(s.Name()).Inc()
			return fmt.Errorf("sink %s: %w", s.Name(), err)
		}
		return nil
	}
	for _, k := range kinds {
		if err := r.Register(k, cb); err != nil {
			return err
		}
	}
	slog.Info("sink subscribed", "sink", s.Name(), "kinds", len(kinds))
	return nil
}

// Record is the wire form of an event.
type Record struct {
	Kind      string         `json:"kind"`
	Command   string         `json:"cmd,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

// NewRecord converts ev. commandField names the payload field copied into Command.
func NewRecord(ev core.GameEvent, commandField string) Record {
	cmd, _ := ev.Payload[commandField].(string)
	return Record{
		Kind:      ev.Kind.String(),
		Command:   cmd,
		Timestamp: ev.Timestamp,
		Payload:   ev.Payload,
	}
}

// Encode serializes ev as one JSON object.
func Encode(ev core.GameEvent, commandField string) ([]byte, error) {
	data, err := json.Marshal(NewRecord(ev, commandField))
	if err != nil {
		return nil, fmt.Errorf("json marshal failed: %w", err)
	}
	return data, nil
}
