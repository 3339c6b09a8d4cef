package sink

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"firestige.xyz/aqmon/internal/core"
)

// Console prints events, one per line.
type Console struct {
	format       string // "json" or "text"
	commandField string

	mu sync.Mutex
	w  io.Writer

	reported atomic.Uint64
}

// NewConsole creates a console sink writing to w.
func NewConsole(w io.Writer, format, commandField string) (*Console, error) {
	if format == "" {
		format = "text"
	}
	if format != "json" && format != "text" {
		return nil, fmt.Errorf("invalid format %q, must be json or text", format)
	}
	if commandField == "" {
		commandField = "cmd"
	}
	return &Console{w: w, format: format, commandField: commandField}, nil
}

func (c *Console) Name() string { return "console" }

// Handle writes ev.
func (c *Console) Handle(ev core.GameEvent) error {
	var line []byte
	if c.format == "json" {
		data, err := Encode(ev, c.commandField)
		if err != nil {
			return err
		}
		line = data
	} else {
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("json marshal failed: %w", err)
		}
		cmd, _ := ev.Payload[c.commandField].(string)
		line = fmt.Appendf(nil, "[%s] %-13s cmd=%s %s",
			ev.Timestamp.Format("15:04:05.000"), ev.Kind, cmd, payload)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.w.Write(append(line, '\n')); err != nil {
		return err
	}
	c.reported.Add(1)
	return nil
}

// Close logs the number of events written.
func (c *Console) Close() error {
	slog.Info("console sink stopped", "total_reported", c.reported.Load())
	return nil
}
