// Package dispatch fans classified events out to registered callbacks.
package dispatch

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"firestige.xyz/aqmon/internal/core"
	"firestige.xyz/aqmon/internal/metrics"
)

// Callback handles one event. A returned error is logged and counted; it does
// not stop the remaining callbacks.
type Callback func(ev core.GameEvent) error

// Registry holds callbacks per kind, in registration order.
type Registry struct {
	mu        sync.RWMutex
	callbacks [core.NumKinds][]Callback

	dispatched atomic.Uint64
	failures   atomic.Uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends cb to the list for kind. The same function may be
// registered more than once and then runs once per registration.
func (r *Registry) Register(kind core.PacketKind, cb Callback) error {
	if !kind.Valid() {
		return fmt.Errorf("register %s: %w", kind, core.ErrUnknownKind)
	}
	if cb == nil {
		return fmt.Errorf("register %s: nil callback", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks[kind] = append(r.callbacks[kind], cb)
	return nil
}

// RegisterAll registers cb for every kind.
func (r *Registry) RegisterAll(cb Callback) error {
	for _, k := range core.Kinds() {
		if err := r.Register(k, cb); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of callbacks registered for kind.
func (r *Registry) Len(kind core.PacketKind) int {
	if !kind.Valid() {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.callbacks[kind])
}

// Dispatch runs every callback registered for ev.Kind, in order. Each callback
// gets its own copy of the payload. Registrations made during a dispatch apply
// from the next event on.
func (r *Registry) Dispatch(ev core.GameEvent) {
	if !ev.Kind.Valid() {
		return
	}
	r.mu.RLock()
	cbs := r.callbacks[ev.Kind]
	r.mu.RUnlock()

	r.dispatched.Add(1)
	for i, cb := range cbs {
		cp := core.GameEvent{Kind: ev.Kind, Payload: core.CloneMap(ev.Payload), Timestamp: ev.Timestamp}
		if err := invoke(cb, cp); err != nil {
			r.failures.Add(1)
			reason := "error"
			if isPanic(err) {
				reason = "panic"
			}
			metrics.CallbackFailuresTotal.WithLabelValues(ev.Kind.String(), reason).Inc()
			slog.Warn("callback failed", "kind", ev.Kind.String(), "index", i, "error", err)
		}
	}
}

// Stats returns dispatch counters.
func (r *Registry) Stats() Stats {
	return Stats{
		Dispatched: r.dispatched.Load(),
		Failures:   r.failures.Load(),
	}
}

// Stats contains dispatch counters.
type Stats struct {
	Dispatched uint64
	Failures   uint64
}

type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("%v: %v", core.ErrCallbackPanic, e.value)
}

func (e *panicError) Unwrap() error {
	return core.ErrCallbackPanic
}

func isPanic(err error) bool {
	_, ok := err.(*panicError)
	return ok
}

func invoke(cb Callback, ev core.GameEvent) (err error) {
	defer func() {
		if v := recover(); v != nil {
			pe := &panicError{value: v, stack: debug.Stack()}
			slog.Debug("callback panic stack", "stack", string(pe.stack))
			err = pe
		}
	}()
	return cb(ev)
}
