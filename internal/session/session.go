// Package session runs one monitor: a capture goroutine feeding the ingestion
// queue and a processing goroutine that reassembles, classifies and
// dispatches events.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"firestige.xyz/aqmon/internal/capture"
	"firestige.xyz/aqmon/internal/classify"
	"firestige.xyz/aqmon/internal/core"
	"firestige.xyz/aqmon/internal/dispatch"
	"firestige.xyz/aqmon/internal/metrics"
	"firestige.xyz/aqmon/internal/queue"
	"firestige.xyz/aqmon/internal/state"
	"firestige.xyz/aqmon/internal/stream"
)

const defaultIdleInterval = 100 * time.Millisecond

// Options contains session configuration.
type Options struct {
	Open    capture.Opener // Opens the capture source; required
	Backend string         // Backend label for logs and metrics

	Queue        queue.Config
	IdleInterval time.Duration // Longest the processing goroutine waits in Pop between checks

	Classifier         classify.Config
	DisableSuppression bool // Turn off tail-match duplicate suppression
}

type status int

const (
	statusIdle status = iota
	statusRunning
	statusStopped
)

// Session is a single-use monitor. Start it once, Stop it once.
type Session struct {
	opts Options
	reg  *dispatch.Registry

	// mu guards the reassembly buffer and the stores.
	mu     sync.RWMutex
	asm    *stream.Reassembler
	stores *state.Stores
	cls    *classify.Classifier

	// set once by Start under mu
	target   netip.Addr
	queue    *queue.Queue
	capturer *capture.Capturer

	lifeMu sync.Mutex
	status status
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}

	m Metrics
}

// New creates a session.
func New(opts Options) *Session {
	if opts.IdleInterval <= 0 {
		opts.IdleInterval = defaultIdleInterval
	}
	if opts.Backend == "" {
		opts.Backend = "unknown"
	}

	var asmOpts []stream.Option
	if opts.DisableSuppression {
		asmOpts = append(asmOpts, stream.WithoutDuplicateSuppression())
	}
	stores := state.New()
	return &Session{
		opts:   opts,
		reg:    dispatch.NewRegistry(),
		asm:    stream.New(asmOpts...),
		stores: stores,
		cls:    classify.New(opts.Classifier, stores),
		done:   make(chan struct{}),
	}
}

// Register appends cb to the callbacks of kind. Callbacks run on the
// processing goroutine, in registration order, outside the session lock.
// A callback must not call Stop directly, since Stop waits for the processing
// goroutine; use go s.Stop() instead.
func (s *Session) Register(kind core.PacketKind, cb dispatch.Callback) error {
	return s.reg.Register(kind, cb)
}

// RegisterAll registers cb for every kind.
func (s *Session) RegisterAll(cb dispatch.Callback) error {
	return s.reg.RegisterAll(cb)
}

// Start opens the capture source and launches the capture and processing
// goroutines. Source setup failures are returned wrapped in
// core.ErrCaptureSetup and leave the session startable.
func (s *Session) Start(target netip.Addr) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	switch s.status {
	case statusRunning:
		return core.ErrSessionRunning
	case statusStopped:
		return core.ErrSessionStopped
	}
	if !target.IsValid() {
		return fmt.Errorf("%w: invalid target address", core.ErrCaptureSetup)
	}
	if s.opts.Open == nil {
		return fmt.Errorf("%w: no capture source configured", core.ErrCaptureSetup)
	}

	src, err := s.opts.Open()
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrCaptureSetup, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Lock()
	s.target = target.Unmap()
	s.queue = queue.New(s.opts.Queue)
	s.capturer = capture.NewCapturer(src, s.opts.Backend, s.target)
	s.mu.Unlock()
	s.status = statusRunning

	slog.Info("session starting", "target", s.target.String(), "backend", s.opts.Backend)
	metrics.SessionStatus.Set(metrics.StatusRunning)

	s.wg.Add(1)
	go s.captureLoop(ctx)

	s.wg.Add(1)
	go s.processLoop(ctx)

	return nil
}

// Stop cancels both goroutines and waits for them. It is safe to call more
// than once and before Start. Calling it from a callback deadlocks.
func (s *Session) Stop() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.status != statusRunning {
		if s.status == statusIdle {
			s.status = statusStopped
			close(s.done)
		}
		return
	}

	slog.Info("session stopping", "target", s.target.String())
	s.cancel()
	s.wg.Wait()
	s.status = statusStopped
	metrics.SessionStatus.Set(metrics.StatusStopped)

	st := s.Stats()
	slog.Info("session stopped",
		"segments", st.Segments,
		"tokens", st.Tokens,
		"events", st.Events,
		"parse_errors", st.ParseErrors)
}

// Done is closed when the processing goroutine has exited, either because the
// capture source was exhausted and the queue drained, or after Stop.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Target returns the address being monitored.
func (s *Session) Target() netip.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.target
}

func (s *Session) captureLoop(ctx context.Context) {
	defer s.wg.Done()
	defer s.queue.Close()

	if err := s.capturer.Run(ctx, s.queue); err != nil && !errors.Is(err, context.Canceled) {
		slog.Debug("capture loop ended", "reason", err)
	}
}

func (s *Session) processLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.done)

	for {
		seg, ok, err := s.queue.Pop(ctx, s.opts.IdleInterval)
		if err != nil {
			if errors.Is(err, core.ErrQueueClosed) {
				slog.Info("ingestion queue drained", "target", s.target.String())
			}
			return
		}
		if !ok {
			continue
		}
		s.handleSegment(seg)
	}
}

// handleSegment runs one segment through reassembly and classification under
// the lock, then dispatches the resulting events without it.
func (s *Session) handleSegment(seg core.RawSegment) {
	s.m.Segments.Add(1)

	s.mu.Lock()
	res := s.asm.Feed(seg.Payload)
	if res.Suppressed {
		s.mu.Unlock()
		s.m.Suppressed.Add(1)
		metrics.StreamChunksSuppressedTotal.Inc()
		return
	}

	events := make([]core.GameEvent, 0, len(res.Tokens))
	for _, tok := range res.Tokens {
		s.m.Tokens.Add(1)
		var msg map[string]any
		if err := json.Unmarshal([]byte(tok), &msg); err != nil {
			s.m.ParseErrors.Add(1)
			metrics.StreamTokensTotal.WithLabelValues("invalid").Inc()
			slog.Warn("dropping malformed message", "error", err, "len", len(tok))
			continue
		}
		metrics.StreamTokensTotal.WithLabelValues("parsed").Inc()
		s.asm.Arm()
		events = append(events, s.cls.Classify(msg))
	}
	buffered := s.asm.Len()
	s.mu.Unlock()

	metrics.StreamBufferBytes.Set(float64(buffered))
	for _, ev := range events {
		s.m.Events.Add(1)
		metrics.EventsTotal.WithLabelValues(ev.Kind.String()).Inc()
		s.reg.Dispatch(ev)
	}
}
