package capture

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/netip"
	"sync/atomic"

	"firestige.xyz/aqmon/internal/core"
	"firestige.xyz/aqmon/internal/metrics"
)

// Sink receives admitted segments. Push reports whether the segment was kept.
type Sink interface {
	Push(seg core.RawSegment) bool
}

// Capturer runs the read loop over one opened Source.
type Capturer struct {
	src      Source
	backend  string
	admitter *Admitter

	packets  atomic.Uint64
	admitted atomic.Uint64
	rejected atomic.Uint64
	dropped  atomic.Uint64
	errors   atomic.Uint64
}

// Stats contains capture counters.
type Stats struct {
	Packets  uint64
	Admitted uint64
	Rejected uint64
	Dropped  uint64
	Errors   uint64
}

// NewCapturer creates a capturer admitting traffic with target. backend only
// labels metrics and logs.
func NewCapturer(src Source, backend string, target netip.Addr) *Capturer {
	return &Capturer{
		src:      src,
		backend:  backend,
		admitter: NewAdmitter(src.LinkType(), target),
	}
}

// Run reads frames until ctx is cancelled or the source reports io.EOF, pushing
// admitted segments to out. Read errors are counted and the loop continues. Run
// closes the source before returning. The returned error is io.EOF on natural
// end and nil on cancellation.
func (c *Capturer) Run(ctx context.Context, out Sink) error {
	defer c.src.Close()

	slog.Info("capture started", "backend", c.backend)
	for {
		select {
		case <-ctx.Done():
			slog.Info("capture stopped", "backend", c.backend)
			return nil
		default:
		}

		data, ci, err := c.src.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) {
				slog.Info("capture source exhausted", "backend", c.backend, "packets", c.packets.Load())
				return io.EOF
			}
			if ctx.Err() != nil {
				slog.Info("capture stopped", "backend", c.backend)
				return nil
			}
			if errors.Is(err, core.ErrCaptureTimeout) {
				continue
			}
			c.errors.Add(1)
			metrics.CaptureSegmentsTotal.WithLabelValues(c.backend, "error").Inc()
			slog.Debug("capture read failed", "backend", c.backend, "error", err)
			continue
		}
		c.packets.Add(1)

		seg, reason := c.admitter.Admit(data, ci)
		if reason != Admitted {
			c.rejected.Add(1)
			metrics.CaptureSegmentsTotal.WithLabelValues(c.backend, "rejected").Inc()
			continue
		}
		c.admitted.Add(1)
		metrics.CaptureSegmentsTotal.WithLabelValues(c.backend, "admitted").Inc()

		if !out.Push(seg) {
			c.dropped.Add(1)
			metrics.QueueDropsTotal.Inc()
			slog.Debug("ingestion queue full, dropping segment", "backend", c.backend)
		}
	}
}

// Stats returns capture counters.
func (c *Capturer) Stats() Stats {
	return Stats{
		Packets:  c.packets.Load(),
		Admitted: c.admitted.Load(),
		Rejected: c.rejected.Load(),
		Dropped:  c.dropped.Load(),
		Errors:   c.errors.Load(),
	}
}
