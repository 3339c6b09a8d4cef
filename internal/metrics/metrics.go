// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CaptureSegmentsTotal counts captured packets by admission result
	CaptureSegmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aqmon_capture_segments_total",
			Help: "Total number of packets seen by the capture loop",
		},
		[]string{"backend", "result"}, // result: admitted, rejected, error
	)

	// QueueDropsTotal counts admitted segments dropped because the ingestion queue was full
	QueueDropsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aqmon_queue_drops_total",
			Help: "Total number of segments dropped at the ingestion queue",
		},
	)

	// StreamChunksSuppressedTotal counts chunks discarded as retransmits
	StreamChunksSuppressedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aqmon_stream_chunks_suppressed_total",
			Help: "Total number of chunks suppressed as duplicates",
		},
	)

	// StreamTokensTotal counts extracted JSON tokens by parse result
	StreamTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aqmon_stream_tokens_total",
			Help: "Total number of brace-balanced tokens extracted from the stream",
		},
		[]string{"result"}, // result: parsed, invalid
	)

	// StreamBufferBytes tracks the size of the retained partial object
	StreamBufferBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aqmon_stream_buffer_bytes",
			Help: "Bytes currently held in the reassembly buffer",
		},
	)

	// EventsTotal counts classified events by kind
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aqmon_events_total",
			Help: "Total number of classified events",
		},
		[]string{"kind"},
	)

	// CallbackFailuresTotal counts callback errors and panics by kind
	CallbackFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aqmon_callback_failures_total",
			Help: "Total number of callbacks that returned an error or panicked",
		},
		[]string{"kind", "reason"}, // reason: error, panic
	)

	// SinkErrorsTotal counts sink write failures
	SinkErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aqmon_sink_errors_total",
			Help: "Total number of event sink errors",
		},
		[]string{"sink"},
	)

	// SessionStatus tracks whether the monitor session is running
	SessionStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aqmon_session_status",
			Help: "Current session status (0=stopped, 1=running)",
		},
	)
)

// SessionStatus values.
const (
	StatusStopped = 0
	StatusRunning = 1
)
