// Package queue implements the hand-off buffer between capture and processing.
package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"firestige.xyz/aqmon/internal/core"
)

const (
	defaultCapacity    = 4096
	defaultPushTimeout = 50 * time.Millisecond
)

// Config contains queue configuration.
type Config struct {
	Capacity    int           // Channel capacity
	PushTimeout time.Duration // Longest a producer waits for space before dropping; <0 never waits
}

// Queue is a bounded multi-producer, single-consumer segment queue.
type Queue struct {
	ch          chan core.RawSegment
	pushTimeout time.Duration

	mu     sync.RWMutex // guards closed against concurrent Push
	closed bool

	pushed  atomic.Uint64
	dropped atomic.Uint64
}

// New creates a queue.
func New(cfg Config) *Queue {
	if cfg.Capacity <= 0 {
		cfg.Capacity = defaultCapacity
	}
	if cfg.PushTimeout == 0 {
		cfg.PushTimeout = defaultPushTimeout
	}
	return &Queue{
		ch:          make(chan core.RawSegment, cfg.Capacity),
		pushTimeout: cfg.PushTimeout,
	}
}

// Push enqueues seg. It waits at most the push timeout for space and reports
// whether the segment was accepted. Pushing to a closed queue drops.
func (q *Queue) Push(seg core.RawSegment) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.dropped.Add(1)
		return false
	}

	select {
	case q.ch <- seg:
		q.pushed.Add(1)
		return true
	default:
	}

	if q.pushTimeout < 0 {
		q.dropped.Add(1)
		return false
	}

	timer := time.NewTimer(q.pushTimeout)
	defer timer.Stop()
	select {
	case q.ch <- seg:
		q.pushed.Add(1)
		return true
	case <-timer.C:
		q.dropped.Add(1)
		return false
	}
}

// Pop waits up to wait for the next segment. ok is false when the wait elapsed
// or ctx was cancelled. Once the queue is closed and drained Pop returns
// core.ErrQueueClosed.
func (q *Queue) Pop(ctx context.Context, wait time.Duration) (seg core.RawSegment, ok bool, err error) {
	select {
	case seg, open := <-q.ch:
		if !open {
			return seg, false, core.ErrQueueClosed
		}
		return seg, true, nil
	default:
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case seg, open := <-q.ch:
		if !open {
			return seg, false, core.ErrQueueClosed
		}
		return seg, true, nil
	case <-timer.C:
		return seg, false, nil
	case <-ctx.Done():
		return seg, false, ctx.Err()
	}
}

// Close stops accepting segments. Already queued segments stay poppable.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Len returns the number of queued segments.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Stats returns queue counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Pushed:  q.pushed.Load(),
		Dropped: q.dropped.Load(),
		Queued:  len(q.ch),
	}
}

// Stats represents queue statistics.
type Stats struct {
	Pushed  uint64
	Dropped uint64
	Queued  int
}
