package session

import (
	"sync/atomic"

	"firestige.xyz/aqmon/internal/capture"
	"firestige.xyz/aqmon/internal/dispatch"
	"firestige.xyz/aqmon/internal/queue"
	"firestige.xyz/aqmon/internal/state"
)

// Every accessor takes the read lock for the duration of one copy. Two calls
// may observe different states.

// BufferLen returns the number of bytes held for an incomplete object.
func (s *Session) BufferLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.asm.Len()
}

// LatestStats returns the newest stat sample.
func (s *Session) LatestStats() (state.StatEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stores.LatestStats()
}

// Skills returns the current skill snapshot.
func (s *Session) Skills() state.SkillSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stores.Skills()
}

// Auras returns the passive auras keyed by name.
func (s *Session) Auras() map[string]state.AuraEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stores.Auras()
}

// Items returns the current item snapshot.
func (s *Session) Items() state.ItemSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stores.Items()
}

// RecentLogs returns up to n pretty-printed raw messages, oldest first.
func (s *Session) RecentLogs(n int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stores.RecentRaw(n)
}

// RecentDeaths returns up to n monster deaths, oldest first.
func (s *Session) RecentDeaths(n int) []state.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stores.RecentDeaths(n)
}

// RecentDrops returns up to n item drops, oldest first.
func (s *Session) RecentDrops(n int) []state.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stores.RecentDrops(n)
}

// RecentAddedItems returns up to n added items, oldest first.
func (s *Session) RecentAddedItems(n int) []state.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stores.RecentAddedItems(n)
}

// Metrics contains per-session processing counters.
type Metrics struct {
	Segments    atomic.Uint64
	Suppressed  atomic.Uint64
	Tokens      atomic.Uint64
	ParseErrors atomic.Uint64
	Events      atomic.Uint64
}

// Stats is a point-in-time view of every session counter.
type Stats struct {
	Segments    uint64
	Suppressed  uint64
	Tokens      uint64
	ParseErrors uint64
	Events      uint64

	Capture  capture.Stats
	Queue    queue.Stats
	Dispatch dispatch.Stats
}

// Stats returns the current counters.
func (s *Session) Stats() Stats {
	st := Stats{
		Segments:    s.m.Segments.Load(),
		Suppressed:  s.m.Suppressed.Load(),
		Tokens:      s.m.Tokens.Load(),
		ParseErrors: s.m.ParseErrors.Load(),
		Events:      s.m.Events.Load(),
		Dispatch:    s.reg.Stats(),
	}
	s.mu.RLock()
	q, c := s.queue, s.capturer
	s.mu.RUnlock()
	if c != nil {
		st.Capture = c.Stats()
	}
	if q != nil {
		st.Queue = q.Stats()
	}
	return st
}
