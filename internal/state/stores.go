// Package state holds the aggregate stores fed by classified events.
//
// Stores does no locking of its own: the session mutates and reads it under the
// same lock that guards the stream buffer. Every read method returns deep copies.
package state

import (
	"maps"
	"time"

	"firestige.xyz/aqmon/internal/core"
)

// AuraEntry is the latest effect list seen for one passive aura.
type AuraEntry struct {
	Effects   []any
	Timestamp time.Time
}

// SkillSnapshot is the active skill bar from the last skill_data message.
type SkillSnapshot struct {
	Skills    any
	Timestamp time.Time
}

// ItemSnapshot is the last item_update payload.
type ItemSnapshot struct {
	Items     any
	Timestamp time.Time
}

// StatEntry is one stat_update sample.
type StatEntry struct {
	Stats     any
	Timestamp time.Time
}

// LogEntry is one appended envelope object (monster death, drop, add item).
type LogEntry struct {
	Object    map[string]any
	Timestamp time.Time
}

// Stores owns every per-kind aggregate. The logs have no eviction.
type Stores struct {
	auras  map[string]AuraEntry
	skills SkillSnapshot
	items  ItemSnapshot

	stats  []StatEntry
	deaths []LogEntry
	drops  []LogEntry
	added  []LogEntry
	raw    []string
}

// New creates empty stores.
func New() *Stores {
	return &Stores{auras: make(map[string]AuraEntry)}
}

// UpsertAura replaces the entry for one aura name.
func (s *Stores) UpsertAura(name string, effects []any, ts time.Time) {
	s.auras[name] = AuraEntry{Effects: effects, Timestamp: ts}
}

// SetSkills replaces the skill snapshot.
func (s *Stores) SetSkills(skills any, ts time.Time) {
	s.skills = SkillSnapshot{Skills: skills, Timestamp: ts}
}

// SetItems replaces the item snapshot.
func (s *Stores) SetItems(items any, ts time.Time) {
	s.items = ItemSnapshot{Items: items, Timestamp: ts}
}

// AppendStats records a stat sample.
func (s *Stores) AppendStats(stats any, ts time.Time) {
	s.stats = append(s.stats, StatEntry{Stats: stats, Timestamp: ts})
}

// AppendDeath records a monster death.
func (s *Stores) AppendDeath(obj map[string]any, ts time.Time) {
	s.deaths = append(s.deaths, LogEntry{Object: obj, Timestamp: ts})
}

// AppendDrop records a dropped item.
func (s *Stores) AppendDrop(obj map[string]any, ts time.Time) {
	s.drops = append(s.drops, LogEntry{Object: obj, Timestamp: ts})
}

// AppendAddedItem records an item added to the inventory.
func (s *Stores) AppendAddedItem(obj map[string]any, ts time.Time) {
	s.added = append(s.added, LogEntry{Object: obj, Timestamp: ts})
}

// AppendRaw records the pretty-printed text of a parsed message.
func (s *Stores) AppendRaw(text string) {
	s.raw = append(s.raw, text)
}

// LatestStats returns the newest stat sample, if any.
func (s *Stores) LatestStats() (StatEntry, bool) {
	if len(s.stats) == 0 {
		return StatEntry{}, false
	}
	e := s.stats[len(s.stats)-1]
	return StatEntry{Stats: core.CloneValue(e.Stats), Timestamp: e.Timestamp}, true
}

// StatHistoryLen returns the number of stat samples recorded.
func (s *Stores) StatHistoryLen() int {
	return len(s.stats)
}

// Skills returns a copy of the skill snapshot.
func (s *Stores) Skills() SkillSnapshot {
	return SkillSnapshot{Skills: core.CloneValue(s.skills.Skills), Timestamp: s.skills.Timestamp}
}

// Items returns a copy of the item snapshot.
func (s *Stores) Items() ItemSnapshot {
	return ItemSnapshot{Items: core.CloneValue(s.items.Items), Timestamp: s.items.Timestamp}
}

// Auras returns a copy of the aura map.
func (s *Stores) Auras() map[string]AuraEntry {
	out := maps.Clone(s.auras)
	for name, e := range out {
		effects, _ := core.CloneValue(e.Effects).([]any)
		out[name] = AuraEntry{Effects: effects, Timestamp: e.Timestamp}
	}
	return out
}

// RecentRaw returns up to n of the newest raw log lines, oldest first.
func (s *Stores) RecentRaw(n int) []string {
	return append([]string(nil), tail(s.raw, n)...)
}

// RecentDeaths returns up to n of the newest monster deaths, oldest first.
func (s *Stores) RecentDeaths(n int) []LogEntry {
	return cloneEntries(tail(s.deaths, n))
}

// RecentDrops returns up to n of the newest drops, oldest first.
func (s *Stores) RecentDrops(n int) []LogEntry {
	return cloneEntries(tail(s.drops, n))
}

// RecentAddedItems returns up to n of the newest added items, oldest first.
func (s *Stores) RecentAddedItems(n int) []LogEntry {
	return cloneEntries(tail(s.added, n))
}

func tail[T any](s []T, n int) []T {
	if n <= 0 {
		return nil
	}
	if n > len(s) {
		n = len(s)
	}
	return s[len(s)-n:]
}

func cloneEntries(in []LogEntry) []LogEntry {
	if len(in) == 0 {
		return nil
	}
	out := make([]LogEntry, len(in))
	for i, e := range in {
		out[i] = LogEntry{Object: core.CloneMap(e.Object), Timestamp: e.Timestamp}
	}
	return out
}
