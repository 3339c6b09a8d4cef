// Package classify maps decoded protocol messages to typed game events.
package classify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"firestige.xyz/aqmon/internal/core"
	"firestige.xyz/aqmon/internal/state"
)

const (
	defaultCommandField = "cmd"
	rawIndent           = "    "
)

// DefaultEnvelopePath locates the command object inside the game's messages:
// {"t":"xt","b":{"r":-1,"o":{"cmd":"..."}}}.
var DefaultEnvelopePath = []string{"b", "o"}

// Table maps command codes to kinds. Lookups are exact string matches.
type Table map[string]core.PacketKind

// DefaultTable returns the built-in command table.
func DefaultTable() Table {
	return Table{
		"aura+p":     core.KindAuraPassive,
		"sAct":       core.KindSkillData,
		"stu":        core.KindStatUpdate,
		"seia":       core.KindItemUpdate,
		"ct":         core.KindCombat,
		"unknown":    core.KindUnknown,
		"addItem":    core.KindAddItem,
		"dropItem":   core.KindDropItem,
		"addGoldExp": core.KindMonsterDeath,
	}
}

// Lookup returns the kind for code, KindUnknown when unmapped.
func (t Table) Lookup(code string) core.PacketKind {
	if k, ok := t[code]; ok {
		return k
	}
	return core.KindUnknown
}

// Merge returns a copy of t with overrides applied on top.
func (t Table) Merge(overrides Table) Table {
	out := make(Table, len(t)+len(overrides))
	for code, k := range t {
		out[code] = k
	}
	for code, k := range overrides {
		out[code] = k
	}
	return out
}

// ParseTable builds a table from code → kind-name pairs.
func ParseTable(names map[string]string) (Table, error) {
	t := make(Table, len(names))
	for code, name := range names {
		k, err := core.ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("command %q: %w", code, err)
		}
		t[code] = k
	}
	return t, nil
}

// Config contains classifier configuration.
type Config struct {
	EnvelopePath []string         // Keys leading from the message root to the event object
	CommandField string           // Field of the event object holding the command code
	Table        Table            // Command table; nil uses DefaultTable
	Now          func() time.Time // Clock; nil uses time.Now
}

// Classifier resolves kinds and updates the aggregate stores. Callers must hold
// the lock guarding the stores.
type Classifier struct {
	path   []string
	field  string
	table  Table
	now    func() time.Time
	stores *state.Stores
}

// New creates a classifier writing into stores.
func New(cfg Config, stores *state.Stores) *Classifier {
	if cfg.EnvelopePath == nil {
		cfg.EnvelopePath = DefaultEnvelopePath
	}
	if cfg.CommandField == "" {
		cfg.CommandField = defaultCommandField
	}
	if cfg.Table == nil {
		cfg.Table = DefaultTable()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Classifier{
		path:   append([]string(nil), cfg.EnvelopePath...),
		field:  cfg.CommandField,
		table:  cfg.Table,
		now:    cfg.Now,
		stores: stores,
	}
}

// Envelope walks the configured path. Any missing or non-object level yields
// an empty object.
func (c *Classifier) Envelope(msg map[string]any) map[string]any {
	cur := msg
	for _, key := range c.path {
		next, ok := cur[key].(map[string]any)
		if !ok {
			return map[string]any{}
		}
		cur = next
	}
	if cur == nil {
		return map[string]any{}
	}
	return cur
}

// Kind resolves the kind of an envelope object.
func (c *Classifier) Kind(obj map[string]any) core.PacketKind {
	code, _ := obj[c.field].(string)
	return c.table.Lookup(code)
}

// Classify updates the stores for msg and returns its event.
func (c *Classifier) Classify(msg map[string]any) core.GameEvent {
	obj := c.Envelope(msg)
	kind := c.Kind(obj)
	now := c.now()

	switch kind {
	case core.KindAuraPassive:
		auras, _ := obj["auras"].([]any)
		for _, a := range auras {
			aura, ok := a.(map[string]any)
			if !ok {
				continue
			}
			name, ok := aura["nam"].(string)
			if !ok {
				slog.Debug("aura without name skipped", "aura", aura)
				continue
			}
			effects, _ := aura["e"].([]any)
			if effects == nil {
				effects = []any{}
			}
			c.stores.UpsertAura(name, effects, now)
		}

	case core.KindSkillData:
		actions, _ := obj["actions"].(map[string]any)
		c.stores.SetSkills(field(actions, "active"), now)

	case core.KindStatUpdate:
		c.stores.AppendStats(field(obj, "sta"), now)

	case core.KindItemUpdate:
		c.stores.SetItems(field(obj, "o"), now)

	case core.KindMonsterDeath:
		c.stores.AppendDeath(obj, now)

	case core.KindDropItem:
		c.stores.AppendDrop(obj, now)

	case core.KindAddItem:
		c.stores.AppendAddedItem(obj, now)
	}

	if raw, err := json.MarshalIndent(msg, "", rawIndent); err == nil {
		c.stores.AppendRaw(string(raw))
	}

	return core.GameEvent{
		Kind:      kind,
		Payload:   core.CloneMap(obj),
		Timestamp: now,
	}
}

// field returns m[key], or an empty object when absent.
func field(m map[string]any, key string) any {
	if v, ok := m[key]; ok && v != nil {
		return v
	}
	return map[string]any{}
}
