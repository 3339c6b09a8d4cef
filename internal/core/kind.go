package core

import (
	"fmt"
	"strings"
)

// PacketKind classifies a protocol message by its command code.
type PacketKind uint8

const (
	KindUnknown PacketKind = iota
	KindAuraPassive
	KindSkillData
	KindStatUpdate
	KindItemUpdate
	KindCombat
	KindAddItem
	KindDropItem
	KindMonsterDeath

	numKinds
)

// NumKinds is the size of the closed kind set.
const NumKinds = int(numKinds)

var kindNames = [numKinds]string{
	KindUnknown:      "unknown",
	KindAuraPassive:  "aura_passive",
	KindSkillData:    "skill_data",
	KindStatUpdate:   "stat_update",
	KindItemUpdate:   "item_update",
	KindCombat:       "combat",
	KindAddItem:      "add_item",
	KindDropItem:     "drop_item",
	KindMonsterDeath: "monster_death",
}

// String returns the snake_case name used in configuration and sinks.
func (k PacketKind) String() string {
	if k.Valid() {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Valid reports whether k belongs to the closed set.
func (k PacketKind) Valid() bool {
	return k < numKinds
}

// Kinds returns every kind in declaration order.
func Kinds() []PacketKind {
	out := make([]PacketKind, 0, NumKinds)
	for k := PacketKind(0); k < numKinds; k++ {
		out = append(out, k)
	}
	return out
}

// ParseKind resolves a kind name (case-insensitive, '-' and '_' interchangeable).
func ParseKind(name string) (PacketKind, error) {
	n := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	for k, s := range kindNames {
		if s == n {
			return PacketKind(k), nil
		}
	}
	return KindUnknown, fmt.Errorf("%w: %q", ErrUnknownKind, name)
}
