package state

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStores_Snapshots(t *testing.T) {
	s := New()
	ts := time.Unix(1700000000, 0)

	s.SetSkills([]any{map[string]any{"nam": "Auto Attack"}}, ts)
	s.SetSkills([]any{map[string]any{"nam": "Fireball"}}, ts.Add(time.Second))

	sk := s.Skills()
	assert.Equal(t, ts.Add(time.Second), sk.Timestamp)
	assert.Equal(t, []any{map[string]any{"nam": "Fireball"}}, sk.Skills)

	s.SetItems(map[string]any{"ItemID": "9"}, ts)
	assert.Equal(t, map[string]any{"ItemID": "9"}, s.Items().Items)
}

func TestStores_AurasUpsert(t *testing.T) {
	s := New()
	ts := time.Unix(1700000000, 0)
	s.UpsertAura("Mana Shield", []any{map[string]any{"sta": "DEF", "val": float64(5)}}, ts)
	s.UpsertAura("Mana Shield", []any{map[string]any{"sta": "DEF", "val": float64(9)}}, ts)
	s.UpsertAura("Berserk", nil, ts)

	auras := s.Auras()
	require.Len(t, auras, 2)
	assert.Equal(t, float64(9), auras["Mana Shield"].Effects[0].(map[string]any)["val"])
}

func TestStores_ReturnsCopies(t *testing.T) {
	s := New()
	ts := time.Now()
	s.UpsertAura("a", []any{map[string]any{"v": "x"}}, ts)
	s.AppendStats(map[string]any{"STR": float64(1)}, ts)
	s.AppendDeath(map[string]any{"gold": float64(5)}, ts)

	auras := s.Auras()
	auras["a"].Effects[0].(map[string]any)["v"] = "mutated"
	delete(auras, "a")

	st, ok := s.LatestStats()
	require.True(t, ok)
	st.Stats.(map[string]any)["STR"] = float64(99)

	deaths := s.RecentDeaths(10)
	deaths[0].Object["gold"] = float64(0)

	assert.Equal(t, "x", s.Auras()["a"].Effects[0].(map[string]any)["v"])
	st, _ = s.LatestStats()
	assert.Equal(t, float64(1), st.Stats.(map[string]any)["STR"])
	assert.Equal(t, float64(5), s.RecentDeaths(1)[0].Object["gold"])
}

func TestStores_Logs(t *testing.T) {
	s := New()
	ts := time.Now()
	for i := 0; i < 5; i++ {
		s.AppendRaw(fmt.Sprint(i))
		s.AppendDrop(map[string]any{"i": float64(i)}, ts)
	}
	s.AppendAddedItem(map[string]any{"id": "x"}, ts)

	assert.Equal(t, []string{"2", "3", "4"}, s.RecentRaw(3))
	assert.Equal(t, []string{"0", "1", "2", "3", "4"}, s.RecentRaw(100))
	assert.Nil(t, s.RecentRaw(0))

	drops := s.RecentDrops(2)
	require.Len(t, drops, 2)
	assert.Equal(t, float64(3), drops[0].Object["i"])
	assert.Len(t, s.RecentAddedItems(5), 1)
	assert.Nil(t, s.RecentDeaths(5))
}

func TestStores_LatestStatsEmpty(t *testing.T) {
	s := New()
	_, ok := s.LatestStats()
	assert.False(t, ok)

	s.AppendStats(map[string]any{"n": float64(1)}, time.Now())
	s.AppendStats(map[string]any{"n": float64(2)}, time.Now())
	st, ok := s.LatestStats()
	require.True(t, ok)
	assert.Equal(t, float64(2), st.Stats.(map[string]any)["n"])
	assert.Equal(t, 2, s.StatHistoryLen())
}
