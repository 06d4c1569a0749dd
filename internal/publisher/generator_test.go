package publisher

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerator_FreshEventsAreValid(t *testing.T) {
	g := NewGenerator([]string{"a", "b"}, 0, 1)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		raw, dup := g.Next()
		require.False(t, dup)

		evt, err := raw.Normalize()
		require.NoError(t, err)
		require.Contains(t, []string{"a", "b"}, evt.Topic)
		require.False(t, seen[evt.Key()])
		seen[evt.Key()] = true

		var payload map[string]interface{}
		require.NoError(t, json.Unmarshal(evt.Payload, &payload))
		require.Contains(t, payload, "user_id")
	}
}

func TestGenerator_DuplicatesRepeatEarlierEvents(t *testing.T) {
	g := NewGenerator([]string{"t"}, 0.3, 42)

	events, dups := g.Batch(2000)
	require.Len(t, events, 2000)

	keys := make(map[string]int)
	for _, e := range events {
		keys[e.Topic+"/"+e.EventID]++
	}
	require.Equal(t, 2000-dups, len(keys))

	// 30% +/- a generous margin for a fixed seed.
	require.InDelta(t, 600, dups, 120)
}

func TestGenerator_FirstEventIsNeverDuplicate(t *testing.T) {
	g := NewGenerator([]string{"t"}, 0.99, 7)
	_, dup := g.Next()
	require.False(t, dup)
}
