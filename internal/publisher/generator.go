package publisher

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	v1 "github.com/aevon-lab/event-aggregator/internal/api/v1"
	"github.com/google/uuid"
)

var actions = []string{"login", "logout", "view", "click", "purchase", "refund", "search", "upload"}

// Generator produces fresh events and, at the configured rate, re-sends
// events it produced earlier. Safe for concurrent use.
type Generator struct {
	mu            sync.Mutex
	rng           *rand.Rand
	topics        []string
	duplicateRate float64
	published     []v1.RawEvent
	now           func() time.Time
}

func NewGenerator(topics []string, duplicateRate float64, seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{
		rng:           rand.New(rand.NewSource(seed)),
		topics:        topics,
		duplicateRate: duplicateRate,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Next returns one event and whether it repeats an earlier one.
func (g *Generator) Next() (v1.RawEvent, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.published) > 0 && g.rng.Float64() < g.duplicateRate {
		return g.published[g.rng.Intn(len(g.published))], true
	}

	evt := g.fresh()
	g.published = append(g.published, evt)
	return evt, false
}

// Batch returns n events and how many of them are duplicates.
func (g *Generator) Batch(n int) ([]v1.RawEvent, int) {
	events := make([]v1.RawEvent, 0, n)
	dups := 0
	for i := 0; i < n; i++ {
		evt, dup := g.Next()
		if dup {
			dups++
		}
		events = append(events, evt)
	}
	return events, dups
}

func (g *Generator) fresh() v1.RawEvent {
	payload, _ := json.Marshal(map[string]interface{}{
		"user_id": uuid.NewString(),
		"action":  actions[g.rng.Intn(len(actions))],
		"metadata": map[string]interface{}{
			"session_id": uuid.NewString(),
			"attempt":    g.rng.Intn(5) + 1,
		},
	})

	return v1.RawEvent{
		Topic:     g.topics[g.rng.Intn(len(g.topics))],
		EventID:   uuid.NewString(),
		Timestamp: g.now().Format(time.RFC3339Nano),
		Source:    fmt.Sprintf("service_%d", g.rng.Intn(5)+1),
		Payload:   payload,
	}
}
