package memory

import (
	"context"
	"sync"
	"time"

	v1 "github.com/aevon-lab/event-aggregator/internal/api/v1"
	"github.com/aevon-lab/event-aggregator/internal/core/storage"
)

type key struct {
	topic   string
	eventID string
}

// Store is an in-memory implementation of storage.EventStore.
// Useful for testing and development; nothing survives a restart.
type Store struct {
	mu     sync.RWMutex
	events map[key]*v1.Event
	order  []*v1.Event
	topics map[string]struct{}
	stats  v1.Stats
	now    func() time.Time
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		events: make(map[key]*v1.Event),
		topics: make(map[string]struct{}),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Process records the event once per (topic, event_id) and updates counters.
func (s *Store) Process(ctx context.Context, event *v1.Event) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.stats.ReceivedCount++
	s.stats.LastUpdated = now

	k := key{topic: event.Topic, eventID: event.EventID}
	if _, exists := s.events[k]; exists {
		s.stats.DuplicateDroppedCount++
		return false, nil
	}

	// Store a copy to prevent external modification
	stored := *event
	stored.Timestamp = event.Timestamp.UTC()
	stored.Payload = append([]byte(nil), event.Payload...)
	stored.ProcessedAt = now

	s.events[k] = &stored
	s.order = append(s.order, &stored)
	s.topics[stored.Topic] = struct{}{}

	s.stats.UniqueProcessedCount++
	s.stats.TopicsCount = int64(len(s.topics))
	return true, nil
}

// ListEvents returns events newest first, optionally filtered by topic.
func (s *Store) ListEvents(ctx context.Context, topic string, limit int) ([]*v1.Event, error) {
	limit = storage.ClampLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*v1.Event, 0)
	for i := len(s.order) - 1; i >= 0 && len(result) < limit; i-- {
		evt := s.order[i]
		if topic != "" && evt.Topic != topic {
			continue
		}
		out := *evt
		result = append(result, &out)
	}
	return result, nil
}

// GetStats returns a snapshot of the counters.
func (s *Store) GetStats(ctx context.Context) (*v1.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := s.stats
	if stats.LastUpdated.IsZero() {
		stats.LastUpdated = s.now()
	}
	return &stats, nil
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error {
	return nil
}
