package storage

import (
	"context"
	"errors"

	v1 "github.com/aevon-lab/event-aggregator/internal/api/v1"
)

// ErrDuplicate is returned by adapter internals when the (topic, event_id)
// identity already exists. EventStore.Process maps it to processed=false.
var ErrDuplicate = errors.New("event already exists")

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// EventStore owns the event ledger and the aggregate counters row.
type EventStore interface {
	// Process records the event exactly once per (topic, event_id) and updates
	// the counters. It returns true for a new event and false for a duplicate.
	// Any other failure is returned as an error and nothing is counted.
	Process(ctx context.Context, event *v1.Event) (bool, error)

	// ListEvents returns stored events, most recently processed first.
	// An empty topic matches all topics. limit is clamped with ClampLimit.
	ListEvents(ctx context.Context, topic string, limit int) ([]*v1.Event, error)

	// GetStats returns the current counters.
	GetStats(ctx context.Context) (*v1.Stats, error)

	// Ping verifies connectivity to the backing store.
	Ping(ctx context.Context) error
}

// ClampLimit bounds a list limit to [1, MaxListLimit], defaulting when unset.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
