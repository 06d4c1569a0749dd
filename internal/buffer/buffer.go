// Package buffer defines the transfer buffer that decouples event submission
// from processing. Producers append serialized events; a single consumer
// removes them from the head.
package buffer

import (
	"context"
	"errors"
	"time"
)

// DefaultQueue is the queue name shared by producers and the consumer.
const DefaultQueue = "event_queue"

// ErrEmpty is returned by Pop when no item arrived before the timeout.
var ErrEmpty = errors.New("buffer: no item before timeout")

// Buffer is a FIFO queue of serialized events.
type Buffer interface {
	// Push appends one item to the tail. Safe for concurrent producers.
	Push(ctx context.Context, item []byte) error

	// PushBatch appends items to the tail in order, in as few round-trips as
	// the backend allows.
	PushBatch(ctx context.Context, items [][]byte) error

	// Pop removes the head item, waiting up to timeout. It returns ErrEmpty
	// when the timeout elapses with the queue still empty.
	Pop(ctx context.Context, timeout time.Duration) ([]byte, error)

	// Len returns the approximate queue depth, for observability only.
	Len(ctx context.Context) (int64, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}
