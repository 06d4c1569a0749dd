// Package memory implements an in-process buffer.Buffer for single-binary
// deployments and tests.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aevon-lab/event-aggregator/internal/buffer"
)

var errClosed = errors.New("memory buffer closed")

// Queue is an unbounded in-memory FIFO. Contents are lost on restart.
type Queue struct {
	mu     sync.Mutex
	items  [][]byte
	closed bool

	// notify holds at most one pending wakeup for a blocked Pop.
	notify chan struct{}
}

func New() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

func (q *Queue) Push(ctx context.Context, item []byte) error {
	return q.PushBatch(ctx, [][]byte{item})
}

// PushBatch appends all items under one lock, so the batch is contiguous.
func (q *Queue) PushBatch(ctx context.Context, items [][]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errClosed
	}
	for _, item := range items {
		q.items = append(q.items, append([]byte(nil), item...))
	}
	q.mu.Unlock()

	q.signal()
	return nil
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		item, ok, err := q.tryPop()
		if err != nil || ok {
			return item, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, buffer.ErrEmpty
		case <-q.notify:
		}
	}
}

func (q *Queue) tryPop() ([]byte, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, false, errClosed
	}
	if len(q.items) == 0 {
		return nil, false, nil
	}
	item := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if len(q.items) > 0 {
		q.signal()
	}
	return item, true, nil
}

func (q *Queue) Len(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}

func (q *Queue) Ping(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errClosed
	}
	return nil
}

// Close drops queued items and wakes any blocked Pop.
func (q *Queue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()

	q.signal()
	return nil
}

var _ buffer.Buffer = (*Queue)(nil)
