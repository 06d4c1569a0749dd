package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	v1 "github.com/aevon-lab/event-aggregator/internal/api/v1"
	"github.com/aevon-lab/event-aggregator/internal/buffer"
	"github.com/aevon-lab/event-aggregator/internal/buffer/memory"
	memstore "github.com/aevon-lab/event-aggregator/internal/core/storage/memory"
	storagemocks "github.com/aevon-lab/event-aggregator/internal/mocks/storage"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func encode(t *testing.T, topic, eventID string) []byte {
	t.Helper()
	b, err := json.Marshal(v1.RawEvent{
		Topic:     topic,
		EventID:   eventID,
		Timestamp: "2024-01-01T00:00:00Z",
		Source:    "test",
		Payload:   json.RawMessage(`{"n":1}`),
	})
	require.NoError(t, err)
	return b
}

// runConsumer starts c in the background and returns a stop func that
// cancels it and waits for Run to return.
func runConsumer(t *testing.T, c *Consumer) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	return func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("consumer did not stop")
		}
	}
}

func TestConsumer_ProcessesQueuedEvents(t *testing.T) {
	ctx := context.Background()
	buf := memory.New()
	store := memstore.NewStore()
	c := New(buf, store, Options{PopTimeout: 20 * time.Millisecond})

	require.NoError(t, buf.PushBatch(ctx, [][]byte{
		encode(t, "t", "e1"),
		encode(t, "t", "e1"),
		encode(t, "u", "e2"),
	}))

	stop := runConsumer(t, c)
	require.Eventually(t, func() bool {
		s := c.Stats()
		return s.Processed+s.Duplicates == 3
	}, 2*time.Second, 5*time.Millisecond)
	stop()

	require.Equal(t, Stats{Processed: 2, Duplicates: 1}, c.Stats())

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, stats.ReceivedCount)
	require.EqualValues(t, 2, stats.UniqueProcessedCount)
	require.EqualValues(t, 1, stats.DuplicateDroppedCount)
	require.EqualValues(t, 2, stats.TopicsCount)
}

func TestConsumer_BadItemsDoNotStopTheLoop(t *testing.T) {
	ctx := context.Background()
	buf := memory.New()
	store := memstore.NewStore()
	c := New(buf, store, Options{PopTimeout: 20 * time.Millisecond})

	require.NoError(t, buf.PushBatch(ctx, [][]byte{
		[]byte("{not json"),
		encode(t, "", "e1"),
		encode(t, "t", "e1"),
	}))

	stop := runConsumer(t, c)
	require.Eventually(t, func() bool {
		return c.Stats().Processed == 1
	}, 2*time.Second, 5*time.Millisecond)
	stop()

	require.EqualValues(t, 2, c.Stats().Failures)
}

func TestConsumer_StoreFailureIsCountedAndSkipped(t *testing.T) {
	ctx := context.Background()
	buf := memory.New()
	store := storagemocks.NewEventStore(t)
	store.EXPECT().
		Process(mock.Anything, mock.MatchedBy(func(e *v1.Event) bool { return e.EventID == "e1" })).
		Return(false, errors.New("connection refused")).
		Once()
	store.EXPECT().
		Process(mock.Anything, mock.MatchedBy(func(e *v1.Event) bool { return e.EventID == "e2" })).
		Return(true, nil).
		Once()

	c := New(buf, store, Options{PopTimeout: 20 * time.Millisecond})
	require.NoError(t, buf.PushBatch(ctx, [][]byte{encode(t, "t", "e1"), encode(t, "t", "e2")}))

	stop := runConsumer(t, c)
	require.Eventually(t, func() bool {
		return c.Stats().Processed == 1
	}, 2*time.Second, 5*time.Millisecond)
	stop()

	require.Equal(t, Stats{Processed: 1, Failures: 1}, c.Stats())
}

func TestConsumer_StoreCallSurvivesShutdown(t *testing.T) {
	buf := memory.New()
	store := storagemocks.NewEventStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	store.EXPECT().
		Process(mock.Anything, mock.Anything).
		RunAndReturn(func(ctx context.Context, _ *v1.Event) (bool, error) {
			cancel()
			return true, ctx.Err()
		}).
		Once()

	c := New(buf, store, Options{PopTimeout: 20 * time.Millisecond})
	require.NoError(t, buf.Push(context.Background(), encode(t, "t", "e1")))

	require.NoError(t, c.Run(ctx))
	require.Equal(t, Stats{Processed: 1}, c.Stats())
}

// flakyBuffer fails the first n pops, then reports empty.
type flakyBuffer struct {
	buffer.Buffer

	mu    sync.Mutex
	fails int
	pops  int
}

func (f *flakyBuffer) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	f.mu.Lock()
	f.pops++
	failing := f.pops <= f.fails
	f.mu.Unlock()

	if failing {
		return nil, errors.New("connection reset by peer")
	}
	time.Sleep(timeout)
	return nil, buffer.ErrEmpty
}

func TestConsumer_BacksOffOnBufferErrors(t *testing.T) {
	buf := &flakyBuffer{Buffer: memory.New(), fails: 4}
	c := New(buf, memstore.NewStore(), Options{
		PopTimeout:     10 * time.Millisecond,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     40 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var delays []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		buf.mu.Lock()
		defer buf.mu.Unlock()
		return buf.pops > buf.fails
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	require.Equal(t, []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
		40 * time.Millisecond,
	}, delays)
}

func TestConsumer_StopsWhileBackingOff(t *testing.T) {
	buf := &flakyBuffer{Buffer: memory.New(), fails: 1 << 30}
	c := New(buf, memstore.NewStore(), Options{InitialBackoff: time.Hour, MaxBackoff: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop during backoff")
	}
}

func TestNew_PanicsOnNilDependencies(t *testing.T) {
	require.Panics(t, func() { New(nil, memstore.NewStore(), Options{}) })
	require.Panics(t, func() { New(memory.New(), nil, Options{}) })
}
