package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aevon-lab/event-aggregator/internal/buffer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFO(t *testing.T) {
	ctx := context.Background()
	q := New()

	require.NoError(t, q.Push(ctx, []byte("a")))
	require.NoError(t, q.PushBatch(ctx, [][]byte{[]byte("b"), []byte("c")}))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Pop(ctx, 10*time.Millisecond)
		require.NoError(t, err)
		require.Equal(t, want, string(got))
	}
}

func TestQueue_PopTimesOutWhenEmpty(t *testing.T) {
	q := New()

	start := time.Now()
	_, err := q.Pop(context.Background(), 30*time.Millisecond)
	require.ErrorIs(t, err, buffer.ErrEmpty)
	require.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestQueue_PopWakesOnPush(t *testing.T) {
	q := New()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = q.Push(context.Background(), []byte("late"))
	}()

	got, err := q.Pop(context.Background(), time.Second)
	require.NoError(t, err)
	require.Equal(t, "late", string(got))
}

func TestQueue_PopHonoursContext(t *testing.T) {
	q := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Pop(ctx, time.Second)
	require.ErrorIs(t, err, context.Canceled)
}

func TestQueue_PushCopiesItem(t *testing.T) {
	q := New()
	item := []byte("abc")
	require.NoError(t, q.Push(context.Background(), item))
	item[0] = 'z'

	got, err := q.Pop(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, "abc", string(got))
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	ctx := context.Background()
	q := New()

	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				assert.NoError(t, q.Push(ctx, []byte(fmt.Sprintf("%d-%d", p, i))))
			}
		}(p)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for {
		item, err := q.Pop(ctx, 5*time.Millisecond)
		if err != nil {
			require.ErrorIs(t, err, buffer.ErrEmpty)
			break
		}
		require.False(t, seen[string(item)], "duplicate item %s", item)
		seen[string(item)] = true
	}
	require.Len(t, seen, 200)
}

func TestQueue_Close(t *testing.T) {
	ctx := context.Background()
	q := New()
	require.NoError(t, q.Push(ctx, []byte("a")))
	require.NoError(t, q.Close())

	require.Error(t, q.Ping(ctx))
	require.Error(t, q.Push(ctx, []byte("b")))
	_, err := q.Pop(ctx, 10*time.Millisecond)
	require.Error(t, err)
}
