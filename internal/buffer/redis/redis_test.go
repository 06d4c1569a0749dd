package redis

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aevon-lab/event-aggregator/internal/buffer"
	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()

	srv := miniredis.RunT(t)
	q := New(goredis.NewClient(&goredis.Options{Addr: srv.Addr()}), "")
	t.Cleanup(func() { q.Close() })
	return q, srv
}

func TestQueue_FIFO(t *testing.T) {
	ctx := context.Background()
	q, srv := newTestQueue(t)

	require.NoError(t, q.Push(ctx, []byte("a")))
	require.NoError(t, q.PushBatch(ctx, [][]byte{[]byte("b"), []byte("c")}))

	// Items land on the shared queue key, head first.
	items, err := srv.List(buffer.DefaultQueue)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, items)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)

	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Pop(ctx, time.Second)
		require.NoError(t, err)
		require.Equal(t, want, string(got))
	}
}

func TestQueue_PopEmptyTimesOut(t *testing.T) {
	q, _ := newTestQueue(t)

	_, err := q.Pop(context.Background(), time.Second)
	require.ErrorIs(t, err, buffer.ErrEmpty)
}

func TestQueue_ConcurrentPushesAllArrive(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	const producers, perProducer = 8, 25
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_ = q.Push(ctx, []byte(fmt.Sprintf("%d-%d", p, i)))
			}
		}(p)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for {
		item, err := q.Pop(ctx, time.Second)
		if err == buffer.ErrEmpty {
			break
		}
		require.NoError(t, err)
		require.False(t, seen[string(item)], "item %s popped twice", item)
		seen[string(item)] = true
	}
	require.Len(t, seen, producers*perProducer)
}

func TestQueue_UnreachableServer(t *testing.T) {
	ctx := context.Background()
	q, srv := newTestQueue(t)
	srv.Close()

	require.Error(t, q.Push(ctx, []byte("a")))
	_, err := q.Pop(ctx, time.Second)
	require.Error(t, err)
	require.NotErrorIs(t, err, buffer.ErrEmpty)
	require.Error(t, q.Ping(ctx))
}

func TestDial_InvalidURL(t *testing.T) {
	_, err := Dial("not a url", "")
	require.ErrorContains(t, err, "invalid redis url")
}

func TestDial_PingsServer(t *testing.T) {
	srv := miniredis.RunT(t)

	q, err := Dial("redis://"+srv.Addr()+"/0", "ingest")
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	require.NoError(t, q.Push(context.Background(), []byte("a")))
	items, err := srv.List("ingest")
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, items)
}

func TestOpen_DoesNotContactServer(t *testing.T) {
	srv := miniredis.RunT(t)
	addr := srv.Addr()
	srv.Close()

	q, err := Open("redis://"+addr+"/0", "")
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	require.Error(t, q.Ping(context.Background()))
}
