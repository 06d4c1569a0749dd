//go:build integration

package amqp

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/aevon-lab/event-aggregator/internal/buffer"
	"github.com/stretchr/testify/require"
)

// liveQueue connects to AGGREGATOR_TEST_AMQP_URL on a fresh queue name.
func liveQueue(t *testing.T) *Queue {
	t.Helper()

	url := os.Getenv("AGGREGATOR_TEST_AMQP_URL")
	if url == "" {
		t.Skip("AGGREGATOR_TEST_AMQP_URL not set")
	}

	name := fmt.Sprintf("aggregator_test_%d", time.Now().UnixNano())
	q, err := Dial(url, name, 0)
	require.NoError(t, err)
	q.pollInterval = 10 * time.Millisecond

	t.Cleanup(func() {
		if q.sess != nil {
			q.sess.publish.QueueDelete(name, false, false, false) //nolint:errcheck
		}
		q.Close()
	})
	return q
}

func TestQueue_FIFOAcrossPushAndPushBatch(t *testing.T) {
	q := liveQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, []byte("a")))
	require.NoError(t, q.PushBatch(ctx, [][]byte{[]byte("b"), []byte("c")}))
	require.NoError(t, q.Push(ctx, []byte("d")))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 4, n)

	for _, want := range []string{"a", "b", "c", "d"} {
		got, err := q.Pop(ctx, time.Second)
		require.NoError(t, err)
		require.Equal(t, want, string(got))
	}

	n, err = q.Len(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestQueue_PopTimesOutOnEmptyQueue(t *testing.T) {
	q := liveQueue(t)

	start := time.Now()
	_, err := q.Pop(context.Background(), 150*time.Millisecond)
	require.ErrorIs(t, err, buffer.ErrEmpty)
	require.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestQueue_ReconnectsAfterConnectionDrops(t *testing.T) {
	q := liveQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, []byte("before")))

	q.mu.Lock()
	dropped := q.sess
	q.mu.Unlock()
	require.NoError(t, dropped.conn.Close())

	require.NoError(t, q.Push(ctx, []byte("after")))

	q.mu.Lock()
	require.NotSame(t, dropped, q.sess)
	q.mu.Unlock()

	for _, want := range []string{"before", "after"} {
		got, err := q.Pop(ctx, time.Second)
		require.NoError(t, err)
		require.Equal(t, want, string(got))
	}
}
