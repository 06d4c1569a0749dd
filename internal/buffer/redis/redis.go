// Package redis implements buffer.Buffer on a Redis list: RPUSH to the tail,
// BLPOP from the head.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aevon-lab/event-aggregator/internal/buffer"
	goredis "github.com/redis/go-redis/v9"
)

const connectPingTimeout = 5 * time.Second

// Queue is a Redis-list backed transfer buffer.
type Queue struct {
	client *goredis.Client
	name   string
}

// Dial connects to Redis at url (e.g. "redis://localhost:6379/0") and pings it.
func Dial(url, name string) (*Queue, error) {
	q, err := Open(url, name)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectPingTimeout)
	defer cancel()
	if err := q.Ping(ctx); err != nil {
		q.client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	slog.Info("[Redis] Transfer buffer connected", "addr", q.client.Options().Addr, "queue", q.name)
	return q, nil
}

// Open builds a client for url without contacting the server. Connections
// are made on first use.
func Open(url, name string) (*Queue, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return New(goredis.NewClient(opts), name), nil
}

// New wraps an existing client.
func New(client *goredis.Client, name string) *Queue {
	if name == "" {
		name = buffer.DefaultQueue
	}
	return &Queue{client: client, name: name}
}

func (q *Queue) Push(ctx context.Context, item []byte) error {
	if err := q.client.RPush(ctx, q.name, item).Err(); err != nil {
		return fmt.Errorf("redis rpush: %w", err)
	}
	return nil
}

// PushBatch sends all items in a single RPUSH, so the batch lands atomically.
func (q *Queue) PushBatch(ctx context.Context, items [][]byte) error {
	if len(items) == 0 {
		return nil
	}
	values := make([]interface{}, len(items))
	for i, item := range items {
		values[i] = item
	}
	if err := q.client.RPush(ctx, q.name, values...).Err(); err != nil {
		return fmt.Errorf("redis rpush batch: %w", err)
	}
	return nil
}

func (q *Queue) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	res, err := q.client.BLPop(ctx, timeout, q.name).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, buffer.ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("redis blpop: %w", err)
	}
	// BLPOP replies with [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("redis blpop: unexpected reply of length %d", len(res))
	}
	return []byte(res[1]), nil
}

func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.name).Result()
	if err != nil {
		return 0, fmt.Errorf("redis llen: %w", err)
	}
	return n, nil
}

func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *Queue) Close() error {
	return q.client.Close()
}
