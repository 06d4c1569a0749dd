// Package consumer drains the transfer buffer into the event store.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	v1 "github.com/aevon-lab/event-aggregator/internal/api/v1"
	"github.com/aevon-lab/event-aggregator/internal/buffer"
	"github.com/aevon-lab/event-aggregator/internal/core/storage"
)

const defaultPopTimeout = time.Second

// Options tunes the consumer loop. Zero values take defaults.
type Options struct {
	PopTimeout     time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Stats is a snapshot of what the consumer has handled since start.
type Stats struct {
	Processed  int64 `json:"processed"`
	Duplicates int64 `json:"duplicates"`
	Failures   int64 `json:"failures"`
}

// Consumer is the single worker that pops serialized events from the buffer
// and runs them through the store. Items are handled one at a time.
type Consumer struct {
	buf        buffer.Buffer
	store      storage.EventStore
	popTimeout time.Duration
	backoff    Backoff

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error

	processed  atomic.Int64
	duplicates atomic.Int64
	failures   atomic.Int64
}

func New(buf buffer.Buffer, store storage.EventStore, opts Options) *Consumer {
	if buf == nil {
		panic("consumer: buffer must not be nil")
	}
	if store == nil {
		panic("consumer: store must not be nil")
	}
	if opts.PopTimeout <= 0 {
		opts.PopTimeout = defaultPopTimeout
	}
	return &Consumer{
		buf:        buf,
		store:      store,
		popTimeout: opts.PopTimeout,
		backoff:    Backoff{Initial: opts.InitialBackoff, Max: opts.MaxBackoff},
		sleep:      sleepCtx,
	}
}

// Run loops until ctx is cancelled, then returns nil.
// Per-item failures are logged and counted; buffer failures back off and retry.
func (c *Consumer) Run(ctx context.Context) error {
	slog.Info("[Consumer] Starting", "pop_timeout", c.popTimeout)

	for {
		if ctx.Err() != nil {
			c.logStopped()
			return nil
		}

		item, err := c.buf.Pop(ctx, c.popTimeout)
		switch {
		case err == nil:
			c.backoff.Reset()
			// The store call is not cancelled by shutdown so an in-flight
			// transaction either commits or fails on its own.
			c.handle(context.WithoutCancel(ctx), item)

		case errors.Is(err, buffer.ErrEmpty):
			c.backoff.Reset()

		case ctx.Err() != nil:
			c.logStopped()
			return nil

		default:
			delay := c.backoff.Next()
			slog.Error("[Consumer] Buffer pop failed, backing off", "error", err, "delay", delay)
			if err := c.sleep(ctx, delay); err != nil {
				c.logStopped()
				return nil
			}
		}
	}
}

func (c *Consumer) handle(ctx context.Context, item []byte) {
	var raw v1.RawEvent
	if err := json.Unmarshal(item, &raw); err != nil {
		c.failures.Add(1)
		slog.Error("[Consumer] Dropping undecodable item", "error", err, "size", len(item))
		return
	}

	evt, err := raw.Normalize()
	if err != nil {
		c.failures.Add(1)
		slog.Error("[Consumer] Dropping invalid event", "error", err, "topic", raw.Topic, "event_id", raw.EventID)
		return
	}

	isNew, err := c.store.Process(ctx, evt)
	if err != nil {
		c.failures.Add(1)
		slog.Error("[Consumer] Failed to process event", "error", err, "key", evt.Key())
		return
	}

	if isNew {
		c.processed.Add(1)
		slog.Debug("[Consumer] Event processed", "key", evt.Key())
	} else {
		c.duplicates.Add(1)
		slog.Info("[Consumer] Duplicate event dropped", "key", evt.Key())
	}
}

// Stats returns the consumer's running counters.
func (c *Consumer) Stats() Stats {
	return Stats{
		Processed:  c.processed.Load(),
		Duplicates: c.duplicates.Load(),
		Failures:   c.failures.Load(),
	}
}

func (c *Consumer) logStopped() {
	s := c.Stats()
	slog.Info("[Consumer] Stopping (context cancelled)",
		"processed", s.Processed,
		"duplicates", s.Duplicates,
		"failures", s.Failures)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
