package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const healthPollInterval = 2 * time.Second

// Report summarizes a finished run.
type Report struct {
	Sent            int64
	Duplicates      int64
	Batches         int64
	FailedBatches   int64
	Elapsed         time.Duration
	EventsPerSecond float64
	Final           *StatsResult
}

// Publisher drives one scenario against one aggregator.
type Publisher struct {
	scenario  Scenario
	client    *Client
	generator *Generator

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(sc Scenario, client *Client) *Publisher {
	return &Publisher{
		scenario:  sc,
		client:    client,
		generator: NewGenerator(sc.Topics, sc.DuplicateRate, sc.Seed),
		sleep:     sleepCtx,
	}
}

// WaitReady polls /health until it answers 200 or timeout elapses.
func (p *Publisher) WaitReady(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for attempt := 1; ; attempt++ {
		if p.client.Healthy(ctx) {
			slog.Info("[Publisher] Aggregator is ready")
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("aggregator not ready after %s", timeout)
		}
		slog.Info("[Publisher] Waiting for aggregator...", "attempt", attempt)
		if err := p.sleep(ctx, healthPollInterval); err != nil {
			return err
		}
	}
}

// Run waits for the aggregator, sends every batch with bounded concurrency,
// waits for the consumer to settle and reads the final stats. Failed batches
// are logged and counted, not retried.
func (p *Publisher) Run(ctx context.Context) (*Report, error) {
	healthTimeout, settleDelay, batchInterval := p.scenario.durations()

	if err := p.WaitReady(ctx, healthTimeout); err != nil {
		return nil, err
	}

	slog.Info("[Publisher] Starting simulation",
		"target", p.scenario.TargetURL,
		"total_events", p.scenario.TotalEvents,
		"duplicate_rate", p.scenario.DuplicateRate,
		"batch_size", p.scenario.BatchSize,
		"concurrency", p.scenario.Concurrency)

	var report Report
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.scenario.Concurrency)

	for remaining := p.scenario.TotalEvents; remaining > 0; {
		if gctx.Err() != nil {
			break
		}

		n := min(p.scenario.BatchSize, remaining)
		remaining -= n
		events, dups := p.generator.Batch(n)

		g.Go(func() error {
			res, err := p.client.PublishBatch(gctx, events)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				report.addFailure()
				slog.Error("[Publisher] Batch failed", "error", err, "size", len(events))
				return nil
			}

			sent := report.addBatch(int64(len(events)), int64(dups))
			if sent%1000 < int64(len(events)) {
				slog.Info("[Publisher] Progress",
					"sent", sent,
					"total", p.scenario.TotalEvents,
					"mode", res.Mode)
			}
			return nil
		})

		if batchInterval > 0 {
			if err := p.sleep(gctx, batchInterval); err != nil {
				break
			}
		}
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report.Elapsed = time.Since(start)
	if secs := report.Elapsed.Seconds(); secs > 0 {
		report.EventsPerSecond = float64(report.Sent) / secs
	}

	slog.Info("[Publisher] Simulation completed",
		"sent", report.Sent,
		"duplicates", report.Duplicates,
		"batches", report.Batches,
		"failed_batches", report.FailedBatches,
		"elapsed", report.Elapsed.Round(time.Millisecond),
		"events_per_second", fmt.Sprintf("%.1f", report.EventsPerSecond))

	if err := p.sleep(ctx, settleDelay); err != nil {
		return &report, err
	}

	stats, err := p.client.Stats(ctx)
	if err != nil {
		slog.Error("[Publisher] Failed to get final stats", "error", err)
		return &report, nil
	}
	report.Final = stats
	return &report, nil
}

func (r *Report) addBatch(events, dups int64) int64 {
	atomic.AddInt64(&r.Batches, 1)
	atomic.AddInt64(&r.Duplicates, dups)
	return atomic.AddInt64(&r.Sent, events)
}

func (r *Report) addFailure() {
	atomic.AddInt64(&r.FailedBatches, 1)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
