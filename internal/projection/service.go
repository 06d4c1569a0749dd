package projection

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/aevon-lab/event-aggregator/internal/core/storage"
	"golang.org/x/sync/singleflight"
)

const statsKey = "stats"

// QueueDepth reports the transfer buffer depth. buffer.Buffer satisfies it.
type QueueDepth interface {
	Len(ctx context.Context) (int64, error)
}

// Service implements the read side: the event listing and the stats view.
type Service struct {
	store     storage.EventStore
	queue     QueueDepth
	startedAt time.Time
	nowFn     func() time.Time

	statsGroup singleflight.Group // Dedupe concurrent stats reads
}

// NewService creates a new projection service. queue may be nil when the
// aggregator runs without a buffer.
func NewService(store storage.EventStore, queue QueueDepth, startedAt time.Time) *Service {
	if store == nil {
		panic("projection: store must not be nil")
	}
	return &Service{
		store:     store,
		queue:     queue,
		startedAt: startedAt,
		nowFn: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// ListEvents returns stored events newest first.
// An empty topic lists all topics; limit is clamped to [1, storage.MaxListLimit].
func (s *Service) ListEvents(ctx context.Context, topic string, limit int) (*EventsResponse, error) {
	limit = storage.ClampLimit(limit)

	events, err := s.store.ListEvents(ctx, topic, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	resp := &EventsResponse{
		Events: events,
		Count:  len(events),
		Limit:  limit,
	}
	if topic != "" {
		resp.TopicFilter = &topic
	}
	return resp, nil
}

// Stats returns the counters with the derived ratio, uptime and queue depth.
// Concurrent callers share one store read.
func (s *Service) Stats(ctx context.Context) (*StatsResponse, error) {
	v, err, shared := s.statsGroup.Do(statsKey, func() (interface{}, error) {
		return s.loadStats(ctx)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		slog.Debug("[Projection] Stats read shared with concurrent caller")
	}

	resp := *v.(*StatsResponse)
	return &resp, nil
}

func (s *Service) loadStats(ctx context.Context) (*StatsResponse, error) {
	stats, err := s.store.GetStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}

	uptime := s.nowFn().Sub(s.startedAt).Seconds()

	resp := &StatsResponse{
		Stats:          *stats,
		DuplicateRatio: stats.DuplicateRatio(),
		UptimeSeconds:  math.Round(uptime*100) / 100,
	}

	if s.queue != nil {
		n, err := s.queue.Len(ctx)
		if err != nil {
			slog.Warn("[Projection] Failed to read queue length", "error", err)
		} else {
			resp.QueueLength = n
		}
	}
	return resp, nil
}
