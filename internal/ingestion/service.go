package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	v1 "github.com/aevon-lab/event-aggregator/internal/api/v1"
	"github.com/aevon-lab/event-aggregator/internal/buffer"
	"github.com/aevon-lab/event-aggregator/internal/core/storage"
	"github.com/gin-gonic/gin"
)

const (
	ModeQueued = "queued"
	ModeDirect = "direct"
)

// DefaultPushTimeout bounds a buffer push before Submit falls back to direct
// processing.
const DefaultPushTimeout = 2 * time.Second

// ErrEmptyBatch is returned by Submit for a batch with no events.
var ErrEmptyBatch = errors.New("batch must contain at least one event")

// BatchValidationError reports the first invalid event in a submission.
// Nothing from the batch has been queued or processed.
type BatchValidationError struct {
	Index int
	Err   error
}

func (e *BatchValidationError) Error() string {
	return fmt.Sprintf("event %d: %v", e.Index, e.Err)
}

func (e *BatchValidationError) Unwrap() error {
	return e.Err
}

// Outcome is the per-event result of a submission.
type Outcome struct {
	Topic   string `json:"topic"`
	EventID string `json:"event_id"`
	Status  string `json:"status"`
	// Processed is set in direct mode: true for a new event, false for a duplicate.
	Processed *bool `json:"processed,omitempty"`
}

// SubmitResult summarizes a submission. Processed and Duplicates are only
// counted in direct mode.
type SubmitResult struct {
	Mode       string    `json:"mode"`
	Outcomes   []Outcome `json:"results"`
	Processed  int       `json:"processed"`
	Duplicates int       `json:"duplicates"`
}

// Service is the single ingestion entry point. With a buffer configured it
// hands events to the consumer; without one it processes them inline.
type Service struct {
	store            storage.EventStore
	buf              buffer.Buffer
	maxBodySizeBytes int
	pushTimeout      time.Duration
}

// NewService builds the facade. buf may be nil for direct mode.
func NewService(store storage.EventStore, buf buffer.Buffer, maxBodySizeMB int) *Service {
	if store == nil {
		panic("ingestion: store must not be nil")
	}
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = 1 // default to 1MB
	}
	return &Service{
		store:            store,
		buf:              buf,
		maxBodySizeBytes: maxBodySizeMB * 1024 * 1024,
		pushTimeout:      DefaultPushTimeout,
	}
}

// SetPushTimeout overrides DefaultPushTimeout. Non-positive values are ignored.
func (s *Service) SetPushTimeout(d time.Duration) {
	if d > 0 {
		s.pushTimeout = d
	}
}

// RegisterRoutes registers the ingestion service routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/publish", s.PublishHandler)
	r.POST("/publish/batch", s.PublishBatchHandler)
}

// Submit validates every event, then either queues the batch or processes it
// directly. Validation is all-or-nothing: on the first invalid event a
// *BatchValidationError is returned and nothing is submitted.
//
// A failed push to the buffer falls back to direct processing. In direct mode
// a storage error aborts the remaining events; earlier events stay recorded.
func (s *Service) Submit(ctx context.Context, raws []v1.RawEvent) (*SubmitResult, error) {
	if len(raws) == 0 {
		return nil, ErrEmptyBatch
	}

	events := make([]*v1.Event, len(raws))
	for i, raw := range raws {
		evt, err := raw.Normalize()
		if err != nil {
			return nil, &BatchValidationError{Index: i, Err: err}
		}
		events[i] = evt
	}

	if s.buf != nil {
		res, err := s.enqueue(ctx, events)
		if err == nil {
			return res, nil
		}
		slog.Warn("[Ingestion] Buffer push failed, processing directly",
			"error", err,
			"count", len(events))
	}

	return s.processDirect(ctx, events)
}

func (s *Service) enqueue(ctx context.Context, events []*v1.Event) (*SubmitResult, error) {
	items := make([][]byte, len(events))
	for i, evt := range events {
		b, err := json.Marshal(evt.Raw())
		if err != nil {
			return nil, fmt.Errorf("failed to encode event %s: %w", evt.Key(), err)
		}
		items[i] = b
	}

	pushCtx, cancel := context.WithTimeout(ctx, s.pushTimeout)
	defer cancel()

	if err := s.buf.PushBatch(pushCtx, items); err != nil {
		return nil, err
	}

	res := &SubmitResult{Mode: ModeQueued, Outcomes: make([]Outcome, len(events))}
	for i, evt := range events {
		res.Outcomes[i] = Outcome{Topic: evt.Topic, EventID: evt.EventID, Status: ModeQueued}
	}
	return res, nil
}

func (s *Service) processDirect(ctx context.Context, events []*v1.Event) (*SubmitResult, error) {
	res := &SubmitResult{Mode: ModeDirect, Outcomes: make([]Outcome, 0, len(events))}

	for _, evt := range events {
		isNew, err := s.store.Process(ctx, evt)
		if err != nil {
			return nil, fmt.Errorf("failed to process event %s: %w", evt.Key(), err)
		}

		status := "processed"
		if isNew {
			res.Processed++
		} else {
			res.Duplicates++
			status = "duplicate"
		}
		res.Outcomes = append(res.Outcomes, Outcome{
			Topic:     evt.Topic,
			EventID:   evt.EventID,
			Status:    status,
			Processed: &isNew,
		})
	}
	return res, nil
}
