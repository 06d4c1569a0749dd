package projection

import (
	v1 "github.com/aevon-lab/event-aggregator/internal/api/v1"
	"github.com/shopspring/decimal"
)

// EventsResponse is the body of GET /events.
type EventsResponse struct {
	Events      []*v1.Event `json:"events"`
	Count       int         `json:"count"`
	TopicFilter *string     `json:"topic_filter"`
	Limit       int         `json:"limit"`
}

// StatsResponse is the body of GET /stats: the stored counters plus values
// derived at read time.
type StatsResponse struct {
	v1.Stats
	DuplicateRatio decimal.Decimal `json:"duplicate_ratio"`
	UptimeSeconds  float64         `json:"uptime_seconds"`
	QueueLength    int64           `json:"queue_length"`
}
