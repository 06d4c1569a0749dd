package v1

import (
	"time"

	"github.com/shopspring/decimal"
)

// Stats is the singleton aggregate-counters row.
//
// Once in-flight work drains, ReceivedCount equals
// UniqueProcessedCount + DuplicateDroppedCount.
type Stats struct {
	ReceivedCount         int64     `json:"received_count"`
	UniqueProcessedCount  int64     `json:"unique_processed_count"`
	DuplicateDroppedCount int64     `json:"duplicate_dropped_count"`
	TopicsCount           int64     `json:"topics_count"`
	LastUpdated           time.Time `json:"last_updated"`
}

// DuplicateRatio returns duplicate_dropped / received rounded to 4 places,
// or zero before anything has been received.
func (s Stats) DuplicateRatio() decimal.Decimal {
	if s.ReceivedCount == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(s.DuplicateDroppedCount).
		DivRound(decimal.NewFromInt(s.ReceivedCount), 4)
}
