package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	v1 "github.com/aevon-lab/event-aggregator/internal/api/v1"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// isUniqueViolation reports whether err is a unique constraint violation from
// either supported driver (lib/pq or pgx).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return false
}

// naiveUTC strips the zone after converting to UTC, matching the
// TIMESTAMP (without time zone) columns.
func naiveUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), u.Minute(), u.Second(), u.Nanosecond(), time.UTC)
}

// payloadText returns the payload as a JSON string parameter.
// A missing payload is stored as JSON null.
func payloadText(payload json.RawMessage) string {
	if len(payload) == 0 {
		return "null"
	}
	return string(payload)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanEventRow scans one processed_events row.
// Compatible with both sql.Row (single) and sql.Rows (multiple).
func scanEventRow(row scanner) (*v1.Event, error) {
	var evt v1.Event
	var payload []byte

	err := row.Scan(
		&evt.Topic,
		&evt.EventID,
		&evt.Timestamp,
		&evt.Source,
		&payload,
		&evt.ProcessedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan event row: %w", err)
	}

	if !json.Valid(payload) {
		return nil, fmt.Errorf("stored payload for %s/%s is not valid JSON", evt.Topic, evt.EventID)
	}
	evt.Payload = json.RawMessage(payload)
	evt.Timestamp = evt.Timestamp.UTC()
	evt.ProcessedAt = evt.ProcessedAt.UTC()

	return &evt, nil
}
