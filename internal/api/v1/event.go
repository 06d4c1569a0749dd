package v1

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxFieldLength bounds topic, event_id and source, counted in characters.
const MaxFieldLength = 255

// RawEvent is the wire shape of one event as submitted by callers and as
// carried through the transfer buffer.
type RawEvent struct {
	Topic     string          `json:"topic"`
	EventID   string          `json:"event_id"`
	Timestamp string          `json:"timestamp"`
	Source    string          `json:"source"`
	Payload   json.RawMessage `json:"payload"`
}

// Event is a validated, normalized event.
// The pair (Topic, EventID) is its identity key.
type Event struct {
	// Topic is the caller-defined namespace.
	Topic string `json:"topic"`

	// EventID identifies the event within its topic.
	EventID string `json:"event_id"`

	// Timestamp is the caller-supplied event time, always in UTC.
	Timestamp time.Time `json:"timestamp"`

	// Source labels where the event came from.
	Source string `json:"source"`

	// Payload is stored and returned as-is. JSON null is a valid payload.
	Payload json.RawMessage `json:"payload"`

	// ProcessedAt is assigned by the store when the event is first recorded.
	// It is zero for events that have not been stored yet.
	ProcessedAt time.Time `json:"processed_at,omitzero"`
}

// Key returns the identity key "topic/event_id", used for logging.
func (e *Event) Key() string {
	return e.Topic + "/" + e.EventID
}

// Raw converts a normalized event back to its wire shape.
func (e *Event) Raw() RawEvent {
	return RawEvent{
		Topic:     e.Topic,
		EventID:   e.EventID,
		Timestamp: e.Timestamp.Format(time.RFC3339Nano),
		Source:    e.Source,
		Payload:   e.Payload,
	}
}

// ValidationError reports a malformed submission.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// Normalize validates the raw event and returns its normalized form.
// topic, event_id and source are trimmed; the payload passes through unchanged.
// Errors are always *ValidationError.
func (r RawEvent) Normalize() (*Event, error) {
	topic, err := requireField("topic", r.Topic)
	if err != nil {
		return nil, err
	}
	eventID, err := requireField("event_id", r.EventID)
	if err != nil {
		return nil, err
	}
	source, err := requireField("source", r.Source)
	if err != nil {
		return nil, err
	}

	ts, err := ParseTimestamp(r.Timestamp)
	if err != nil {
		return nil, &ValidationError{Field: "timestamp", Reason: "must be an ISO-8601 timestamp"}
	}

	if r.Payload == nil {
		return nil, &ValidationError{Field: "payload", Reason: "is required"}
	}
	if !json.Valid(r.Payload) {
		return nil, &ValidationError{Field: "payload", Reason: "must be valid JSON"}
	}
	if !utf8.Valid(r.Payload) {
		return nil, &ValidationError{Field: "payload", Reason: "must be valid UTF-8"}
	}
	if containsNUL(r.Payload) {
		return nil, &ValidationError{Field: "payload", Reason: "must not contain \\u0000"}
	}

	return &Event{
		Topic:     topic,
		EventID:   eventID,
		Timestamp: ts,
		Source:    source,
		Payload:   r.Payload,
	}, nil
}

// containsNUL reports whether any string or key in a valid JSON document
// decodes to a NUL character, which JSONB cannot store.
func containsNUL(payload []byte) bool {
	if !bytes.Contains(payload, []byte(`\u0000`)) {
		return false
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	for {
		tok, err := dec.Token()
		if err != nil {
			return false
		}
		if s, ok := tok.(string); ok && strings.IndexByte(s, 0) >= 0 {
			return true
		}
	}
}

func requireField(name, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", &ValidationError{Field: name, Reason: "is required"}
	}
	if utf8.RuneCountInString(trimmed) > MaxFieldLength {
		return "", &ValidationError{
			Field:  name,
			Reason: fmt.Sprintf("must be at most %d characters", MaxFieldLength),
		}
	}
	return trimmed, nil
}

// Accepted ISO-8601 layouts. Go's parser accepts fractional seconds after the
// seconds field even when the layout omits them.
var timestampLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTimestamp parses an ISO-8601 timestamp with a trailing "Z", a numeric
// offset, or no offset at all (read as UTC). The result is always UTC.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}
