package event

import (
	"time"

	"github.com/google/uuid"
)

// Kind defines the kind of telemetry event.
type Kind string

const (
	KindMeasurement Kind = "MEASUREMENT"
	KindAlert       Kind = "ALERT"
)

// Event is a single telemetry event bound for the remote ingestion service.
// Events are immutable once created; ownership moves from the collector to
// the shipper and ends at either a remote ack or a backlog record.
type Event struct {
	ID        string         `json:"id"`
	Channel   string         `json:"channel"`
	Kind      Kind           `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

// New creates an event with a fresh opaque id and a UTC timestamp.
func New(channel string, kind Kind, payload map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		Channel:   channel,
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// Record is an event held in the local backlog until it is confirmed
// delivered. AttemptCount counts resync delivery attempts; the synced state
// itself is tracked by the backlog store, not on the record.
type Record struct {
	Event
	AttemptCount int `json:"synced_attempt_count"`
}
