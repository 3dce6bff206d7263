package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MaxEventPayloadLen caps a single event payload after JSON encoding.
const MaxEventPayloadLen = 32 * 1024 // 32 KB

// MaxEventsPerBatch caps one ingestion request.
const MaxEventsPerBatch = 500

// ClientEvent is one analytics event from the app: screen views, taps,
// feature usage. Events are append-only and swept by retention.
type ClientEvent struct {
	ID         uuid.UUID      `json:"id"`
	UserID     uuid.UUID      `json:"user_id"`
	EventType  string         `json:"event_type"`
	OccurredAt time.Time      `json:"occurred_at"`
	SessionID  *string        `json:"session_id,omitempty"`
	Payload    map[string]any `json:"payload"`
	CreatedAt  time.Time      `json:"created_at"`
}

// EventInput is a single event in an ingestion batch.
type EventInput struct {
	EventType  string         `json:"event_type"`
	OccurredAt *time.Time     `json:"occurred_at,omitempty"` // defaults to server time
	SessionID  *string        `json:"session_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Validate checks one event submission.
func (in EventInput) Validate() error {
	if err := ValidateEventType(in.EventType); err != nil {
		return err
	}
	if in.SessionID != nil && len(*in.SessionID) > 120 {
		return fmt.Errorf("session_id must be at most 120 characters")
	}
	return nil
}

// ValidateEventType checks that an event type conforms to the allowed format:
// dot-separated snake_case segments, e.g. "screen.home.viewed".
func ValidateEventType(t string) error {
	if len(t) == 0 {
		return fmt.Errorf("event_type is required")
	}
	if len(t) > 120 {
		return fmt.Errorf("event_type must be at most 120 characters")
	}
	prevDot := true // leading dot is invalid
	for i := 0; i < len(t); i++ {
		c := t[i]
		if c == '.' {
			if prevDot {
				return fmt.Errorf("event_type has an empty segment at position %d", i)
			}
			prevDot = true
			continue
		}
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '_' {
			return fmt.Errorf("event_type contains invalid character at position %d: %q", i, c)
		}
		prevDot = false
	}
	if prevDot {
		return fmt.Errorf("event_type must not end with a dot")
	}
	return nil
}
