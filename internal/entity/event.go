package entity

import (
	"encoding/json"
	"time"
)

// MaxEventTypeLen matches the width of the event_type column.
const MaxEventTypeLen = 50

type Event struct {
	ID        int64           `json:"id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	Status    Status          `json:"status"` // pending, processing, completed, failed

	VisibilityTimeout *time.Time `json:"visibility_timeout,omitempty"`
	ClaimedBy         *string    `json:"claimed_by,omitempty"`

	RetryCount   int     `json:"retry_count"`
	ErrorMessage *string `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// Claimable reports whether a claim at now may take the event.
// A pending event still inside its backoff window is not claimable.
func (e *Event) Claimable(now time.Time, maxRetries int) bool {
	if e.RetryCount >= maxRetries {
		return false
	}

	switch e.Status {
	case Pending:
		return e.VisibilityTimeout == nil || !e.VisibilityTimeout.After(now)
	case Processing:
		return e.VisibilityTimeout != nil && !e.VisibilityTimeout.After(now)
	default:
		return false
	}
}

// HeldBy reports whether other still describes the lease recorded in e.
// Complete and Fail are fenced on it so a worker whose lease was taken over cannot touch the event.
func (e *Event) HeldBy(other *Event) bool {
	if e.Status != Processing || other == nil {
		return false
	}
	if e.RetryCount != other.RetryCount {
		return false
	}
	if e.ClaimedBy == nil || other.ClaimedBy == nil || *e.ClaimedBy != *other.ClaimedBy {
		return false
	}
	if e.VisibilityTimeout == nil || other.VisibilityTimeout == nil {
		return false
	}
	return e.VisibilityTimeout.Equal(*other.VisibilityTimeout)
}
