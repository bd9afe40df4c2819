package response

import (
	"encoding/json"
	"time"

	"github.com/andreyxaxa/Event-Queue/internal/entity"
)

type Error struct {
	Error string `json:"error" example:"message"`
}

type EventCreated struct {
	ID     int64  `json:"id" example:"42"`
	Status string `json:"status" example:"pending"`
}

type Event struct {
	ID                int64           `json:"id"`
	EventType         string          `json:"event_type"`
	Payload           json.RawMessage `json:"payload"`
	Status            string          `json:"status"`
	VisibilityTimeout *time.Time      `json:"visibility_timeout,omitempty"`
	ClaimedBy         *string         `json:"claimed_by,omitempty"`
	RetryCount        int             `json:"retry_count"`
	ErrorMessage      *string         `json:"error_message,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	ProcessedAt       *time.Time      `json:"processed_at,omitempty"`
}

func NewEvent(ev *entity.Event) Event {
	return Event{
		ID:                ev.ID,
		EventType:         ev.EventType,
		Payload:           ev.Payload,
		Status:            string(ev.Status),
		VisibilityTimeout: ev.VisibilityTimeout,
		ClaimedBy:         ev.ClaimedBy,
		RetryCount:        ev.RetryCount,
		ErrorMessage:      ev.ErrorMessage,
		CreatedAt:         ev.CreatedAt,
		ProcessedAt:       ev.ProcessedAt,
	}
}

type Health struct {
	Healthy bool `json:"healthy"`
}
