package request

import "encoding/json"

type CreateEvent struct {
	EventType string          `json:"event_type" validate:"required,max=50"`
	Payload   json.RawMessage `json:"payload" validate:"required"`
}
