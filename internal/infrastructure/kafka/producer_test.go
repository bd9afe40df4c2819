package kafka

import (
	"encoding/json"
	"testing"

	"github.com/andreyxaxa/Event-Queue/internal/entity"
	"github.com/stretchr/testify/assert"
)

func TestEventMessage(t *testing.T) {
	ev := &entity.Event{ID: 17, EventType: "order.paid", Payload: json.RawMessage(`{"amount":10}`)}

	msg := EventMessage("relay", ev)

	assert.Equal(t, "relay", msg.Topic)
	assert.Equal(t, []byte("17"), msg.Key)
	assert.JSONEq(t, `{"amount":10}`, string(msg.Value))
	assert.Len(t, msg.Headers, 2)
	assert.Equal(t, HeaderEventID, msg.Headers[0].Key)
	assert.Equal(t, []byte("17"), msg.Headers[0].Value)
	assert.Equal(t, HeaderEventType, msg.Headers[1].Key)
	assert.Equal(t, []byte("order.paid"), msg.Headers[1].Value)
}
