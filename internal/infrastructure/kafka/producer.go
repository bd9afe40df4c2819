package kafka

import (
	"context"
	"fmt"
	"strconv"

	"github.com/andreyxaxa/Event-Queue/internal/entity"
	"github.com/andreyxaxa/Event-Queue/pkg/kafka/producer"
	"github.com/segmentio/kafka-go"
)

const (
	HeaderEventID   = "event_id"
	HeaderEventType = "event_type"
)

// EventProducer relays queue events to a topic, keyed by event id.
type EventProducer struct {
	*producer.Producer
	topic string
}

func NewEventProducer(p *producer.Producer, topic string) *EventProducer {
	return &EventProducer{
		Producer: p,
		topic:    topic,
	}
}

func (ep *EventProducer) Publish(ctx context.Context, ev *entity.Event) error {
	err := ep.Writer.WriteMessages(ctx, EventMessage(ep.topic, ev))
	if err != nil {
		return fmt.Errorf("EventProducer - Publish - ep.Writer.WriteMessages: %w", err)
	}

	return nil
}

func (ep *EventProducer) Close() error {
	err := ep.Producer.Close()
	if err != nil {
		return fmt.Errorf("EventProducer - Close: %w", err)
	}

	return nil
}

// EventMessage builds the relay record. Key and event_id header both carry the event id.
func EventMessage(topic string, ev *entity.Event) kafka.Message {
	id := strconv.FormatInt(ev.ID, 10)

	return kafka.Message{
		Topic: topic,
		Key:   []byte(id),
		Value: ev.Payload,
		Headers: []kafka.Header{
			{Key: HeaderEventID, Value: []byte(id)},
			{Key: HeaderEventType, Value: []byte(ev.EventType)},
		},
	}
}
