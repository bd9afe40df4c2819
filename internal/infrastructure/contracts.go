package infrastructure

import (
	"context"

	"github.com/andreyxaxa/Event-Queue/internal/entity"
	"github.com/segmentio/kafka-go"
)

type (
	// EventPublisher forwards an event to an external broker.
	EventPublisher interface {
		Publish(ctx context.Context, ev *entity.Event) error
		Close() error
	}

	// MessageSource is a committed-offset message stream.
	MessageSource interface {
		ReadMessage(ctx context.Context) (kafka.Message, error)
		Commit(ctx context.Context, msg kafka.Message) error
		Close() error
	}
)
