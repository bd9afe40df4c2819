package usecase

import (
	"context"
	"encoding/json"

	"github.com/andreyxaxa/Event-Queue/internal/entity"
)

type (
	// Queue is the work queue the producers and the worker pool talk to.
	Queue interface {
		Insert(ctx context.Context, eventType string, payload json.RawMessage) (int64, error)
		Claim(ctx context.Context, workerID string) (*entity.Event, bool)
		Complete(ctx context.Context, ev *entity.Event) bool
		Fail(ctx context.Context, ev *entity.Event, errorMessage string) bool
		FailPermanently(ctx context.Context, ev *entity.Event, errorMessage string) bool
		Get(ctx context.Context, id int64) (*entity.Event, error)
		QueueDepth(ctx context.Context) (int64, error)
		ProcessingCount(ctx context.Context) (int64, error)
		Stats(ctx context.Context) (entity.QueueStats, error)
	}

	// Handler processes one event type. Returning errs.Permanent(err) dead-letters the event,
	// any other error schedules a retry.
	Handler interface {
		Handle(ctx context.Context, ev *entity.Event) error
	}
)

// ProcessFunc is what a worker runs for each claimed event.
type ProcessFunc func(ctx context.Context, ev *entity.Event) error

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, ev *entity.Event) error

func (f HandlerFunc) Handle(ctx context.Context, ev *entity.Event) error {
	return f(ctx, ev)
}
