package repo

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/andreyxaxa/Event-Queue/internal/entity"
)

type (
	// EventRepo is the durable event store.
	// Claim must be race-free under any number of concurrent callers.
	EventRepo interface {
		Insert(ctx context.Context, eventType string, payload json.RawMessage) (int64, error)
		// Claim returns errs.ErrNoEventAvailable when nothing is eligible.
		Claim(ctx context.Context, workerID string, lease time.Duration, maxRetries int) (*entity.Event, error)
		// Complete and Fail are fenced on the lease held by ev; a stale call returns false.
		Complete(ctx context.Context, ev *entity.Event) (bool, error)
		Fail(ctx context.Context, ev *entity.Event, errorMessage string, tr entity.FailTransition) (bool, error)
		GetByID(ctx context.Context, id int64) (*entity.Event, error)
		CountPending(ctx context.Context) (int64, error)
		CountProcessing(ctx context.Context) (int64, error)
		Stats(ctx context.Context) (entity.QueueStats, error)
	}

	ArchiveRepo interface {
		Put(ctx context.Context, key string, data io.Reader, contentType string, size int64) error
		Get(ctx context.Context, key string) ([]byte, error)
	}
)
