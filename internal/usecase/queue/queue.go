package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/andreyxaxa/Event-Queue/internal/entity"
	"github.com/andreyxaxa/Event-Queue/internal/repo"
	"github.com/andreyxaxa/Event-Queue/pkg/logger"
	"github.com/andreyxaxa/Event-Queue/pkg/types/errs"
)

const _defaultLease = 300 * time.Second

// Queue applies the retry policy and the lease on top of an event store.
// Delivery is at-least-once with a single active owner per event; processing that is
// idempotent per event id gets effectively-once results.
type Queue struct {
	repo   repo.EventRepo
	policy entity.RetryPolicy
	lease  time.Duration

	logger logger.Interface
}

func New(r repo.EventRepo, l logger.Interface, opts ...Option) *Queue {
	q := &Queue{
		repo:   r,
		policy: entity.DefaultRetryPolicy(),
		lease:  _defaultLease,
		logger: l,
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

func (q *Queue) Policy() entity.RetryPolicy {
	return q.policy
}

func (q *Queue) Insert(ctx context.Context, eventType string, payload json.RawMessage) (int64, error) {
	if err := Validate(eventType, payload); err != nil {
		return 0, fmt.Errorf("Queue - Insert: %w", err)
	}

	id, err := q.repo.Insert(ctx, eventType, payload)
	if err != nil {
		return 0, fmt.Errorf("Queue - Insert - q.repo.Insert: %w", err)
	}

	q.logger.Debug("Queue - Insert - event inserted: id=%d type=%s", id, eventType)

	return id, nil
}

// Claim takes the oldest eligible event for workerID. A store error is logged and reported as no event.
func (q *Queue) Claim(ctx context.Context, workerID string) (*entity.Event, bool) {
	ev, err := q.repo.Claim(ctx, workerID, q.lease, q.policy.MaxRetries)
	if err != nil {
		if !errors.Is(err, errs.ErrNoEventAvailable) {
			q.logger.Error(err, "Queue - Claim - q.repo.Claim")
		}
		return nil, false
	}

	q.logger.Info("event claimed: id=%d type=%s worker=%s retry_count=%d",
		ev.ID, ev.EventType, workerID, ev.RetryCount)

	return ev, true
}

// Complete returns false only when the store failed. A lease that was taken over is logged
// and left alone, the new owner decides the outcome.
func (q *Queue) Complete(ctx context.Context, ev *entity.Event) bool {
	applied, err := q.repo.Complete(ctx, ev)
	if err != nil {
		q.logger.Error(err, "Queue - Complete - q.repo.Complete")
		return false
	}

	if !applied {
		q.logger.Warn("Queue - Complete - lease lost, event left untouched: id=%d", ev.ID)
		return true
	}

	q.logger.Info("event completed: id=%d type=%s", ev.ID, ev.EventType)

	return true
}

func (q *Queue) Fail(ctx context.Context, ev *entity.Event, errorMessage string) bool {
	return q.fail(ctx, ev, errorMessage, false)
}

// FailPermanently moves the event straight to failed regardless of the retries left.
func (q *Queue) FailPermanently(ctx context.Context, ev *entity.Event, errorMessage string) bool {
	return q.fail(ctx, ev, errorMessage, true)
}

func (q *Queue) fail(ctx context.Context, ev *entity.Event, errorMessage string, permanent bool) bool {
	tr := q.policy.Next(ev.RetryCount, permanent)

	applied, err := q.repo.Fail(ctx, ev, errorMessage, tr)
	if err != nil {
		q.logger.Error(err, "Queue - Fail - q.repo.Fail")
		return false
	}

	if !applied {
		q.logger.Warn("Queue - Fail - lease lost, event left untouched: id=%d", ev.ID)
		return true
	}

	if tr.Terminal {
		q.logger.Warn("event failed permanently: id=%d type=%s retry_count=%d error=%s",
			ev.ID, ev.EventType, tr.RetryCount, errorMessage)
	} else {
		q.logger.Warn("event failed, will retry: id=%d type=%s retry_count=%d backoff=%s error=%s",
			ev.ID, ev.EventType, tr.RetryCount, tr.Delay, errorMessage)
	}

	return true
}

func (q *Queue) Get(ctx context.Context, id int64) (*entity.Event, error) {
	ev, err := q.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("Queue - Get - q.repo.GetByID: %w", err)
	}

	return ev, nil
}

// QueueDepth counts pending events, including the ones waiting out a backoff.
func (q *Queue) QueueDepth(ctx context.Context) (int64, error) {
	n, err := q.repo.CountPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("Queue - QueueDepth - q.repo.CountPending: %w", err)
	}

	return n, nil
}

// ProcessingCount counts events under a live lease.
func (q *Queue) ProcessingCount(ctx context.Context) (int64, error) {
	n, err := q.repo.CountProcessing(ctx)
	if err != nil {
		return 0, fmt.Errorf("Queue - ProcessingCount - q.repo.CountProcessing: %w", err)
	}

	return n, nil
}

func (q *Queue) Stats(ctx context.Context) (entity.QueueStats, error) {
	stats, err := q.repo.Stats(ctx)
	if err != nil {
		return entity.QueueStats{}, fmt.Errorf("Queue - Stats - q.repo.Stats: %w", err)
	}

	return stats, nil
}

// Validate checks an event before it is stored.
func Validate(eventType string, payload json.RawMessage) error {
	switch {
	case eventType == "":
		return fmt.Errorf("%w: empty event type", errs.ErrInvalidEvent)
	case len(eventType) > entity.MaxEventTypeLen:
		return fmt.Errorf("%w: event type longer than %d characters", errs.ErrInvalidEvent, entity.MaxEventTypeLen)
	case len(payload) == 0 || !json.Valid(payload):
		return fmt.Errorf("%w: payload is not valid JSON", errs.ErrInvalidEvent)
	}

	return nil
}
