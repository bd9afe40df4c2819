package persistent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andreyxaxa/Event-Queue/internal/entity"
	"github.com/andreyxaxa/Event-Queue/internal/repo"
	"github.com/andreyxaxa/Event-Queue/pkg/types/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLease = 300 * time.Second

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type repoFactory func(t *testing.T, clock *testClock) repo.EventRepo

// runClockedSuite covers the store contract for stores that take their time from a StoreOption clock.
func runClockedSuite(t *testing.T, newRepo repoFactory) {
	t.Run("claims in creation order", func(t *testing.T) {
		clock := newTestClock()
		r := newRepo(t, clock)
		ctx := context.Background()

		ids := insertN(t, r, clock, 3)

		for _, want := range ids {
			ev, err := r.Claim(ctx, "w1", testLease, 3)
			require.NoError(t, err)
			assert.Equal(t, want, ev.ID)
			assert.Equal(t, entity.Processing, ev.Status)
			require.NotNil(t, ev.ClaimedBy)
			assert.Equal(t, "w1", *ev.ClaimedBy)
			require.NotNil(t, ev.VisibilityTimeout)
			assert.True(t, ev.VisibilityTimeout.Equal(clock.Now().Add(testLease)))
		}

		_, err := r.Claim(ctx, "w1", testLease, 3)
		assert.ErrorIs(t, err, errs.ErrNoEventAvailable)
	})

	t.Run("expired lease is reclaimed", func(t *testing.T) {
		clock := newTestClock()
		r := newRepo(t, clock)
		ctx := context.Background()

		id := insertN(t, r, clock, 1)[0]

		first, err := r.Claim(ctx, "w1", testLease, 3)
		require.NoError(t, err)

		clock.Advance(testLease - time.Second)
		_, err = r.Claim(ctx, "w2", testLease, 3)
		require.ErrorIs(t, err, errs.ErrNoEventAvailable)

		processing, err := r.CountProcessing(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 1, processing)

		clock.Advance(time.Second)

		stats, err := r.Stats(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 1, stats.ExpiredProcessing)

		second, err := r.Claim(ctx, "w2", testLease, 3)
		require.NoError(t, err)
		assert.Equal(t, id, second.ID)
		assert.Equal(t, "w2", *second.ClaimedBy)

		// the first worker lost its lease
		applied, err := r.Complete(ctx, first)
		require.NoError(t, err)
		assert.False(t, applied)

		applied, err = r.Complete(ctx, second)
		require.NoError(t, err)
		assert.True(t, applied)

		got, err := r.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, entity.Completed, got.Status)
		assert.Nil(t, got.VisibilityTimeout)
		require.NotNil(t, got.ProcessedAt)
	})

	t.Run("failure backs off before the next claim", func(t *testing.T) {
		clock := newTestClock()
		r := newRepo(t, clock)
		ctx := context.Background()
		policy := entity.DefaultRetryPolicy()

		id := insertN(t, r, clock, 1)[0]

		ev, err := r.Claim(ctx, "w1", testLease, policy.MaxRetries)
		require.NoError(t, err)

		tr := policy.Next(ev.RetryCount, false)
		applied, err := r.Fail(ctx, ev, "<*errors.errorString>: boom", tr)
		require.NoError(t, err)
		require.True(t, applied)

		got, err := r.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, entity.Pending, got.Status)
		assert.Equal(t, 1, got.RetryCount)
		require.NotNil(t, got.ErrorMessage)
		assert.Equal(t, "<*errors.errorString>: boom", *got.ErrorMessage)
		require.NotNil(t, got.VisibilityTimeout)
		assert.True(t, got.VisibilityTimeout.Equal(clock.Now().Add(20*time.Second)))

		_, err = r.Claim(ctx, "w1", testLease, policy.MaxRetries)
		require.ErrorIs(t, err, errs.ErrNoEventAvailable)

		clock.Advance(20 * time.Second)

		again, err := r.Claim(ctx, "w2", testLease, policy.MaxRetries)
		require.NoError(t, err)
		assert.Equal(t, id, again.ID)
		assert.Equal(t, 1, again.RetryCount)
	})

	t.Run("retries exhaust into failed", func(t *testing.T) {
		clock := newTestClock()
		r := newRepo(t, clock)
		ctx := context.Background()
		policy := entity.DefaultRetryPolicy()

		id := insertN(t, r, clock, 1)[0]

		for i := 0; i < policy.MaxRetries; i++ {
			ev, err := r.Claim(ctx, "w1", testLease, policy.MaxRetries)
			require.NoError(t, err, "attempt %d", i)

			tr := policy.Next(ev.RetryCount, false)
			applied, err := r.Fail(ctx, ev, "boom", tr)
			require.NoError(t, err)
			require.True(t, applied)

			clock.Advance(policy.BackoffCap)
		}

		got, err := r.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, entity.Failed, got.Status)
		assert.Equal(t, policy.MaxRetries, got.RetryCount)
		require.NotNil(t, got.ProcessedAt)

		_, err = r.Claim(ctx, "w1", testLease, policy.MaxRetries)
		assert.ErrorIs(t, err, errs.ErrNoEventAvailable)

		stats, err := r.Stats(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 1, stats.Counts[entity.Failed])
	})

	t.Run("permanent failure is terminal at once", func(t *testing.T) {
		clock := newTestClock()
		r := newRepo(t, clock)
		ctx := context.Background()
		policy := entity.DefaultRetryPolicy()

		id := insertN(t, r, clock, 1)[0]

		ev, err := r.Claim(ctx, "w1", testLease, policy.MaxRetries)
		require.NoError(t, err)

		applied, err := r.Fail(ctx, ev, "bad payload", policy.Next(ev.RetryCount, true))
		require.NoError(t, err)
		require.True(t, applied)

		got, err := r.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, entity.Failed, got.Status)
		assert.Equal(t, 1, got.RetryCount)
	})

	t.Run("terminal events are immutable", func(t *testing.T) {
		clock := newTestClock()
		r := newRepo(t, clock)
		ctx := context.Background()

		id := insertN(t, r, clock, 1)[0]

		ev, err := r.Claim(ctx, "w1", testLease, 3)
		require.NoError(t, err)

		applied, err := r.Complete(ctx, ev)
		require.NoError(t, err)
		require.True(t, applied)

		applied, err = r.Fail(ctx, ev, "late", entity.DefaultRetryPolicy().Next(ev.RetryCount, false))
		require.NoError(t, err)
		assert.False(t, applied)

		applied, err = r.Complete(ctx, ev)
		require.NoError(t, err)
		assert.False(t, applied)

		clock.Advance(time.Hour)
		_, err = r.Claim(ctx, "w2", testLease, 3)
		assert.ErrorIs(t, err, errs.ErrNoEventAvailable)

		got, err := r.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, entity.Completed, got.Status)
		assert.Nil(t, got.ErrorMessage)
	})

	t.Run("counts and stats", func(t *testing.T) {
		clock := newTestClock()
		r := newRepo(t, clock)
		ctx := context.Background()

		insertN(t, r, clock, 4)

		done, err := r.Claim(ctx, "w1", testLease, 3)
		require.NoError(t, err)
		_, err = r.Complete(ctx, done)
		require.NoError(t, err)

		_, err = r.Claim(ctx, "w1", testLease, 3)
		require.NoError(t, err)

		pending, err := r.CountPending(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 2, pending)

		processing, err := r.CountProcessing(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 1, processing)

		stats, err := r.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]int64{
			"pending":            2,
			"processing":         1,
			"completed":          1,
			"failed":             0,
			"expired_processing": 0,
		}, stats.AsMap())
	})

	t.Run("get unknown id", func(t *testing.T) {
		r := newRepo(t, newTestClock())

		_, err := r.GetByID(context.Background(), 424242)
		assert.True(t, errors.Is(err, errs.ErrRecordNotFound))
	})

	t.Run("payload round trips", func(t *testing.T) {
		clock := newTestClock()
		r := newRepo(t, clock)
		ctx := context.Background()

		payload := json.RawMessage(`{"order":{"id":7,"items":["a","b"]}}`)
		id, err := r.Insert(ctx, "order.created", payload)
		require.NoError(t, err)

		got, err := r.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "order.created", got.EventType)
		assert.JSONEq(t, string(payload), string(got.Payload))
		assert.Equal(t, entity.Pending, got.Status)
		assert.Zero(t, got.RetryCount)
		assert.Nil(t, got.ClaimedBy)
		assert.True(t, got.CreatedAt.Equal(clock.Now()))
	})

	t.Run("concurrent claimers never share an event", func(t *testing.T) {
		clock := newTestClock()
		r := newRepo(t, clock)
		ctx := context.Background()

		const (
			events   = 40
			claimers = 8
		)
		insertN(t, r, clock, events)

		var (
			mu      sync.Mutex
			seen    = make(map[int64]string, events)
			claimed atomic.Int64
			wg      sync.WaitGroup
		)

		for i := 0; i < claimers; i++ {
			wg.Add(1)
			go func(worker string) {
				defer wg.Done()

				for tries := 0; tries < events*20 && claimed.Load() < events; tries++ {
					ev, err := r.Claim(ctx, worker, time.Hour, 3)
					if errors.Is(err, errs.ErrNoEventAvailable) {
						continue
					}
					if !assert.NoError(t, err) {
						return
					}

					mu.Lock()
					prev, dup := seen[ev.ID]
					seen[ev.ID] = worker
					mu.Unlock()

					assert.False(t, dup, "event %d claimed by %s and %s", ev.ID, prev, worker)
					claimed.Add(1)
				}
			}(string(rune('a' + i)))
		}
		wg.Wait()

		assert.Len(t, seen, events)
	})
}

func insertN(t *testing.T, r repo.EventRepo, clock *testClock, n int) []int64 {
	t.Helper()

	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		id, err := r.Insert(context.Background(), "test.event", json.RawMessage(`{"n":1}`))
		require.NoError(t, err)
		ids = append(ids, id)

		clock.Advance(time.Microsecond)
	}
	// claims happen after the inserts
	clock.Advance(time.Millisecond)

	return ids
}
