package persistent

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/andreyxaxa/Event-Queue/internal/entity"
	"github.com/andreyxaxa/Event-Queue/pkg/migrator"
	"github.com/andreyxaxa/Event-Queue/pkg/postgres"
	"github.com/andreyxaxa/Event-Queue/pkg/types/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPostgresTestRepo(t *testing.T) *EventPostgresRepo {
	t.Helper()

	url := os.Getenv("PG_URL")
	if url == "" {
		t.Skip("PG_URL not set (integration test)")
	}

	require.NoError(t, migrator.UpPostgres(url))

	pg, err := postgres.New(url, postgres.ConnAttempts(1))
	require.NoError(t, err)
	t.Cleanup(pg.Close)

	_, err = pg.Pool.Exec(context.Background(), "TRUNCATE "+eventsTable+" RESTART IDENTITY")
	require.NoError(t, err)

	return NewEventPostgresRepo(pg)
}

func TestEventPostgresRepo_ClaimOrderAndFence(t *testing.T) {
	r := newPostgresTestRepo(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 3; i++ {
		id, err := r.Insert(ctx, "test.event", json.RawMessage(`{"n":1}`))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	for _, want := range ids {
		ev, err := r.Claim(ctx, "w1", time.Minute, 3)
		require.NoError(t, err)
		assert.Equal(t, want, ev.ID)
		assert.Equal(t, entity.Processing, ev.Status)
		require.NotNil(t, ev.VisibilityTimeout)
		assert.True(t, ev.VisibilityTimeout.After(time.Now().Add(30*time.Second)))

		stale := *ev
		stale.ClaimedBy = strPtr("someone-else")

		applied, err := r.Complete(ctx, &stale)
		require.NoError(t, err)
		assert.False(t, applied)

		applied, err = r.Complete(ctx, ev)
		require.NoError(t, err)
		assert.True(t, applied)
	}

	_, err := r.Claim(ctx, "w1", time.Minute, 3)
	assert.ErrorIs(t, err, errs.ErrNoEventAvailable)

	stats, err := r.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.Counts[entity.Completed])
}

func TestEventPostgresRepo_FailBacksOff(t *testing.T) {
	r := newPostgresTestRepo(t)
	ctx := context.Background()
	policy := entity.DefaultRetryPolicy()

	id, err := r.Insert(ctx, "test.event", json.RawMessage(`{}`))
	require.NoError(t, err)

	ev, err := r.Claim(ctx, "w1", time.Minute, policy.MaxRetries)
	require.NoError(t, err)

	applied, err := r.Fail(ctx, ev, "boom", policy.Next(ev.RetryCount, false))
	require.NoError(t, err)
	require.True(t, applied)

	got, err := r.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entity.Pending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.VisibilityTimeout)
	assert.WithinDuration(t, time.Now().Add(20*time.Second), *got.VisibilityTimeout, 5*time.Second)

	_, err = r.Claim(ctx, "w1", time.Minute, policy.MaxRetries)
	assert.ErrorIs(t, err, errs.ErrNoEventAvailable)
}

func TestEventPostgresRepo_ConcurrentClaim(t *testing.T) {
	r := newPostgresTestRepo(t)
	ctx := context.Background()

	const events = 30
	for i := 0; i < events; i++ {
		_, err := r.Insert(ctx, "test.event", json.RawMessage(`{}`))
		require.NoError(t, err)
	}

	var (
		mu   sync.Mutex
		seen = make(map[int64]int)
		wg   sync.WaitGroup
	)

	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				ev, err := r.Claim(ctx, "w", time.Hour, 3)
				if err != nil {
					assert.ErrorIs(t, err, errs.ErrNoEventAvailable)
					return
				}
				mu.Lock()
				seen[ev.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, events)
	for id, n := range seen {
		assert.Equal(t, 1, n, "event %d", id)
	}
}
