package pool

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/andreyxaxa/Event-Queue/internal/entity"
	"github.com/andreyxaxa/Event-Queue/internal/repo/persistent"
	"github.com/andreyxaxa/Event-Queue/internal/usecase/queue"
	"github.com/andreyxaxa/Event-Queue/pkg/logger"
	"github.com/andreyxaxa/Event-Queue/pkg/migrator"
	"github.com/andreyxaxa/Event-Queue/pkg/sqlite"
	"github.com/andreyxaxa/Event-Queue/pkg/types/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 5 * time.Second

// memQueue hands out events in order and records how each one was settled.
type memQueue struct {
	mu        sync.Mutex
	pending   []*entity.Event
	completed []int64
	failed    map[int64]string
	permanent map[int64]string

	completeFails bool
}

func newMemQueue(n int) *memQueue {
	q := &memQueue{failed: map[int64]string{}, permanent: map[int64]string{}}
	for i := 1; i <= n; i++ {
		q.pending = append(q.pending, &entity.Event{ID: int64(i), EventType: "test.event", Payload: json.RawMessage(`{}`)})
	}
	return q
}

func (q *memQueue) Insert(context.Context, string, json.RawMessage) (int64, error) {
	return 0, errors.New("not supported")
}

func (q *memQueue) Claim(_ context.Context, workerID string) (*entity.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil, false
	}
	ev := q.pending[0]
	q.pending = q.pending[1:]
	ev.ClaimedBy = &workerID
	return ev, true
}

func (q *memQueue) Complete(_ context.Context, ev *entity.Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.completeFails {
		return false
	}
	q.completed = append(q.completed, ev.ID)
	return true
}

func (q *memQueue) Fail(_ context.Context, ev *entity.Event, msg string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed[ev.ID] = msg
	return true
}

func (q *memQueue) FailPermanently(_ context.Context, ev *entity.Event, msg string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.permanent[ev.ID] = msg
	return true
}

func (q *memQueue) Get(context.Context, int64) (*entity.Event, error) {
	return nil, errs.ErrRecordNotFound
}

func (q *memQueue) QueueDepth(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.pending)), nil
}

func (q *memQueue) ProcessingCount(context.Context) (int64, error) { return 0, nil }

func (q *memQueue) Stats(context.Context) (entity.QueueStats, error) {
	return entity.NewQueueStats(), nil
}

func (q *memQueue) settled() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.completed) + len(q.failed) + len(q.permanent)
}

func newTestPool(q *memQueue, process func(context.Context, *entity.Event) error, opts ...Option) *Pool {
	opts = append([]Option{PollInterval(5 * time.Millisecond), InstanceID("test")}, opts...)
	return New(q, process, logger.Nop(), opts...)
}

func TestPool_ProcessesEverything(t *testing.T) {
	q := newMemQueue(50)
	p := newTestPool(q, func(context.Context, *entity.Event) error { return nil }, Size(4))

	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool { return q.settled() == 50 }, waitFor, 5*time.Millisecond)

	stats := p.Stats()
	assert.Equal(t, 4, stats.PoolSize)
	assert.Equal(t, 4, stats.WorkersRunning)
	assert.EqualValues(t, 50, stats.TotalEventsProcessed)
	assert.Zero(t, stats.TotalEventsFailed)
	require.Len(t, stats.Workers, 4)
	for i, ws := range stats.Workers {
		assert.Equal(t, "test-worker-"+string(rune('0'+i)), ws.WorkerID)
	}

	require.NoError(t, p.Stop(time.Second))

	stats = p.Stats()
	require.Len(t, stats.Workers, 4, "stopped workers stay reported")
	assert.Zero(t, stats.WorkersRunning)
	assert.EqualValues(t, 50, stats.TotalEventsProcessed)
	for _, ws := range stats.Workers {
		assert.False(t, ws.IsRunning)
		assert.Equal(t, entity.WorkerStopped, ws.State)
	}
}

func TestPool_RestartAfterStop(t *testing.T) {
	q := newMemQueue(3)
	p := newTestPool(q, func(context.Context, *entity.Event) error { return nil }, Size(2))

	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool { return q.settled() == 3 }, waitFor, 5*time.Millisecond)
	require.NoError(t, p.Stop(time.Second))
	require.NoError(t, p.Stop(time.Second), "second stop is a no-op")
	assert.False(t, p.HealthCheck())

	require.NoError(t, p.Start(context.Background()))
	assert.True(t, p.HealthCheck())

	stats := p.Stats()
	assert.Equal(t, 2, stats.WorkersRunning)
	assert.Zero(t, stats.TotalEventsProcessed, "a restart brings fresh workers")

	q.mu.Lock()
	q.pending = append(q.pending, &entity.Event{ID: 4, EventType: "test.event", Payload: json.RawMessage(`{}`)})
	q.mu.Unlock()
	require.Eventually(t, func() bool { return q.settled() == 4 }, waitFor, 5*time.Millisecond)

	require.NoError(t, p.Stop(time.Second))
	assert.EqualValues(t, 1, p.Stats().TotalEventsProcessed)
}

func TestPool_UnrecordedCompletionIsNotCounted(t *testing.T) {
	q := newMemQueue(2)
	q.completeFails = true

	claimed := make(chan int64, 2)
	p := newTestPool(q, func(_ context.Context, ev *entity.Event) error {
		claimed <- ev.ID
		return nil
	}, Size(1))

	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool { return len(claimed) == 2 }, waitFor, 5*time.Millisecond)
	require.NoError(t, p.Stop(time.Second))

	stats := p.Stats()
	assert.Zero(t, stats.TotalEventsProcessed)
	assert.Zero(t, stats.TotalEventsFailed)
}

func TestPool_OutcomeKinds(t *testing.T) {
	q := newMemQueue(3)
	p := newTestPool(q, func(_ context.Context, ev *entity.Event) error {
		switch ev.ID {
		case 1:
			return errors.New("boom")
		case 2:
			return errs.Permanent(errors.New("malformed"))
		default:
			panic("kaboom")
		}
	}, Size(1))

	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool { return q.settled() == 3 }, waitFor, 5*time.Millisecond)
	require.NoError(t, p.Stop(time.Second))

	q.mu.Lock()
	defer q.mu.Unlock()

	assert.Equal(t, "*errors.errorString: boom", q.failed[1])
	assert.Equal(t, "*errors.errorString: malformed", q.permanent[2])
	assert.Equal(t, "*pool.PanicError: panic: kaboom", q.failed[3])
	assert.Empty(t, q.completed)
}

func TestPool_StartIsIdempotent(t *testing.T) {
	q := newMemQueue(0)
	p := newTestPool(q, func(context.Context, *entity.Event) error { return nil }, Size(2))

	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Start(context.Background()))
	assert.Len(t, p.Stats().Workers, 2)

	require.NoError(t, p.Stop(time.Second))
}

func TestPool_HealthCheck(t *testing.T) {
	q := newMemQueue(0)
	p := newTestPool(q, func(context.Context, *entity.Event) error { return nil }, Size(2))

	assert.False(t, p.HealthCheck(), "not started")

	require.NoError(t, p.Start(context.Background()))
	assert.True(t, p.HealthCheck())

	require.NoError(t, p.Stop(time.Second))
	assert.False(t, p.HealthCheck(), "stopped")
}

func TestPool_IdleWorkerStaysHealthy(t *testing.T) {
	q := newMemQueue(1)
	clock := time.Now()
	var mu sync.Mutex
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}

	p := newTestPool(q, func(context.Context, *entity.Event) error { return nil },
		Size(1), IdleWarnAfter(time.Minute), withClock(now))

	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool { return q.settled() == 1 }, waitFor, 5*time.Millisecond)

	mu.Lock()
	clock = clock.Add(time.Hour)
	mu.Unlock()

	assert.True(t, p.HealthCheck(), "idleness is advisory")
	require.NotNil(t, p.Stats().Workers[0].LastEventAt)

	require.NoError(t, p.Stop(time.Second))
}

func TestPool_StopDoesNotPreemptProcessing(t *testing.T) {
	q := newMemQueue(1)
	started := make(chan struct{})
	release := make(chan struct{})

	p := newTestPool(q, func(ctx context.Context, _ *entity.Event) error {
		close(started)
		<-release
		return ctx.Err()
	}, Size(1))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.Start(ctx))
	<-started

	cancel()
	err := p.Stop(50 * time.Millisecond)
	assert.ErrorIs(t, err, errs.ErrShutdownTimeout)

	close(release)
	require.Eventually(t, func() bool { return q.settled() == 1 }, waitFor, 5*time.Millisecond)

	q.mu.Lock()
	defer q.mu.Unlock()
	assert.Equal(t, []int64{1}, q.completed, "processing context is never cancelled")
}

func TestPool_StopInterruptsIdleSleep(t *testing.T) {
	q := newMemQueue(0)
	p := New(q, func(context.Context, *entity.Event) error { return nil }, logger.Nop(),
		Size(3), PollInterval(time.Hour))

	require.NoError(t, p.Start(context.Background()))
	// let every worker reach its poll sleep
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	require.NoError(t, p.Stop(time.Second))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestPool_RunStopsOnCancel(t *testing.T) {
	q := newMemQueue(5)
	p := newTestPool(q, func(context.Context, *entity.Event) error { return nil }, Size(2))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return q.settled() == 5 }, waitFor, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, p.HealthCheck())
}

func TestPool_DefaultWorkerIDs(t *testing.T) {
	p := New(newMemQueue(0), func(context.Context, *entity.Event) error { return nil }, logger.Nop(), Size(1))

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop(time.Second)

	id := p.Stats().Workers[0].WorkerID
	assert.True(t, strings.HasSuffix(id, "-worker-0"), id)
	assert.Len(t, id, len("xxxxxxxx-worker-0"))
}

func TestPool_SQLiteEndToEnd(t *testing.T) {
	s, err := sqlite.New(filepath.Join(t.TempDir(), "pool.db"))
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, migrator.UpSQLite(s.DB))

	q := queue.New(persistent.NewEventSQLiteRepo(s), logger.Nop())
	ctx := context.Background()

	const events = 30
	for i := 0; i < events; i++ {
		_, err = q.Insert(ctx, "test.event", json.RawMessage(`{"i":1}`))
		require.NoError(t, err)
	}

	var (
		mu   sync.Mutex
		seen = map[int64]int{}
	)
	p := New(q, func(_ context.Context, ev *entity.Event) error {
		mu.Lock()
		seen[ev.ID]++
		mu.Unlock()
		return nil
	}, logger.Nop(), Size(4), PollInterval(5*time.Millisecond))

	require.NoError(t, p.Start(ctx))
	require.Eventually(t, func() bool {
		stats, err := q.Stats(ctx)
		return err == nil && stats.Counts[entity.Completed] == events
	}, waitFor, 10*time.Millisecond)
	require.NoError(t, p.Stop(time.Second))

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, events)
	for id, n := range seen {
		assert.Equal(t, 1, n, "event %d", id)
	}
}
