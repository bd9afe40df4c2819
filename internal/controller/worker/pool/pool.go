package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/andreyxaxa/Event-Queue/internal/entity"
	"github.com/andreyxaxa/Event-Queue/internal/usecase"
	"github.com/andreyxaxa/Event-Queue/pkg/logger"
	"github.com/andreyxaxa/Event-Queue/pkg/types/errs"
	"github.com/google/uuid"
)

const (
	_defaultSize          = 5
	_defaultPollInterval  = time.Second
	_defaultIdleWarnAfter = 10 * time.Minute
	_defaultStopTimeout   = 30 * time.Second
)

// Observer receives per-event outcomes, the metrics package implements it.
type Observer interface {
	EventProcessed(eventType string, took time.Duration)
	EventFailed(eventType string, permanent bool, took time.Duration)
	PanicRecovered()
	SetWorkersRunning(n int)
}

type nopObserver struct{}

func (nopObserver) EventProcessed(string, time.Duration)     {}
func (nopObserver) EventFailed(string, bool, time.Duration) {}
func (nopObserver) PanicRecovered()                         {}
func (nopObserver) SetWorkersRunning(int)                   {}

// Pool runs a fixed number of workers over one queue and one processing function.
// Workers coordinate only through the queue's claim.
type Pool struct {
	queue    usecase.Queue
	process  usecase.ProcessFunc
	logger   logger.Interface
	observer Observer

	size          int
	pollInterval  time.Duration
	idleWarnAfter time.Duration
	stopTimeout   time.Duration
	instanceID    string
	now           func() time.Time

	mu      sync.Mutex
	started bool
	workers []*Worker
	cancel  context.CancelFunc
}

func New(q usecase.Queue, process usecase.ProcessFunc, l logger.Interface, opts ...Option) *Pool {
	p := &Pool{
		queue:         q,
		process:       process,
		logger:        l,
		observer:      nopObserver{},
		size:          _defaultSize,
		pollInterval:  _defaultPollInterval,
		idleWarnAfter: _defaultIdleWarnAfter,
		stopTimeout:   _defaultStopTimeout,
		instanceID:    uuid.NewString()[:8],
		now:           time.Now,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Start launches a fresh set of workers under ctx. Calling it on a started pool is a no-op.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		p.logger.Warn("Pool - Start - pool already started")
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.started = true

	p.workers = make([]*Worker, 0, p.size)
	for i := 0; i < p.size; i++ {
		w := newWorker(fmt.Sprintf("%s-worker-%d", p.instanceID, i), p)
		p.workers = append(p.workers, w)

		w.running.Store(true)
		go w.Run(runCtx)
	}

	p.observer.SetWorkersRunning(p.size)
	p.logger.Info("Pool - Start - pool started: size=%d instance=%s", p.size, p.instanceID)

	return nil
}

// Stop signals every worker and waits up to timeout in total for them to exit.
func (p *Pool) Stop(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return p.Shutdown(ctx)
}

// Shutdown is Stop bounded by ctx. Workers still running at the deadline are logged and
// left to finish on their own; the error is errs.ErrShutdownTimeout then.
// The stopped workers stay in Stats until the next Start.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	workers := p.workers
	cancel := p.cancel
	p.started = false
	p.cancel = nil
	p.mu.Unlock()

	p.logger.Info("Pool - Shutdown - pool stopping: size=%d", len(workers))

	for _, w := range workers {
		w.Stop()
	}

	var stuck []string
	for _, w := range workers {
		select {
		case <-w.Done():
		case <-ctx.Done():
		}

		select {
		case <-w.Done():
		default:
			stuck = append(stuck, w.ID())
		}
	}

	if cancel != nil {
		cancel()
	}

	p.observer.SetWorkersRunning(0)

	if len(stuck) > 0 {
		for _, id := range stuck {
			p.logger.Warn("Pool - Shutdown - worker still running: %s", id)
		}
		return fmt.Errorf("Pool - Shutdown - %d workers still running: %w", len(stuck), errs.ErrShutdownTimeout)
	}

	p.logger.Info("Pool - Shutdown - pool stopped")

	return nil
}

// Run starts the pool, blocks until ctx is done and then stops it.
func (p *Pool) Run(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("Pool - Run - p.Start: %w", err)
	}

	p.logger.Info("Pool - Run - pool running")

	<-ctx.Done()

	p.logger.Info("Pool - Run - shutdown requested")

	if err := p.Stop(p.stopTimeout); err != nil {
		p.logger.Error(err, "Pool - Run - p.Stop")
	}

	return nil
}

func (p *Pool) Stats() entity.PoolStats {
	p.mu.Lock()
	workers := p.workers
	p.mu.Unlock()

	stats := entity.PoolStats{
		PoolSize: p.size,
		Workers:  make([]entity.WorkerStats, 0, len(workers)),
	}

	for _, w := range workers {
		ws := w.Stats()
		if ws.IsRunning {
			stats.WorkersRunning++
		}
		stats.TotalEventsProcessed += ws.EventsProcessed
		stats.TotalEventsFailed += ws.EventsFailed
		stats.Workers = append(stats.Workers, ws)
	}

	return stats
}

// HealthCheck is true when the pool is started and every worker is healthy.
func (p *Pool) HealthCheck() bool {
	p.mu.Lock()
	started := p.started
	workers := p.workers
	p.mu.Unlock()

	if !started || len(workers) == 0 {
		return false
	}

	healthy := true
	for _, w := range workers {
		if !w.Healthy() {
			healthy = false
		}
	}

	return healthy
}
