package reporter

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andreyxaxa/Event-Queue/internal/entity"
	"github.com/andreyxaxa/Event-Queue/internal/usecase"
	"github.com/andreyxaxa/Event-Queue/pkg/logger"
)

type (
	PoolStatser interface {
		Stats() entity.PoolStats
		HealthCheck() bool
	}

	GaugeSink interface {
		SetQueueStats(s entity.QueueStats)
		SetWorkersRunning(n int)
	}
)

// Reporter periodically logs pool statistics and refreshes the queue gauges.
type Reporter struct {
	queue  usecase.Queue
	pool   PoolStatser
	gauges GaugeSink
	logger logger.Interface

	statsInterval time.Duration
	gaugeInterval time.Duration
	statsTimeout  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	started atomic.Bool
}

func New(
	q usecase.Queue,
	p PoolStatser,
	g GaugeSink,
	l logger.Interface,
	statsInterval time.Duration,
	gaugeInterval time.Duration,
	statsTimeout time.Duration,
) *Reporter {
	return &Reporter{
		queue:         q,
		pool:          p,
		gauges:        g,
		logger:        l,
		statsInterval: statsInterval,
		gaugeInterval: gaugeInterval,
		statsTimeout:  statsTimeout,
	}
}

func (r *Reporter) Start(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return fmt.Errorf("Reporter - Start - reporter already started")
	}

	r.ctx, r.cancel = context.WithCancel(ctx)

	// 1. pool statistics in the log
	if r.statsInterval > 0 {
		r.worker(r.statsInterval, r.logPoolStats)
	}

	// 2. queue gauges
	if r.gaugeInterval > 0 && r.gauges != nil {
		r.worker(r.gaugeInterval, r.refreshGauges)
	}

	return nil
}

func (r *Reporter) logPoolStats() {
	s := r.pool.Stats()

	r.logger.Info("worker pool stats: size=%d running=%d processed=%d failed=%d healthy=%t",
		s.PoolSize, s.WorkersRunning, s.TotalEventsProcessed, s.TotalEventsFailed, r.pool.HealthCheck())
}

func (r *Reporter) refreshGauges() {
	ctx, cancel := context.WithTimeout(r.ctx, r.statsTimeout)
	defer cancel()

	stats, err := r.queue.Stats(ctx)
	if err != nil {
		r.logger.Error(err, "Reporter - refreshGauges - r.queue.Stats")

		return
	}

	r.gauges.SetQueueStats(stats)
	r.gauges.SetWorkersRunning(r.pool.Stats().WorkersRunning)
}

func (r *Reporter) worker(interval time.Duration, task func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-r.ctx.Done():
				return
			case <-ticker.C:
				task()
			}
		}
	}()
}

func (r *Reporter) Shutdown(ctx context.Context) error {
	if !r.started.Load() {
		return nil
	}

	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})

	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("Reporter - Shutdown: %w", ctx.Err())
	}
}
