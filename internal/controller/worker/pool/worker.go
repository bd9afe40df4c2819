package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andreyxaxa/Event-Queue/internal/entity"
	"github.com/andreyxaxa/Event-Queue/internal/usecase"
	"github.com/andreyxaxa/Event-Queue/pkg/logger"
	"github.com/andreyxaxa/Event-Queue/pkg/types/errs"
)

// Worker runs one sequential claim/process loop. Stop is honored between events only,
// an event that is being processed always runs to its outcome.
type Worker struct {
	id       string
	queue    usecase.Queue
	process  usecase.ProcessFunc
	logger   logger.Interface
	observer Observer

	pollInterval  time.Duration
	idleWarnAfter time.Duration
	now           func() time.Time

	running     atomic.Bool
	state       atomic.Value // entity.WorkerState
	processed   atomic.Int64
	failed      atomic.Int64
	lastEventAt atomic.Int64 // unix nanos, 0 until the first event

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newWorker(id string, p *Pool) *Worker {
	w := &Worker{
		id:            id,
		queue:         p.queue,
		process:       p.process,
		logger:        p.logger,
		observer:      p.observer,
		pollInterval:  p.pollInterval,
		idleWarnAfter: p.idleWarnAfter,
		now:           p.now,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	w.state.Store(entity.WorkerIdle)

	return w
}

func (w *Worker) ID() string {
	return w.id
}

// Run blocks until ctx is cancelled or Stop is called, and the current event is settled.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	w.running.Store(true)
	w.logger.Info("Worker - Run - worker started: %s", w.id)

	defer func() {
		w.running.Store(false)
		w.setState(entity.WorkerStopped)
		w.logger.Info("Worker - Run - worker stopped: %s processed=%d failed=%d",
			w.id, w.processed.Load(), w.failed.Load())
	}()

	for {
		if w.stopRequested(ctx) {
			return
		}

		// queue calls are short and must not be torn by shutdown
		storeCtx := context.WithoutCancel(ctx)

		w.setState(entity.WorkerClaiming)
		ev, ok := w.queue.Claim(storeCtx, w.id)
		if !ok {
			w.setState(entity.WorkerIdle)
			w.sleep(ctx)
			continue
		}

		w.handle(storeCtx, ev)
		w.setState(entity.WorkerIdle)
	}
}

// Stop asks the loop to exit. It does not wait, see Done.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("Worker - Stop - worker stopping: %s", w.id)
		close(w.stop)
	})
}

func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) handle(ctx context.Context, ev *entity.Event) {
	w.lastEventAt.Store(w.now().UnixNano())

	w.setState(entity.WorkerProcessing)
	start := w.now()

	err := w.safeProcess(ctx, ev)
	took := w.now().Sub(start)

	if err == nil {
		w.setState(entity.WorkerCompleting)
		if !w.queue.Complete(ctx, ev) {
			w.logger.Warn("Worker - handle - completion not recorded, lease left to expire: worker=%s id=%d", w.id, ev.ID)
			return
		}
		w.processed.Add(1)
		w.observer.EventProcessed(ev.EventType, took)
		w.logger.Debug("Worker - handle - event done: worker=%s id=%d took=%s", w.id, ev.ID, took)

		return
	}

	permanent := errs.IsPermanent(err)
	msg := ErrorMessage(err)

	w.setState(entity.WorkerFailing)
	if permanent {
		w.queue.FailPermanently(ctx, ev, msg)
	} else {
		w.queue.Fail(ctx, ev, msg)
	}
	w.failed.Add(1)
	w.observer.EventFailed(ev.EventType, permanent, took)

	w.logger.Error(err, fmt.Sprintf("Worker - handle - w.process: worker=%s id=%d type=%s took=%s",
		w.id, ev.ID, ev.EventType, took))
}

// safeProcess turns a panic in the processing function into a transient error.
func (w *Worker) safeProcess(ctx context.Context, ev *entity.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.observer.PanicRecovered()
			err = &PanicError{Value: r}
		}
	}()

	return w.process(ctx, ev)
}

func (w *Worker) stopRequested(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-w.stop:
		return true
	default:
		return false
	}
}

func (w *Worker) sleep(ctx context.Context) {
	t := time.NewTimer(w.pollInterval)
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-w.stop:
	case <-t.C:
	}
}

func (w *Worker) setState(s entity.WorkerState) {
	w.state.Store(s)
}

func (w *Worker) State() entity.WorkerState {
	return w.state.Load().(entity.WorkerState)
}

// Healthy is true while the loop runs. A worker that has handled events before but none
// for longer than idleWarnAfter is logged, not reported unhealthy.
func (w *Worker) Healthy() bool {
	if !w.running.Load() {
		return false
	}

	if last := w.lastEventAt.Load(); last != 0 && w.idleWarnAfter > 0 {
		idle := w.now().Sub(time.Unix(0, last))
		if idle > w.idleWarnAfter {
			w.logger.Warn("Worker - Healthy - worker idle: %s idle=%s", w.id, idle.Round(time.Second))
		}
	}

	return true
}

func (w *Worker) Stats() entity.WorkerStats {
	s := entity.WorkerStats{
		WorkerID:        w.id,
		State:           w.State(),
		IsRunning:       w.running.Load(),
		EventsProcessed: w.processed.Load(),
		EventsFailed:    w.failed.Load(),
	}

	if last := w.lastEventAt.Load(); last != 0 {
		t := time.Unix(0, last).UTC()
		s.LastEventAt = &t
	}

	return s
}

// PanicError carries a value recovered from the processing function.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// ErrorMessage renders err as "<type>: <message>" for the event's error_message,
// naming the cause rather than the permanent marker.
func ErrorMessage(err error) string {
	var pe *errs.PermanentError
	if errors.As(err, &pe) && pe.Err != nil {
		err = pe.Err
	}

	return fmt.Sprintf("%T: %s", err, err.Error())
}
