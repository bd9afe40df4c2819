package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/andreyxaxa/Event-Queue/internal/entity"
	"github.com/andreyxaxa/Event-Queue/internal/usecase"
	"github.com/andreyxaxa/Event-Queue/pkg/logger"
	"github.com/andreyxaxa/Event-Queue/pkg/types/errs"
)

// Dispatcher routes claimed events to the handler registered for their type.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]usecase.Handler

	logger logger.Interface
}

func New(l logger.Interface) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]usecase.Handler),
		logger:   l,
	}
}

// Register binds h to eventType, replacing any earlier handler.
func (d *Dispatcher) Register(eventType string, h usecase.Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.handlers[eventType]; ok {
		d.logger.Warn("Dispatcher - Register - handler replaced: type=%s", eventType)
	}
	d.handlers[eventType] = h
}

func (d *Dispatcher) Types() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	types := make([]string, 0, len(d.handlers))
	for t := range d.handlers {
		types = append(types, t)
	}
	sort.Strings(types)

	return types
}

// Process is a usecase.ProcessFunc. An unregistered type fails permanently, retrying cannot fix it.
func (d *Dispatcher) Process(ctx context.Context, ev *entity.Event) error {
	d.mu.RLock()
	h, ok := d.handlers[ev.EventType]
	d.mu.RUnlock()

	if !ok {
		return errs.Permanent(fmt.Errorf("%w: %q", errs.ErrUnknownEventType, ev.EventType))
	}

	return h.Handle(ctx, ev)
}
