package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andreyxaxa/Event-Queue/internal/infrastructure"
	kafkapc "github.com/andreyxaxa/Event-Queue/internal/infrastructure/kafka"
	"github.com/andreyxaxa/Event-Queue/internal/usecase"
	"github.com/andreyxaxa/Event-Queue/pkg/logger"
	"github.com/andreyxaxa/Event-Queue/pkg/types/errs"
	"github.com/segmentio/kafka-go"
)

// IngestController turns topic messages into queue events. The offset is committed only
// after the insert, so a crash in between redelivers the message.
type IngestController struct {
	queue  usecase.Queue
	source infrastructure.MessageSource
	logger logger.Interface

	defaultType   string
	insertTimeout time.Duration
	commitTimeout time.Duration
	retryBackoff  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	started atomic.Bool
}

func New(
	q usecase.Queue,
	source infrastructure.MessageSource,
	l logger.Interface,
	defaultType string,
	insertTimeout time.Duration,
	commitTimeout time.Duration,
	retryBackoff time.Duration,
) *IngestController {
	return &IngestController{
		queue:         q,
		source:        source,
		logger:        l,
		defaultType:   defaultType,
		insertTimeout: insertTimeout,
		commitTimeout: commitTimeout,
		retryBackoff:  retryBackoff,
	}
}

func (c *IngestController) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("IngestController - Start - controller already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		for {
			// 1. read from kafka
			msg, err := c.source.ReadMessage(c.ctx)
			if err != nil {
				if c.ctx.Err() != nil {
					return
				}
				c.logger.Error(err, "IngestController - Start - c.source.ReadMessage")
				c.pause()
				continue
			}

			// 2. store and commit
			c.handle(msg)
		}
	}()

	return nil
}

func (c *IngestController) handle(msg kafka.Message) {
	for {
		err := c.ingest(msg)
		if err == nil {
			break
		}

		if errors.Is(err, errs.ErrInvalidEvent) {
			// poison message, committed so it does not block the partition
			c.logger.Warn("IngestController - handle - message skipped: partition=%d offset=%d: %v",
				msg.Partition, msg.Offset, err)
			break
		}

		c.logger.Error(err, "IngestController - handle - c.ingest")

		// a later commit would move the group offset past msg, so it is retried in place
		c.pause()
		if c.ctx.Err() != nil {
			return
		}
	}

	commitCtx, commitCancel := context.WithTimeout(context.WithoutCancel(c.ctx), c.commitTimeout)
	defer commitCancel()

	if err := c.source.Commit(commitCtx, msg); err != nil {
		c.logger.Error(err, "IngestController - handle - c.source.Commit")
	}
}

func (c *IngestController) ingest(msg kafka.Message) error {
	eventType := EventType(msg, c.defaultType)

	payload := json.RawMessage(msg.Value)

	insertCtx, insertCancel := context.WithTimeout(context.WithoutCancel(c.ctx), c.insertTimeout)
	defer insertCancel()

	id, err := c.queue.Insert(insertCtx, eventType, payload)
	if err != nil {
		return fmt.Errorf("IngestController - ingest - c.queue.Insert: %w", err)
	}

	c.logger.Debug("IngestController - ingest - event stored: id=%d type=%s offset=%d", id, eventType, msg.Offset)

	return nil
}

func (c *IngestController) pause() {
	t := time.NewTimer(c.retryBackoff)
	defer t.Stop()

	select {
	case <-c.ctx.Done():
	case <-t.C:
	}
}

// EventType picks the event type of msg: the event_type header, then the key, then fallback.
func EventType(msg kafka.Message, fallback string) string {
	for _, h := range msg.Headers {
		if h.Key == kafkapc.HeaderEventType && len(h.Value) > 0 {
			return string(h.Value)
		}
	}

	if len(msg.Key) > 0 {
		return string(msg.Key)
	}

	return fallback
}

func (c *IngestController) Shutdown(ctx context.Context) error {
	if !c.started.Load() {
		return nil
	}

	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})

	go func() {
		c.wg.Wait()
		c.source.Close()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("IngestController - Shutdown: %w", ctx.Err())
	}
}
