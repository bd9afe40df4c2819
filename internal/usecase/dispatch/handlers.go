package dispatch

import (
	"bytes"
	"context"
	"fmt"

	"github.com/andreyxaxa/Event-Queue/internal/entity"
	"github.com/andreyxaxa/Event-Queue/internal/infrastructure"
	"github.com/andreyxaxa/Event-Queue/internal/repo"
	"github.com/andreyxaxa/Event-Queue/pkg/logger"
)

const archiveContentType = "application/json"

type NoopHandler struct {
	logger logger.Interface
}

func NewNoopHandler(l logger.Interface) *NoopHandler {
	return &NoopHandler{logger: l}
}

func (h *NoopHandler) Handle(_ context.Context, ev *entity.Event) error {
	h.logger.Debug("NoopHandler - Handle - event dropped: id=%d type=%s", ev.ID, ev.EventType)

	return nil
}

// RelayHandler publishes the payload to the broker. Broker errors are transient.
type RelayHandler struct {
	publisher infrastructure.EventPublisher
}

func NewRelayHandler(p infrastructure.EventPublisher) *RelayHandler {
	return &RelayHandler{publisher: p}
}

func (h *RelayHandler) Handle(ctx context.Context, ev *entity.Event) error {
	if err := h.publisher.Publish(ctx, ev); err != nil {
		return fmt.Errorf("RelayHandler - Handle - h.publisher.Publish: %w", err)
	}

	return nil
}

// ArchiveHandler writes the payload to object storage. Writing the same event twice
// overwrites one object, so redelivery is harmless.
type ArchiveHandler struct {
	archive repo.ArchiveRepo
}

func NewArchiveHandler(a repo.ArchiveRepo) *ArchiveHandler {
	return &ArchiveHandler{archive: a}
}

func (h *ArchiveHandler) Handle(ctx context.Context, ev *entity.Event) error {
	err := h.archive.Put(ctx, ArchiveKey(ev), bytes.NewReader(ev.Payload), archiveContentType, int64(len(ev.Payload)))
	if err != nil {
		return fmt.Errorf("ArchiveHandler - Handle - h.archive.Put: %w", err)
	}

	return nil
}

func ArchiveKey(ev *entity.Event) string {
	return fmt.Sprintf("events/%s/%d.json", ev.EventType, ev.ID)
}
