package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/andreyxaxa/Event-Queue/internal/entity"
	"github.com/andreyxaxa/Event-Queue/internal/usecase"
	"github.com/andreyxaxa/Event-Queue/pkg/logger"
	"github.com/andreyxaxa/Event-Queue/pkg/types/errs"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	published []*entity.Event
	err       error
}

func (p *fakePublisher) Publish(_ context.Context, ev *entity.Event) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, ev)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

type fakeArchive struct {
	objects map[string][]byte
	types   map[string]string
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{objects: map[string][]byte{}, types: map[string]string{}}
}

func (a *fakeArchive) Put(_ context.Context, key string, data io.Reader, contentType string, size int64) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, data); err != nil {
		return err
	}
	if int64(buf.Len()) != size {
		return errors.New("size mismatch")
	}
	a.objects[key] = buf.Bytes()
	a.types[key] = contentType
	return nil
}

func (a *fakeArchive) Get(_ context.Context, key string) ([]byte, error) {
	b, ok := a.objects[key]
	if !ok {
		return nil, errs.ErrRecordNotFound
	}
	return b, nil
}

func TestDispatcher_UnknownTypeIsPermanent(t *testing.T) {
	d := New(logger.Nop())

	err := d.Process(context.Background(), &entity.Event{ID: 1, EventType: "nobody.listens"})

	require.Error(t, err)
	assert.True(t, errs.IsPermanent(err))
	assert.ErrorIs(t, err, errs.ErrUnknownEventType)
}

func TestDispatcher_Routes(t *testing.T) {
	d := New(logger.Nop())

	var got []string
	d.Register("a", usecase.HandlerFunc(func(_ context.Context, ev *entity.Event) error {
		got = append(got, "a:"+ev.EventType)
		return nil
	}))
	d.Register("b", usecase.HandlerFunc(func(context.Context, *entity.Event) error {
		return errors.New("downstream unavailable")
	}))

	require.NoError(t, d.Process(context.Background(), &entity.Event{EventType: "a"}))

	err := d.Process(context.Background(), &entity.Event{EventType: "b"})
	require.Error(t, err)
	assert.False(t, errs.IsPermanent(err))

	assert.Equal(t, []string{"a:a"}, got)
	assert.Equal(t, []string{"a", "b"}, d.Types())
}

func TestRelayHandler(t *testing.T) {
	p := &fakePublisher{}
	h := NewRelayHandler(p)
	ev := &entity.Event{ID: gofakeit.Int64(), EventType: "order.paid", Payload: json.RawMessage(`{}`)}

	require.NoError(t, h.Handle(context.Background(), ev))
	assert.Equal(t, []*entity.Event{ev}, p.published)

	p.err = errors.New("broker down")
	err := h.Handle(context.Background(), ev)
	require.Error(t, err)
	assert.False(t, errs.IsPermanent(err))
}

func TestArchiveHandler(t *testing.T) {
	a := newFakeArchive()
	h := NewArchiveHandler(a)

	payload, err := json.Marshal(map[string]string{"name": gofakeit.Name(), "email": gofakeit.Email()})
	require.NoError(t, err)

	ev := &entity.Event{ID: 9, EventType: "user.created", Payload: payload}
	require.NoError(t, h.Handle(context.Background(), ev))

	assert.Equal(t, "events/user.created/9.json", ArchiveKey(ev))

	stored, err := a.Get(context.Background(), "events/user.created/9.json")
	require.NoError(t, err)
	assert.JSONEq(t, string(payload), string(stored))
	assert.Equal(t, archiveContentType, a.types["events/user.created/9.json"])
}

func TestNoopHandler(t *testing.T) {
	assert.NoError(t, NewNoopHandler(logger.Nop()).Handle(context.Background(), &entity.Event{ID: 1}))
}
