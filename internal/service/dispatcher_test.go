package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/metrics"
	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/model"
	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/repository"
)

func newTestDispatcher() (*EventDispatcher, *repository.MemoryEventLog) {
	events := repository.NewMemoryEventLog(repository.Retention{Keep: time.Hour, Lease: time.Minute})
	return NewEventDispatcher(events, metrics.NewNop(), zap.NewNop()), events
}

func leadEvent(key string) model.InboundEvent {
	return model.InboundEvent{
		Source:   model.SourceMessenger,
		Kind:     model.KindNewLead,
		DedupKey: key,
		Data:     json.RawMessage(`{"phone":"+998901234567","course_id":"c1"}`),
	}
}

func TestHandle_RedeliveryRunsHandlerOnce(t *testing.T) {
	d, events := newTestDispatcher()
	var calls atomic.Int32
	d.Register(model.SourceMessenger, model.KindNewLead, func(context.Context, model.InboundEvent) error {
		calls.Add(1)
		return nil
	})

	out, err := d.Handle(context.Background(), leadEvent("messenger:e1"))
	require.NoError(t, err)
	assert.False(t, out.Duplicate)

	out, err = d.Handle(context.Background(), leadEvent("messenger:e1"))
	require.NoError(t, err)
	assert.True(t, out.Duplicate)
	assert.Equal(t, int32(1), calls.Load())

	rec, err := events.Get(context.Background(), "messenger:e1")
	require.NoError(t, err)
	assert.Equal(t, repository.StateCompleted, rec.State)
}

func TestHandle_ConcurrentDeliveriesRunOnce(t *testing.T) {
	d, _ := newTestDispatcher()
	var calls atomic.Int32
	d.Register(model.SourceMessenger, model.KindNewLead, func(context.Context, model.InboundEvent) error {
		calls.Add(1)
		time.Sleep(10 * time.Millisecond)
		return nil
	})

	var wg sync.WaitGroup
	var duplicates atomic.Int32
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := d.Handle(context.Background(), leadEvent("messenger:e2"))
			assert.NoError(t, err)
			if out.Duplicate {
				duplicates.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(9), duplicates.Load())
}

func TestHandle_FailedEventIsRetried(t *testing.T) {
	d, events := newTestDispatcher()
	var calls atomic.Int32
	d.Register(model.SourceMessenger, model.KindNewLead, func(context.Context, model.InboundEvent) error {
		if calls.Add(1) == 1 {
			return errRemoteDown
		}
		return nil
	})
	ctx := context.Background()

	out, err := d.Handle(ctx, leadEvent("messenger:e3"))
	require.NoError(t, err, "handler failures do not reject the delivery")
	assert.ErrorIs(t, out.Err, errRemoteDown)

	rec, err := events.Get(ctx, "messenger:e3")
	require.NoError(t, err)
	assert.Equal(t, repository.StateFailed, rec.State)

	out, err = d.Handle(ctx, leadEvent("messenger:e3"))
	require.NoError(t, err)
	assert.NoError(t, out.Err)
	assert.False(t, out.Duplicate)

	out, err = d.Handle(ctx, leadEvent("messenger:e3"))
	require.NoError(t, err)
	assert.True(t, out.Duplicate)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHandle_UnknownKindIgnored(t *testing.T) {
	d, events := newTestDispatcher()
	ev := model.InboundEvent{Source: model.SourceRegistry, Kind: "invoice.voided", DedupKey: "registry:x"}

	out, err := d.Handle(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, out.Ignored)

	_, err = events.Get(context.Background(), "registry:x")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestHandle_MalformedEventRejected(t *testing.T) {
	d, _ := newTestDispatcher()
	d.Register(model.SourceMessenger, model.KindNewLead, func(context.Context, model.InboundEvent) error {
		return missing("phone")
	})

	_, err := d.Handle(context.Background(), model.InboundEvent{Source: model.SourceMessenger, DedupKey: "k"})
	assert.ErrorIs(t, err, ErrMalformedEvent)

	_, err = d.Handle(context.Background(), leadEvent("messenger:e4"))
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func TestHandle_PanicBecomesFailure(t *testing.T) {
	d, _ := newTestDispatcher()
	d.Register(model.SourceMessenger, model.KindNewLead, func(context.Context, model.InboundEvent) error {
		panic("boom")
	})

	out, err := d.Handle(context.Background(), leadEvent("messenger:e5"))
	require.NoError(t, err)
	assert.ErrorContains(t, out.Err, "boom")
}

type brokenEventLog struct{ repository.EventLog }

func (brokenEventLog) Claim(context.Context, model.InboundEvent, time.Time) (bool, error) {
	return false, errors.New("connection refused")
}

func TestHandle_EventLogUnavailable(t *testing.T) {
	d := NewEventDispatcher(brokenEventLog{}, metrics.NewNop(), zap.NewNop())
	var calls atomic.Int32
	d.Register(model.SourceMessenger, model.KindNewLead, func(context.Context, model.InboundEvent) error {
		calls.Add(1)
		return nil
	})

	_, err := d.Handle(context.Background(), leadEvent("messenger:e6"))
	assert.ErrorContains(t, err, "admit event")
	assert.Zero(t, calls.Load())
}

func TestHandle_HandlerOutlivesRequestContext(t *testing.T) {
	d, _ := newTestDispatcher()
	var handlerErr error
	d.Register(model.SourceMessenger, model.KindNewLead, func(ctx context.Context, _ model.InboundEvent) error {
		handlerErr = ctx.Err()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	out, err := d.Handle(ctx, leadEvent("messenger:e7"))
	cancel()
	require.NoError(t, err)
	assert.NoError(t, out.Err)

	ctx2, cancel2 := context.WithCancel(context.Background())
	cancel2()
	_, err = d.Handle(ctx2, leadEvent("messenger:e8"))
	require.NoError(t, err)
	assert.NoError(t, handlerErr)
}

func TestValidate(t *testing.T) {
	d, _ := newTestDispatcher()
	d.Register(model.SourceMessenger, model.KindNewLead, func(context.Context, model.InboundEvent) error { return nil })
	assert.Error(t, d.Validate())

	reg := newFakeRegistry()
	alloc := newTestAllocator(reg, &recordingNotifier{})
	med := NewSyncMediator(reg, &recordingMessenger{}, NewTagBook(time.Hour), metrics.NewNop(), zap.NewNop())
	NewHandlers(reg, alloc, med, &recordingNotifier{}, zap.NewNop()).RegisterAll(d)
	assert.NoError(t, d.Validate())
}
