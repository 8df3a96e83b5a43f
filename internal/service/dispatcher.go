package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/metrics"
	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/model"
	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/repository"
)

// handlerTimeout bounds a single handler run, independent of the webhook
// request that triggered it.
const handlerTimeout = 60 * time.Second

// HandlerFunc processes one admitted event.
type HandlerFunc func(ctx context.Context, ev model.InboundEvent) error

type route struct {
	source model.Source
	kind   model.Kind
}

// Outcome describes what Handle did with an accepted event.
type Outcome struct {
	// Duplicate is set when the dedup key was already completed or in flight.
	Duplicate bool
	// Ignored is set for kinds nobody handles.
	Ignored bool
	// Err is the handler's failure. The event is still accepted; a
	// redelivery will re-run it.
	Err error
}

// EventDispatcher is the single entry point for inbound webhook events.
type EventDispatcher struct {
	events  repository.EventLog
	routes  map[route]HandlerFunc
	metrics *metrics.Metrics
	log     *zap.Logger
	nowFn   func() time.Time
}

// NewEventDispatcher constructs a dispatcher with an empty routing table.
func NewEventDispatcher(events repository.EventLog, m *metrics.Metrics, log *zap.Logger) *EventDispatcher {
	return &EventDispatcher{
		events:  events,
		routes:  map[route]HandlerFunc{},
		metrics: m,
		log:     log,
		nowFn:   time.Now,
	}
}

// Register binds a handler to (source, kind).
func (d *EventDispatcher) Register(src model.Source, kind model.Kind, h HandlerFunc) {
	d.routes[route{source: src, kind: kind}] = h
}

// Validate checks that every known kind of every source has a handler.
func (d *EventDispatcher) Validate() error {
	var errs []error
	for src, kinds := range model.KnownKinds {
		for _, kind := range kinds {
			if _, ok := d.routes[route{source: src, kind: kind}]; !ok {
				errs = append(errs, fmt.Errorf("no handler for %s/%s", src, kind))
			}
		}
	}
	return errors.Join(errs...)
}

// Handle admits and processes one event.
//
// The dedup key is claimed before the handler runs, so concurrent or repeated
// deliveries of the same key run the handler at most once at a time and never
// again after a successful run. The returned error is non-nil only when the
// event could not be admitted (malformed, or the event log is unavailable);
// handler failures are reported through Outcome.Err.
func (d *EventDispatcher) Handle(ctx context.Context, ev model.InboundEvent) (Outcome, error) {
	log := d.log.With(
		zap.String("source", string(ev.Source)),
		zap.String("kind", string(ev.Kind)),
		zap.String("dedup_key", ev.DedupKey))

	if ev.Kind == "" || ev.DedupKey == "" {
		return Outcome{}, fmt.Errorf("%w: missing event name", ErrMalformedEvent)
	}

	h, ok := d.routes[route{source: ev.Source, kind: ev.Kind}]
	if !ok {
		log.Warn("unknown event kind, acknowledging without action")
		d.count(ev, metrics.OutcomeIgnored)
		return Outcome{Ignored: true}, nil
	}

	claimed, err := d.events.Claim(ctx, ev, d.nowFn())
	if err != nil {
		return Outcome{}, fmt.Errorf("admit event: %w", err)
	}
	if !claimed {
		log.Info("duplicate delivery, skipping")
		d.count(ev, metrics.OutcomeDuplicate)
		return Outcome{Duplicate: true}, nil
	}

	// Handlers run to completion even if the delivering platform drops the
	// connection.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), handlerTimeout)
	defer cancel()

	log.Info("processing event")
	herr := d.run(runCtx, h, ev)
	if herr != nil {
		if ferr := d.events.Fail(runCtx, ev.DedupKey, herr, d.nowFn()); ferr != nil {
			log.Error("could not record failed attempt", zap.Error(ferr))
		}
		d.count(ev, metrics.OutcomeFailed)
		log.Error("event handler failed", zap.Error(herr))
		if errors.Is(herr, ErrMalformedEvent) {
			return Outcome{}, herr
		}
		return Outcome{Err: herr}, nil
	}

	if err := d.events.Complete(runCtx, ev.DedupKey, d.nowFn()); err != nil {
		log.Error("could not record completed event", zap.Error(err))
	}
	d.count(ev, metrics.OutcomeProcessed)
	log.Info("event processed")
	return Outcome{}, nil
}

func (d *EventDispatcher) run(ctx context.Context, h HandlerFunc, ev model.InboundEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, ev)
}

func (d *EventDispatcher) count(ev model.InboundEvent, outcome string) {
	d.metrics.Events.WithLabelValues(string(ev.Source), string(ev.Kind), outcome).Inc()
}
