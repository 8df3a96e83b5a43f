package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// RouterDeps groups what the router serves.
type RouterDeps struct {
	Dispatcher Dispatcher
	Slots      SlotLister
	Gatherer   prometheus.Gatherer
	Started    time.Time
	Log        *zap.Logger
}

// NewRouter builds the HTTP surface.
func NewRouter(d RouterDeps) http.Handler {
	webhooks := NewWebhookHandler(d.Dispatcher, d.Log)
	slots := NewSlotsHandler(d.Slots, d.Log)

	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(Logger(d.Log))

	r.Get("/health", Health(d.Started))
	r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/webhook", func(r chi.Router) {
		r.Post("/suvvi", webhooks.Messenger)
		r.Post("/alfa", webhooks.Registry)
	})
	r.Get("/courses/{id}/slots", slots.Get)

	return r
}
