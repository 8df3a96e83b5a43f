package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/model"
	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/service"
)

// Dispatcher admits inbound events.
type Dispatcher interface {
	Handle(ctx context.Context, ev model.InboundEvent) (service.Outcome, error)
}

type webhookResponse struct {
	Success   bool   `json:"success"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Ignored   bool   `json:"ignored,omitempty"`
	Error     string `json:"error,omitempty"`
}

// WebhookHandler receives both platforms' webhooks.
type WebhookHandler struct {
	dispatcher Dispatcher
	log        *zap.Logger
	nowFn      func() time.Time
}

// NewWebhookHandler constructs a WebhookHandler.
func NewWebhookHandler(d Dispatcher, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{dispatcher: d, log: log, nowFn: time.Now}
}

// Messenger handles POST /webhook/suvvi
func (h *WebhookHandler) Messenger(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, model.SourceMessenger)
}

// Registry handles POST /webhook/alfa
func (h *WebhookHandler) Registry(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, model.SourceRegistry)
}

// serve acknowledges every admitted event with 200, including duplicates and
// events whose handler failed; the failure is recorded for the next delivery.
// A malformed payload is refused with 400, and 500 means the event could not
// be admitted at all.
func (h *WebhookHandler) serve(w http.ResponseWriter, r *http.Request, src model.Source) {
	var env model.Envelope
	if err := decodeJSON(w, r, &env); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if env.Event == "" {
		writeError(w, http.StatusBadRequest, "event is required")
		return
	}

	ev := model.NewInboundEvent(src, env, h.nowFn())
	h.log.Info("webhook received",
		zap.String("source", string(src)),
		zap.String("event", env.Event),
		zap.String("dedup_key", ev.DedupKey))

	out, err := h.dispatcher.Handle(r.Context(), ev)
	switch {
	case errors.Is(err, service.ErrMalformedEvent):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.log.Error("event not admitted", zap.String("dedup_key", ev.DedupKey), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "event could not be admitted")
		return
	}

	resp := webhookResponse{Success: true, Duplicate: out.Duplicate, Ignored: out.Ignored}
	if out.Err != nil {
		resp.Error = out.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}
