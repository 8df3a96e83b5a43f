// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/model"
)

// maxBodyBytes caps inbound request bodies.
const maxBodyBytes = 1 << 20

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

// decodeJSON reads a size-limited JSON body. Unknown fields are allowed:
// the platforms add fields to their payloads without notice.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

// ─── Health check ─────────────────────────────────────────────────────────────

type healthResponse struct {
	Status string  `json:"status"`
	Uptime float64 `json:"uptime"`
}

// Health handles GET /health and reports uptime in seconds since started.
func Health(started time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{
			Status: "ok",
			Uptime: time.Since(started).Seconds(),
		})
	}
}

// ─── Slots ────────────────────────────────────────────────────────────────────

// SlotLister reports free seats per open group of a course.
type SlotLister interface {
	Slots(ctx context.Context, courseID string) (*model.Slots, error)
}

// SlotsHandler serves seat availability.
type SlotsHandler struct {
	slots SlotLister
	log   *zap.Logger
}

// NewSlotsHandler constructs a SlotsHandler.
func NewSlotsHandler(slots SlotLister, log *zap.Logger) *SlotsHandler {
	return &SlotsHandler{slots: slots, log: log}
}

// Get handles GET /courses/{id}/slots
func (h *SlotsHandler) Get(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "id")

	slots, err := h.slots.Slots(r.Context(), courseID)
	if err != nil {
		h.log.Error("could not list slots", zap.String("course_id", courseID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "registry unavailable")
		return
	}

	writeJSON(w, http.StatusOK, slots)
}
