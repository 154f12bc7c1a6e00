package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"go.fileflow.dev/internal/outbox"
)

// OutboxHandler exposes the operator surface of the transactional outbox:
// inspecting records, retrying FAILED ones, and reading the pending backlog.
type OutboxHandler struct {
	repo outbox.Repository
}

// NewOutboxHandler creates a new outbox admin handler
func NewOutboxHandler(repo outbox.Repository) *OutboxHandler {
	return &OutboxHandler{repo: repo}
}

// Routes returns the router for outbox admin endpoints
func (h *OutboxHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/stats", h.Stats)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/retry", h.Retry)

	return r
}

// Get handles GET /outbox/{id}
func (h *OutboxHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	record, err := h.repo.FindByID(r.Context(), id)
	if err != nil {
		slog.Error("Failed to load outbox record", "error", err, "id", id)
		WriteInternalError(w, "Failed to load outbox record")
		return
	}
	if record == nil {
		WriteNotFound(w, "Outbox record not found")
		return
	}
	WriteJSON(w, http.StatusOK, record)
}

// Retry handles POST /outbox/{id}/retry. Only FAILED records can be reset;
// this is the single path back to PENDING.
func (h *OutboxHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	record, err := h.repo.FindByID(r.Context(), id)
	if err != nil {
		slog.Error("Failed to load outbox record", "error", err, "id", id)
		WriteInternalError(w, "Failed to load outbox record")
		return
	}
	if record == nil {
		WriteNotFound(w, "Outbox record not found")
		return
	}
	if record.Status != outbox.StatusFailed {
		WriteError(w, http.StatusConflict, "invalid_state",
			"Only FAILED records can be retried")
		return
	}

	if err := h.repo.ResetForRetry(r.Context(), id); err != nil {
		slog.Error("Failed to reset outbox record", "error", err, "id", id)
		WriteInternalError(w, "Failed to reset outbox record")
		return
	}

	record, err = h.repo.FindByID(r.Context(), id)
	if err != nil || record == nil {
		slog.Error("Failed to reload outbox record after reset", "error", err, "id", id)
		WriteInternalError(w, "Failed to reload outbox record")
		return
	}
	WriteJSON(w, http.StatusOK, record)
}

// Stats handles GET /outbox/stats
func (h *OutboxHandler) Stats(w http.ResponseWriter, r *http.Request) {
	pending, err := h.repo.CountPending(r.Context())
	if err != nil {
		slog.Error("Failed to count pending outbox records", "error", err)
		WriteInternalError(w, "Failed to count pending outbox records")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"pendingByEventType": pending,
	})
}
