package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"go.fileflow.dev/internal/download/operations"
)

// DownloadHandler handles external download endpoints
type DownloadHandler struct {
	requestUseCase *operations.RequestExternalDownloadUseCase
	getUseCase     *operations.GetDownloadUseCase

	// defaultBucket receives fetched files when the request names no bucket
	defaultBucket string
}

// NewDownloadHandler creates a new external download handler
func NewDownloadHandler(requestUseCase *operations.RequestExternalDownloadUseCase, getUseCase *operations.GetDownloadUseCase, defaultBucket string) *DownloadHandler {
	return &DownloadHandler{
		requestUseCase: requestUseCase,
		getUseCase:     getUseCase,
		defaultBucket:  defaultBucket,
	}
}

// Routes returns the router for external download endpoints
func (h *DownloadHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Request)
	r.Get("/{id}", h.Get)

	return r
}

// Request handles POST /external-downloads
func (h *DownloadHandler) Request(w http.ResponseWriter, r *http.Request) {
	var cmd operations.RequestExternalDownloadCommand
	if err := DecodeJSON(r, &cmd); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if cmd.Bucket == "" {
		cmd.Bucket = h.defaultBucket
	}

	result := h.requestUseCase.Execute(r.Context(), cmd)
	WriteUseCaseResult(w, result, http.StatusAccepted)
}

// Get handles GET /external-downloads/{id}
func (h *DownloadHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result := h.getUseCase.Execute(r.Context(), id)
	WriteUseCaseResult(w, result, http.StatusOK)
}
