package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"go.fileflow.dev/internal/upload"
	"go.fileflow.dev/internal/upload/operations"
)

// UploadHandler handles upload session endpoints using UseCases
type UploadHandler struct {
	createUseCase   *operations.CreateUploadSessionUseCase
	initiateUseCase *operations.InitiateMultipartUseCase
	markPartUseCase *operations.MarkPartUploadedUseCase
	completeMulti   *operations.CompleteMultipartUseCase
	completeSingle  *operations.CompleteSingleUploadUseCase
	abortUseCase    *operations.AbortSessionUseCase
	getUseCase      *operations.GetSessionUseCase
}

// NewUploadHandler creates a new upload session handler
func NewUploadHandler(
	createUseCase *operations.CreateUploadSessionUseCase,
	initiateUseCase *operations.InitiateMultipartUseCase,
	markPartUseCase *operations.MarkPartUploadedUseCase,
	completeMulti *operations.CompleteMultipartUseCase,
	completeSingle *operations.CompleteSingleUploadUseCase,
	abortUseCase *operations.AbortSessionUseCase,
	getUseCase *operations.GetSessionUseCase,
) *UploadHandler {
	return &UploadHandler{
		createUseCase:   createUseCase,
		initiateUseCase: initiateUseCase,
		markPartUseCase: markPartUseCase,
		completeMulti:   completeMulti,
		completeSingle:  completeSingle,
		abortUseCase:    abortUseCase,
		getUseCase:      getUseCase,
	}
}

// Routes returns the router for upload session endpoints
func (h *UploadHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/multipart/initiate", h.InitiateMultipart)
	r.Put("/{id}/parts/{partNumber}", h.MarkPartUploaded)
	r.Post("/{id}/complete", h.Complete)
	r.Post("/{id}/abort", h.Abort)

	return r
}

// Create handles POST /upload-sessions
func (h *UploadHandler) Create(w http.ResponseWriter, r *http.Request) {
	var cmd operations.CreateUploadSessionCommand
	if err := DecodeJSON(r, &cmd); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	result := h.createUseCase.Execute(r.Context(), cmd)
	WriteUseCaseResult(w, result, http.StatusCreated)
}

// Get handles GET /upload-sessions/{id}
func (h *UploadHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result := h.getUseCase.Execute(r.Context(), operations.GetSessionQuery{SessionID: id})
	WriteUseCaseResult(w, result, http.StatusOK)
}

// InitiateMultipart handles POST /upload-sessions/{id}/multipart/initiate
func (h *UploadHandler) InitiateMultipart(w http.ResponseWriter, r *http.Request) {
	var cmd operations.InitiateMultipartCommand
	if err := DecodeJSON(r, &cmd); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	cmd.SessionID = chi.URLParam(r, "id")

	result := h.initiateUseCase.Execute(r.Context(), cmd)
	WriteUseCaseResult(w, result, http.StatusOK)
}

// MarkPartUploaded handles PUT /upload-sessions/{id}/parts/{partNumber}
func (h *UploadHandler) MarkPartUploaded(w http.ResponseWriter, r *http.Request) {
	partNumber, err := strconv.Atoi(chi.URLParam(r, "partNumber"))
	if err != nil {
		WriteBadRequest(w, "Invalid part number")
		return
	}

	var cmd operations.MarkPartUploadedCommand
	if err := DecodeJSON(r, &cmd); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	cmd.SessionID = chi.URLParam(r, "id")
	cmd.PartNumber = partNumber

	result := h.markPartUseCase.Execute(r.Context(), cmd)
	WriteUseCaseResult(w, result, http.StatusOK)
}

// Complete handles POST /upload-sessions/{id}/complete. Single and multipart
// sessions finish through different use cases; the session's upload type
// picks which one runs.
func (h *UploadHandler) Complete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	detail := h.getUseCase.Execute(r.Context(), operations.GetSessionQuery{SessionID: id})
	if detail.IsFailure() {
		WriteUseCaseError(w, detail.Error)
		return
	}

	if detail.Value.Session.UploadType == upload.UploadTypeMultipart {
		result := h.completeMulti.Execute(r.Context(), operations.CompleteMultipartCommand{SessionID: id})
		WriteUseCaseResult(w, result, http.StatusOK)
		return
	}

	result := h.completeSingle.Execute(r.Context(), operations.CompleteSingleUploadCommand{SessionID: id})
	WriteUseCaseResult(w, result, http.StatusOK)
}

// Abort handles POST /upload-sessions/{id}/abort
func (h *UploadHandler) Abort(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result := h.abortUseCase.Execute(r.Context(), operations.AbortSessionCommand{SessionID: id})
	WriteUseCaseResult(w, result, http.StatusOK)
}
