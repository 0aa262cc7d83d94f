package documents

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/richtunnel/partnerstestapi/internal/auth"
	"github.com/richtunnel/partnerstestapi/internal/capability"
	"github.com/richtunnel/partnerstestapi/internal/httpserver"
)

// Handler provides the document-upload HTTP operations.
type Handler struct {
	issuer *capability.Issuer
	logger *slog.Logger
}

// NewHandler creates a documents Handler.
func NewHandler(issuer *capability.Issuer, logger *slog.Logger) *Handler {
	return &Handler{issuer: issuer, logger: logger}
}

// Routes returns a chi.Router with all document routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.With(auth.RequireScopes("files:upload")).Post("/upload-url", h.handleUploadURL)
	r.With(auth.RequireScopes("files:upload")).Post("/batch-upload-urls", h.handleBatchUploadURLs)
	r.With(auth.RequireScopes("demographics:read")).Get("/{correlationId}/status", h.handleStatus)
	return r
}

func tenantID(r *http.Request) string {
	tc := auth.FromContext(r.Context())
	if tc == nil {
		return ""
	}
	return tc.Tenant
}

func (h *Handler) issueOne(r *http.Request, req UploadURLRequest) (UploadURLResponse, error) {
	result, err := h.issuer.IssueUpload(r.Context(), tenantID(r), req.FileName, req.ContentType)
	if err != nil {
		return UploadURLResponse{}, err
	}
	return UploadURLResponse{
		UploadURL:     result.UploadURL,
		BlobName:      result.BlobPath,
		CorrelationID: result.CorrelationID,
		ExpiresAt:     result.ExpiresAt,
	}, nil
}

func (h *Handler) handleUploadURL(w http.ResponseWriter, r *http.Request) {
	var req UploadURLRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.issueOne(r, req)
	if err != nil {
		h.logger.Error("issuing upload url", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, httpserver.CodeInternalError, "failed to issue upload url")
		return
	}

	httpserver.Respond(w, http.StatusOK, resp)
}

func (h *Handler) handleBatchUploadURLs(w http.ResponseWriter, r *http.Request) {
	var req BatchUploadURLsRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	items := make([]BatchUploadURLItem, len(req.Documents))
	for i, doc := range req.Documents {
		resp, err := h.issueOne(r, doc)
		if err != nil {
			items[i] = BatchUploadURLItem{Index: i, Error: err.Error()}
			continue
		}
		items[i] = BatchUploadURLItem{Index: i, Result: &resp}
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{"results": items})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	correlationID, err := uuid.Parse(chi.URLParam(r, "correlationId"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, httpserver.CodeValidationError, "invalid correlation id")
		return
	}

	desc, err := h.issuer.GetStatus(r.Context(), correlationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, httpserver.CodeNotFound, "capability not found")
			return
		}
		h.logger.Error("getting capability status", "error", err, "correlation_id", correlationID)
		httpserver.RespondError(w, http.StatusInternalServerError, httpserver.CodeInternalError, "failed to get status")
		return
	}

	httpserver.Respond(w, http.StatusOK, StatusResponse{Status: string(desc.Status), FileSize: desc.FileSize, Error: desc.Error})
}
