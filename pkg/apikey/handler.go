package apikey

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/richtunnel/partnerstestapi/internal/auth"
	"github.com/richtunnel/partnerstestapi/internal/httpserver"
)

// Handler serves the admin credential-issuance endpoint.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates an apikey Handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Routes returns the /admin/api-keys router, mounted under the authenticated
// /v1 sub-router by the caller. Issuing new credentials requires the
// demographics:admin scope.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.With(auth.RequireScopes(auth.ScopeDemographicsAdmin)).Post("/", h.handleCreate)
	return r
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.service.Create(r.Context(), req)
	if err != nil {
		h.logger.Error("issuing credential", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, httpserver.CodeInternalError, "failed to issue credential")
		return
	}

	httpserver.Respond(w, http.StatusCreated, resp)
}
