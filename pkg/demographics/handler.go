package demographics

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/richtunnel/partnerstestapi/internal/auth"
	"github.com/richtunnel/partnerstestapi/internal/gateway"
	"github.com/richtunnel/partnerstestapi/internal/httpserver"
	"github.com/richtunnel/partnerstestapi/internal/idempotency"
)

// Handler provides the HTTP operations for demographics submissions (C6).
type Handler struct {
	service *Service
	cache   *idempotency.Cache
	logger  *slog.Logger
}

// NewHandler creates a demographics Handler.
func NewHandler(service *Service, cache *idempotency.Cache, logger *slog.Logger) *Handler {
	return &Handler{service: service, cache: cache, logger: logger}
}

// Routes returns a chi.Router with all demographics routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.With(auth.RequireScopes("demographics:write")).Post("/", h.handleCreate)
	r.With(auth.RequireScopes("demographics:write")).Post("/batch", h.handleBatchCreate)
	r.With(auth.RequireScopes("demographics:read")).Get("/", h.handleList)
	r.Route("/{id}", func(r chi.Router) {
		r.With(auth.RequireScopes("demographics:read")).Get("/", h.handleGet)
		r.With(auth.RequireScopes("demographics:write")).Put("/", h.handleUpdate)
		r.With(auth.RequireScopes("demographics:write")).Delete("/", h.handleDelete)
	})
	return r
}

func tenantID(r *http.Request) string {
	tc := auth.FromContext(r.Context())
	if tc == nil {
		return ""
	}
	return tc.Tenant
}

func correlationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-ID")
}

// withIdempotency implements pipeline steps 6/8 around fn: on a cache hit or
// conflict it responds directly and fn never runs; otherwise it records
// fn's response and persists the binding once the response has been sent.
func (h *Handler) withIdempotency(w http.ResponseWriter, r *http.Request, fn func(rec *gateway.ResponseRecorder)) {
	key, present := gateway.IdempotencyKey(r)
	if !present {
		fn(gateway.NewResponseRecorder(w))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, httpserver.CodeValidationError, "failed to read request body")
		return
	}

	result, proceed, err := gateway.CheckIdempotency(r.Context(), h.cache, tenantID(r), key, r.Method, r.URL.Path, body)
	if err != nil {
		h.logger.Error("idempotency lookup failed", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, httpserver.CodeInternalError, "failed to check idempotency")
		return
	}
	if result.Conflict {
		httpserver.RespondError(w, http.StatusConflict, httpserver.CodeIdempotencyConflict, "idempotency key reused with a different request")
		return
	}
	if result.Hit {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(result.Status)
		_, _ = w.Write(result.Body)
		return
	}
	if !proceed {
		return
	}

	r.Body = io.NopCloser(bytes.NewReader(body))

	rec := gateway.NewResponseRecorder(w)
	fn(rec)
	gateway.CommitIdempotency(h.cache, tenantID(r), key, r.Method, r.URL.Path, body, rec)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	h.withIdempotency(w, r, func(rec *gateway.ResponseRecorder) {
		var req CreateRequest
		if !httpserver.DecodeAndValidate(rec, r, &req) {
			return
		}

		resp, err := h.service.Create(r.Context(), tenantID(r), req, nil, correlationID(r))
		if err != nil {
			h.logger.Error("creating demographic record", "error", err)
			httpserver.RespondError(rec, http.StatusInternalServerError, httpserver.CodeInternalError, "failed to create record")
			return
		}

		httpserver.Respond(rec, http.StatusCreated, CreateResponse{ID: resp.ID, Status: string(resp.Status), CreatedAt: resp.CreatedAt})
	})
}

func (h *Handler) handleBatchCreate(w http.ResponseWriter, r *http.Request) {
	h.withIdempotency(w, r, func(rec *gateway.ResponseRecorder) {
		var req BatchCreateRequest
		if !httpserver.DecodeAndValidate(rec, r, &req) {
			return
		}

		results := h.service.BatchCreate(r.Context(), tenantID(r), req, nil, correlationID(r))

		meta := BatchMetadata{Total: len(results)}
		for _, res := range results {
			if res.Status == "failed" {
				meta.Failed++
			} else {
				meta.Succeeded++
			}
		}

		httpserver.Respond(rec, http.StatusAccepted, BatchResponse{Results: results, Metadata: meta})
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	params, err := httpserver.ParseLimitOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, httpserver.CodeValidationError, err.Error())
		return
	}

	filters := ListFilters{
		Status: r.URL.Query().Get("status"),
		Search: r.URL.Query().Get("search"),
	}

	items, total, err := h.service.List(r.Context(), tenantID(r), filters, params.Limit, params.Offset)
	if err != nil {
		h.logger.Error("listing demographic records", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, httpserver.CodeInternalError, "failed to list records")
		return
	}

	httpserver.Respond(w, http.StatusOK, httpserver.NewDataPage(items, params, total))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, httpserver.CodeValidationError, "invalid record id")
		return
	}

	resp, err := h.service.Get(r.Context(), tenantID(r), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, httpserver.CodeNotFound, "record not found")
			return
		}
		h.logger.Error("getting demographic record", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, httpserver.CodeInternalError, "failed to get record")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{"data": resp})
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, httpserver.CodeValidationError, "invalid record id")
		return
	}

	h.withIdempotency(w, r, func(rec *gateway.ResponseRecorder) {
		var req UpdateRequest
		if !httpserver.DecodeAndValidate(rec, r, &req) {
			return
		}

		resp, err := h.service.Update(r.Context(), tenantID(r), id, req, correlationID(r))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				httpserver.RespondError(rec, http.StatusNotFound, httpserver.CodeNotFound, "record not found")
				return
			}
			h.logger.Error("updating demographic record", "error", err, "id", id)
			httpserver.RespondError(rec, http.StatusInternalServerError, httpserver.CodeInternalError, "failed to update record")
			return
		}

		httpserver.Respond(rec, http.StatusOK, resp)
	})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, httpserver.CodeValidationError, "invalid record id")
		return
	}

	deletedAt, err := h.service.Delete(r.Context(), tenantID(r), id, correlationID(r))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, httpserver.CodeNotFound, "record not found")
			return
		}
		h.logger.Error("deleting demographic record", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, httpserver.CodeInternalError, "failed to delete record")
		return
	}

	httpserver.Respond(w, http.StatusOK, DeleteResponse{ID: id, DeletedAt: deletedAt})
}
