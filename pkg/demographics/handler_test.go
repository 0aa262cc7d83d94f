package demographics

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/richtunnel/partnerstestapi/internal/auth"
	"github.com/richtunnel/partnerstestapi/internal/queue/memqueue"
)

func newTestHandler(store recordStore) *Handler {
	svc := NewService(store, memqueue.New(), discardLogger())
	return NewHandler(svc, nil, discardLogger())
}

// withTenant attaches a resolved TenantContext to the request, as
// auth.Middleware would after a successful X-API-Key resolution.
func withTenant(r *http.Request, tenant string) *http.Request {
	tc := &auth.TenantContext{Tenant: tenant, Scopes: []string{"demographics:read", "demographics:write"}}
	return r.WithContext(auth.NewContext(r.Context(), tc))
}

func TestHandleBatchCreateReturnsAcceptedWithMetadata(t *testing.T) {
	store := newFakeStore()
	store.failNth = 2
	h := newTestHandler(store)

	body := `{"records":[{"payload":{"a":1}},{"payload":{"a":2}}]}`
	req := withTenant(httptest.NewRequest(http.MethodPost, "/batch", bytes.NewBufferString(body)), "acme")
	rr := httptest.NewRecorder()

	h.handleBatchCreate(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusAccepted)
	}

	var resp BatchResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Metadata.Total != 2 || resp.Metadata.Succeeded != 1 || resp.Metadata.Failed != 1 {
		t.Errorf("metadata = %+v, want {Total:2 Succeeded:1 Failed:1}", resp.Metadata)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(resp.Results))
	}
}

func TestHandleGetWrapsPayloadInDataEnvelope(t *testing.T) {
	store := newFakeStore()
	id := uuid.New()
	store.records[id] = Record{ID: id, Tenant: "acme", Payload: json.RawMessage(`{"a":1}`), Status: StatusActive}
	h := newTestHandler(store)

	req := withTenant(httptest.NewRequest(http.MethodGet, "/"+id.String(), nil), "acme")
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id.String())
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	rr := httptest.NewRecorder()

	h.handleGet(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var envelope struct {
		Data Response `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if envelope.Data.ID != id {
		t.Errorf("envelope.Data.ID = %v, want %v", envelope.Data.ID, id)
	}
}

func TestHandleDeleteReturnsOKWithDeletedAt(t *testing.T) {
	store := newFakeStore()
	id := uuid.New()
	store.records[id] = Record{ID: id, Tenant: "acme", Status: StatusActive}
	h := newTestHandler(store)

	req := withTenant(httptest.NewRequest(http.MethodDelete, "/"+id.String(), nil), "acme")
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id.String())
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	rr := httptest.NewRecorder()

	h.handleDelete(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var resp DeleteResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.ID != id {
		t.Errorf("resp.ID = %v, want %v", resp.ID, id)
	}
	if resp.DeletedAt.IsZero() {
		t.Error("resp.DeletedAt is zero")
	}
}

func TestHandleListReturnsDataAndPaginationEnvelope(t *testing.T) {
	store := newFakeStore()
	for i := 0; i < 3; i++ {
		id := uuid.New()
		store.records[id] = Record{ID: id, Tenant: "acme", Status: StatusActive}
	}
	h := newTestHandler(store)

	req := withTenant(httptest.NewRequest(http.MethodGet, "/?limit=2&offset=0", nil), "acme")
	rr := httptest.NewRecorder()

	h.handleList(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var page struct {
		Data       []Response     `json:"data"`
		Pagination map[string]any `json:"pagination"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &page); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(page.Data) != 2 {
		t.Errorf("len(page.Data) = %d, want 2", len(page.Data))
	}
	if page.Pagination["total"] != float64(3) {
		t.Errorf("pagination.total = %v, want 3", page.Pagination["total"])
	}
	if page.Pagination["limit"] != float64(2) {
		t.Errorf("pagination.limit = %v, want 2", page.Pagination["limit"])
	}
}

func TestHandleListRejectsInvalidLimit(t *testing.T) {
	h := newTestHandler(newFakeStore())

	req := withTenant(httptest.NewRequest(http.MethodGet, "/?limit=-1", nil), "acme")
	rr := httptest.NewRecorder()

	h.handleList(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}
