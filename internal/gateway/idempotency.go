package gateway

import (
	"context"
	"net/http"

	"github.com/richtunnel/partnerstestapi/internal/idempotency"
)

// IdempotencyHeader is the header write methods may carry to make a create
// or update operation safely retryable.
const IdempotencyHeader = "X-Idempotency-Key"

// IdempotencyKey returns the presented key and whether one was present.
func IdempotencyKey(r *http.Request) (string, bool) {
	key := r.Header.Get(IdempotencyHeader)
	return key, key != ""
}

// CheckIdempotency implements pipeline step 6: consult C3 before executing
// the operation. proceed is false when the caller should stop and respond
// directly from result (a cache hit or a conflict).
func CheckIdempotency(ctx context.Context, cache *idempotency.Cache, tenant, key, method, path string, body []byte) (result idempotency.Result, proceed bool, err error) {
	result, err = cache.Lookup(ctx, tenant, key, method, path, body)
	if err != nil {
		return idempotency.Result{}, false, err
	}
	return result, !result.Hit && !result.Conflict, nil
}

// CommitIdempotency implements pipeline step 8: asynchronously persist the
// captured response against key once it has been sent to the client. Safe
// to call with an empty key (no-op).
func CommitIdempotency(cache *idempotency.Cache, tenant, key, method, path string, body []byte, rec *ResponseRecorder) {
	if key == "" {
		return
	}
	status := rec.Status
	respBody := append([]byte(nil), rec.Body.Bytes()...)
	go cache.Store(context.Background(), tenant, key, method, path, body, status, respBody, idempotency.DefaultTTL)
}
