package ratelimit

import (
	"net/http"
	"strconv"

	"github.com/richtunnel/partnerstestapi/internal/auth"
)

// respondFunc lets the middleware write the standard gateway error envelope
// without importing internal/httpserver (which would create an import cycle
// back into auth/ratelimit consumers).
type respondFunc func(w http.ResponseWriter, status int, code, message string)

// Middleware implements pipeline step 4 (rate-limit) for every request that
// has already resolved a TenantContext. respond writes the error envelope;
// pass httpserver.RespondError.
func Middleware(limiter *Limiter, respond respondFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tc := auth.FromContext(r.Context())
			if tc == nil {
				next.ServeHTTP(w, r)
				return
			}

			result, err := limiter.TryConsume(r.Context(), tc.CredentialID, tc.RateLimit)
			if err != nil {
				respond(w, http.StatusInternalServerError, "INTERNAL_ERROR", "rate limiter failure")
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
			w.Header().Set("X-RateLimit-Window", string(result.Window))

			if !result.Allowed {
				w.Header().Set("Retry-After", strconv.FormatInt(int64(result.ResetAt.Unix()), 10))
				respond(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "rate limit exceeded for the "+string(result.Window)+" window")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
