package auth

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
)

type contextKey string

const tenantCtxKey contextKey = "tenant_context"

// NewContext stores the resolved TenantContext on ctx.
func NewContext(ctx context.Context, tc *TenantContext) context.Context {
	return context.WithValue(ctx, tenantCtxKey, tc)
}

// FromContext extracts the TenantContext set by Middleware. Returns nil if
// the request was anonymous or authentication has not run.
func FromContext(ctx context.Context) *TenantContext {
	v, _ := ctx.Value(tenantCtxKey).(*TenantContext)
	return v
}

// anonymousRoutes lists paths that bypass authentication entirely (step 2 of
// the gateway pipeline: "on allow_anonymous routes a missing token bypasses
// authentication").
var anonymousRoutes = map[string]bool{
	"/health":  true,
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

// Middleware authenticates the caller via X-API-Key and stores the resolved
// TenantContext in the request context. Requests to allow_anonymous routes
// with no key proceed unauthenticated; everything else with a missing or
// invalid key is rejected with 401.
func Middleware(resolver *Store, credentialPrefix string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey := r.Header.Get("X-API-Key")

			if rawKey == "" {
				if anonymousRoutes[r.URL.Path] {
					next.ServeHTTP(w, r)
					return
				}
				writeAuthError(w, http.StatusUnauthorized, "MISSING_API_KEY", "an X-API-Key header is required")
				return
			}

			tc, reason := resolver.Resolve(r.Context(), credentialPrefix, rawKey, clientIP(r), nil)
			if reason != FailureNone {
				logger.Warn("credential resolution failed", "reason", reason)
				writeAuthError(w, http.StatusUnauthorized, "INVALID_API_KEY", "the presented API key is invalid")
				return
			}

			ctx := NewContext(r.Context(), tc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScopes returns middleware that rejects the request with 401 unless
// the resolved TenantContext carries every given scope (step 3: authorize).
func RequireScopes(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tc := FromContext(r.Context())
			if tc == nil || !tc.HasScopes(scopes...) {
				writeAuthError(w, http.StatusUnauthorized, "INVALID_API_KEY", "insufficient scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + message + `","code":"` + code + `"}`))
}

// clientIP extracts the caller's address, preferring proxy headers over the
// raw socket address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
