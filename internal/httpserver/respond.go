package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Respond writes a JSON response with the given status code.
func Respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// ErrorResponse is the standard error envelope every failure path returns:
// {error, code, details?, requestId}.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// Error codes recognized across the gateway.
const (
	CodeMissingAPIKey       = "MISSING_API_KEY"
	CodeInvalidAPIKey       = "INVALID_API_KEY"
	CodeRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	CodeValidationError     = "VALIDATION_ERROR"
	CodeIdempotencyConflict = "IDEMPOTENCY_CONFLICT"
	CodeNotFound            = "NOT_FOUND"
	CodeInternalError       = "INTERNAL_ERROR"
)

// RespondError writes the standard error envelope.
func RespondError(w http.ResponseWriter, status int, code, message string) {
	RespondErrorWithDetails(w, status, code, message, nil)
}

// RespondErrorWithDetails writes the standard error envelope with a
// details payload (e.g. a field-path validation error list).
func RespondErrorWithDetails(w http.ResponseWriter, status int, code, message string, details any) {
	requestID := w.Header().Get("X-Correlation-ID")
	Respond(w, status, ErrorResponse{
		Error:     message,
		Code:      code,
		Details:   details,
		RequestID: requestID,
	})
}
