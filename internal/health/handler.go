package health

import (
	"log/slog"
	"net/http"

	"github.com/richtunnel/partnerstestapi/internal/httpserver"
	"github.com/richtunnel/partnerstestapi/internal/queue"
)

// Handler serves /health and /queues.
type Handler struct {
	checker *Checker
	queue   queue.Telemetry
	logger  *slog.Logger
}

// NewHandler creates a health Handler.
func NewHandler(checker *Checker, q queue.Telemetry, logger *slog.Logger) *Handler {
	return &Handler{checker: checker, queue: q, logger: logger}
}

// HandleHealth implements GET /health.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	report := h.checker.Check(r.Context())
	httpserver.Respond(w, report.HTTPStatus(), report)
}

// queuesResponse is the JSON body returned by GET /queues.
type queuesResponse struct {
	Topics map[queue.Topic]queue.TopicDepth `json:"topics"`
}

// HandleQueues implements GET /queues.
func (h *Handler) HandleQueues(w http.ResponseWriter, r *http.Request) {
	depths, err := h.queue.Depths(r.Context())
	if err != nil {
		h.logger.Error("fetching queue depths", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, httpserver.CodeInternalError, "failed to fetch queue depths")
		return
	}
	httpserver.Respond(w, http.StatusOK, queuesResponse{Topics: depths})
}
