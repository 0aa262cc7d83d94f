package documents

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/richtunnel/partnerstestapi/internal/capability"
	"github.com/richtunnel/partnerstestapi/internal/gateway"
	"github.com/richtunnel/partnerstestapi/internal/httpserver"
	"github.com/richtunnel/partnerstestapi/internal/queue"
)

// MaxUploadSizeMB bounds validate_uploaded in the absence of a per-upload
// limit recorded at issuance time.
const MaxUploadSizeMB = 100

// BlobEvent is the JSON shape an object-store "blob written" notification
// carries. Cloud blob services deliver this as an HTTP callback (Event Grid,
// S3 event notifications, GCS Pub/Sub push) — Reactor's HTTP handler is the
// receiving end of that callback.
type BlobEvent struct {
	BlobPath string `json:"blob_path" validate:"required"`
}

// Reactor implements the blob-event reaction pipeline (C9): validate the
// uploaded object, then enqueue document processing and a webhook.
type Reactor struct {
	issuer   *capability.Issuer
	producer queue.Producer
	logger   *slog.Logger
}

// NewReactor creates a Reactor.
func NewReactor(issuer *capability.Issuer, producer queue.Producer, logger *slog.Logger) *Reactor {
	return &Reactor{issuer: issuer, producer: producer, logger: logger}
}

// parseBlobPath splits "<norm-tenant>/<yyyy-mm-dd>/<correlation-id>_<filename>"
// into its tenant and correlation-id components, per the naming convention
// capability.BlobPath produces. The UUID form is fixed width (36 chars), so
// it can be recovered without reversing the filename sanitization.
func parseBlobPath(blobPath string) (tenant string, correlationID uuid.UUID, ok bool) {
	parts := strings.SplitN(blobPath, "/", 3)
	if len(parts) != 3 {
		return "", uuid.Nil, false
	}
	tenant = parts[0]

	last := parts[2]
	if len(last) < 36 {
		return "", uuid.Nil, false
	}
	id, err := uuid.Parse(last[:36])
	if err != nil {
		return "", uuid.Nil, false
	}
	return tenant, id, true
}

// HandleEvent implements the per-event pipeline. It never returns an error
// for a malformed or over-limit upload — those are terminal outcomes
// reported via webhook, not reactor failures.
func (re *Reactor) HandleEvent(ctx context.Context, blobPath string) error {
	tenant, correlationID, ok := parseBlobPath(blobPath)
	if !ok {
		re.logger.Warn("blob event path does not match issued naming convention", "blob_path", blobPath)
		return nil
	}

	result, err := re.issuer.ValidateUploaded(ctx, blobPath, MaxUploadSizeMB)
	if err != nil {
		re.logger.Error("validating uploaded blob", "error", err, "blob_path", blobPath)
		return err
	}

	if !result.Valid {
		errMsg := result.Error
		if uerr := re.issuer.UpdateStatus(ctx, correlationID, capability.StatusFailed, nil, &errMsg); uerr != nil {
			re.logger.Error("recording validation failure", "error", uerr, "correlation_id", correlationID)
		}
		if werr := gateway.EnqueueWebhook(ctx, re.producer, "system", "document.validation_failed",
			map[string]any{"correlation_id": correlationID, "tenant": tenant, "blob_path": blobPath, "error": errMsg},
			correlationID, correlationID.String()); werr != nil {
			re.logger.Error("enqueueing validation-failed webhook", "error", werr)
		}
		return nil
	}

	size := result.FileSize
	if uerr := re.issuer.UpdateStatus(ctx, correlationID, capability.StatusUploaded, &size, nil); uerr != nil {
		re.logger.Error("recording upload completion", "error", uerr, "correlation_id", correlationID)
	}

	docMsg := queue.Message{
		ID:            uuid.New(),
		Type:          queue.MessageDocumentProcessing,
		Payload:       mustJSON(map[string]any{"correlation_id": correlationID, "tenant": tenant, "blob_path": blobPath}),
		MaxRetries:    3,
		CorrelationID: correlationID.String(),
	}
	if err := re.producer.Send(ctx, queue.TopicDocuments, docMsg); err != nil {
		re.logger.Error("enqueueing document processing message", "error", err)
	}

	if err := gateway.EnqueueWebhook(ctx, re.producer, tenant, "document.uploaded",
		map[string]any{"correlation_id": correlationID, "tenant": tenant, "blob_path": blobPath, "file_size": size},
		correlationID, correlationID.String()); err != nil {
		re.logger.Error("enqueueing document-uploaded webhook", "error", err)
	}

	return nil
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}

// Handler returns an http.HandlerFunc suitable for mounting as the blob
// storage provider's event-delivery callback.
func (re *Reactor) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var evt BlobEvent
		if !httpserver.DecodeAndValidate(w, r, &evt) {
			return
		}
		if err := re.HandleEvent(r.Context(), evt.BlobPath); err != nil {
			httpserver.RespondError(w, http.StatusInternalServerError, httpserver.CodeInternalError, "failed to process blob event")
			return
		}
		httpserver.Respond(w, http.StatusNoContent, nil)
	}
}
