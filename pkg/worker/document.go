package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/richtunnel/partnerstestapi/internal/queue"
	"github.com/richtunnel/partnerstestapi/internal/telemetry"
)

// documentEnvelope mirrors the payload pkg/documents' Reactor enqueues on
// the non-FIFO documents topic.
type documentEnvelope struct {
	CorrelationID string `json:"correlation_id"`
	Tenant        string `json:"tenant"`
	BlobPath      string `json:"blob_path"`
}

// Classifier processes an already-uploaded, already-validated blob. The
// contract is "completes the message or throws" — callers supply whatever
// classification/extraction logic the deployment needs.
type Classifier func(ctx context.Context, tenant, blobPath string) error

// DocumentWorker drains the non-FIFO documents topic with a single
// lease/receive loop. Cross-message ordering is not required on this topic;
// its messages carry no session key, so every lease is of the same
// session.
type DocumentWorker struct {
	consumer  queue.Consumer
	classify  Classifier
	logger    *slog.Logger
	batchSize int
}

// NewDocumentWorker creates a DocumentWorker.
func NewDocumentWorker(consumer queue.Consumer, classify Classifier, logger *slog.Logger) *DocumentWorker {
	return &DocumentWorker{consumer: consumer, classify: classify, logger: logger, batchSize: 10}
}

// Run drains the documents topic until ctx is cancelled.
func (d *DocumentWorker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		handle, err := d.consumer.LeaseNextSession(ctx, queue.TopicDocuments)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.Warn("leasing documents session", "error", err)
			continue
		}

		msgs, err := d.consumer.Receive(ctx, handle, d.batchSize)
		if err != nil {
			d.logger.Error("receiving document messages", "error", err)
			d.consumer.ReleaseSession(ctx, handle)
			continue
		}

		for _, msg := range msgs {
			d.handleMessage(ctx, handle, msg)
		}
		d.consumer.ReleaseSession(ctx, handle)
	}
}

func (d *DocumentWorker) handleMessage(ctx context.Context, handle *queue.SessionHandle, msg queue.Message) {
	start := time.Now()

	var env documentEnvelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		d.logger.Error("malformed document message", "error", err, "message_id", msg.ID)
		_ = d.consumer.DeadLetter(ctx, handle, msg, queue.ReasonMalformed)
		return
	}

	err := d.classify(ctx, env.Tenant, env.BlobPath)
	telemetry.WorkerProcessingDuration.WithLabelValues(string(queue.TopicDocuments)).Observe(time.Since(start).Seconds())

	if err != nil {
		d.logger.Warn("document classification failed, abandoning for redelivery", "error", err, "message_id", msg.ID)
		_ = d.consumer.Abandon(ctx, handle, msg)
		return
	}

	_ = d.consumer.Complete(ctx, handle, msg)
}
