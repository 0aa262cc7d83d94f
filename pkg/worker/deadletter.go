package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/richtunnel/partnerstestapi/internal/gateway"
	"github.com/richtunnel/partnerstestapi/internal/queue"
	"github.com/richtunnel/partnerstestapi/internal/telemetry"
)

// DeadLetterConsumer records the terminal outcome of messages moved to the
// dead-letter topic and, for demographics messages, emits a
// demographics.failed webhook.
type DeadLetterConsumer struct {
	consumer  queue.Consumer
	producer  queue.Producer
	logger    *slog.Logger
	batchSize int
}

// NewDeadLetterConsumer creates a DeadLetterConsumer.
func NewDeadLetterConsumer(consumer queue.Consumer, producer queue.Producer, logger *slog.Logger) *DeadLetterConsumer {
	return &DeadLetterConsumer{consumer: consumer, producer: producer, logger: logger, batchSize: 10}
}

// Run drains the dead-letter topic until ctx is cancelled.
func (d *DeadLetterConsumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		handle, err := d.consumer.LeaseNextSession(ctx, queue.TopicDeadLetter)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.Warn("leasing dead-letter session", "error", err)
			continue
		}

		msgs, err := d.consumer.Receive(ctx, handle, d.batchSize)
		if err != nil {
			d.logger.Error("receiving dead-letter messages", "error", err)
			d.consumer.ReleaseSession(ctx, handle)
			continue
		}

		for _, msg := range msgs {
			d.handleMessage(ctx, handle, msg)
		}
		d.consumer.ReleaseSession(ctx, handle)
	}
}

func (d *DeadLetterConsumer) handleMessage(ctx context.Context, handle *queue.SessionHandle, msg queue.Message) {
	telemetry.QueueDeadLetteredTotal.WithLabelValues(string(msg.Type)).Inc()
	d.logger.Warn("message terminally dead-lettered", "message_id", msg.ID, "type", msg.Type, "retry_count", msg.RetryCount)

	if msg.Type == queue.MessageDemographics {
		var env demographicsEnvelope
		if err := json.Unmarshal(msg.Payload, &env); err == nil {
			if werr := gateway.EnqueueWebhook(ctx, d.producer, env.Record.Tenant, "demographics.failed",
				map[string]any{"id": env.Record.ID, "retry_count": msg.RetryCount}, env.Record.ID, msg.CorrelationID); werr != nil {
				d.logger.Error("enqueueing failed webhook", "error", werr, "message_id", msg.ID)
			}
		}
	}

	_ = d.consumer.Complete(ctx, handle, msg)
}
