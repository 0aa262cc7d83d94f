package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/richtunnel/partnerstestapi/internal/queue"
	"github.com/richtunnel/partnerstestapi/internal/telemetry"
)

// QueuedPayload is the JSON shape enqueued by the gateway and worker pool
// onto webhooks-fifo; the dispatcher fills in Timestamp and Signature at
// delivery time.
type QueuedPayload struct {
	Event        Event     `json:"event"`
	Data         any       `json:"data"`
	Tenant       string    `json:"tenant"`
	SubmissionID uuid.UUID `json:"submission_id"`
}

// TargetResolver resolves the webhook URL for a tenant (configuration
// lookup; returns "" when the tenant has none configured).
type TargetResolver func(tenant string) string

// Dispatcher implements C8: session-leased, ordered webhook delivery with
// scheduled-retry-via-same-session backoff.
type Dispatcher struct {
	consumer   queue.Consumer
	producer   queue.Producer
	client     *Client
	resolve    TargetResolver
	log        *DeliveryLog
	logger     *slog.Logger
	batchSize  int
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(consumer queue.Consumer, producer queue.Producer, client *Client, resolve TargetResolver, log *DeliveryLog, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		consumer:  consumer,
		producer:  producer,
		client:    client,
		resolve:   resolve,
		log:       log,
		logger:    logger,
		batchSize: 10,
	}
}

// Run leases sessions on webhooks-fifo and processes them until ctx is
// cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		handle, err := d.consumer.LeaseNextSession(ctx, queue.TopicWebhooksFIFO)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.Warn("leasing webhook session", "error", err)
			continue
		}
		d.processSession(ctx, handle)
	}
}

func (d *Dispatcher) processSession(ctx context.Context, handle *queue.SessionHandle) {
	defer d.consumer.ReleaseSession(ctx, handle)

	msgs, err := d.consumer.Receive(ctx, handle, d.batchSize)
	if err != nil {
		d.logger.Error("receiving webhook messages", "error", err, "session", handle.Session)
		return
	}

	for _, msg := range msgs {
		d.handleMessage(ctx, handle, msg)
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, handle *queue.SessionHandle, msg queue.Message) {
	start := time.Now()

	var qp QueuedPayload
	if err := json.Unmarshal(msg.Payload, &qp); err != nil {
		d.logger.Error("malformed webhook message", "error", err, "message_id", msg.ID)
		_ = d.consumer.DeadLetter(ctx, handle, msg, queue.ReasonMalformed)
		return
	}

	targetURL := d.resolve(qp.Tenant)
	if targetURL == "" {
		d.logger.Info("no webhook url configured for tenant, skipping delivery", "tenant", qp.Tenant)
		_ = d.consumer.Complete(ctx, handle, msg)
		return
	}

	payload := Payload{
		Event:         qp.Event,
		Data:          qp.Data,
		Timestamp:     time.Now().UTC(),
		CorrelationID: msg.CorrelationID,
		Tenant:        qp.Tenant,
	}

	result := d.client.Deliver(ctx, targetURL, payload, msg.RetryCount, msg.CorrelationID)
	telemetry.WebhookDeliveryDuration.WithLabelValues(qp.Tenant).Observe(time.Since(start).Seconds())

	if result.Err == nil && result.Success {
		telemetry.WebhookDeliveryAttemptsTotal.WithLabelValues(qp.Tenant, "delivered").Inc()
		d.log.Log(DeliveryLogEntry{
			SubmissionID: qp.SubmissionID, TargetURL: targetURL, Event: qp.Event,
			Status: StatusDelivered, HTTPStatus: &result.HTTPStatus,
			ResponseExcerpt: result.ResponseExcerpt, Attempt: msg.RetryCount, AttemptedAt: time.Now(),
		})
		_ = d.consumer.Complete(ctx, handle, msg)
		return
	}

	errMsg := errString(result)
	attempt := msg.RetryCount
	if attempt < msg.MaxRetries {
		delay := backoff(attempt)
		scheduledFor := time.Now().Add(delay)
		retryMsg := queue.Message{
			ID: uuid.New(), Type: msg.Type, Payload: msg.Payload, Session: msg.Session,
			Priority: msg.Priority, RetryCount: attempt + 1, MaxRetries: msg.MaxRetries,
			CreatedAt: time.Now(), ScheduledFor: &scheduledFor, CorrelationID: msg.CorrelationID,
		}
		if err := d.producer.Send(ctx, queue.TopicWebhooksFIFO, retryMsg); err != nil {
			d.logger.Error("scheduling webhook retry", "error", err, "message_id", msg.ID)
		}
		telemetry.WebhookDeliveryAttemptsTotal.WithLabelValues(qp.Tenant, "retry_failed").Inc()
		d.log.Log(DeliveryLogEntry{
			SubmissionID: qp.SubmissionID, TargetURL: targetURL, Event: qp.Event,
			Status: StatusRetryFailed, HTTPStatus: nonZeroStatus(result.HTTPStatus),
			ResponseExcerpt: result.ResponseExcerpt, Attempt: attempt, LastError: errMsg, AttemptedAt: time.Now(),
		})
	} else {
		telemetry.WebhookDeliveryAttemptsTotal.WithLabelValues(qp.Tenant, "failed_permanently").Inc()
		d.log.Log(DeliveryLogEntry{
			SubmissionID: qp.SubmissionID, TargetURL: targetURL, Event: qp.Event,
			Status: StatusFailedPermanent, HTTPStatus: nonZeroStatus(result.HTTPStatus),
			ResponseExcerpt: result.ResponseExcerpt, Attempt: attempt, LastError: errMsg, AttemptedAt: time.Now(),
		})
	}

	// Completing (not abandoning) keeps the session free for the scheduled
	// retry, which preserves per-tenant order without head-of-line blocking
	// other sessions behind this lock.
	_ = d.consumer.Complete(ctx, handle, msg)
}

func backoff(attempt int) time.Duration {
	ms := math.Pow(2, float64(attempt)) * 1000
	if ms > 60000 {
		ms = 60000
	}
	return time.Duration(ms) * time.Millisecond
}

func errString(r DeliveryResult) *string {
	if r.Err == nil {
		return nil
	}
	s := r.Err.Error()
	return &s
}

func nonZeroStatus(status int) *int {
	if status == 0 {
		return nil
	}
	return &status
}
