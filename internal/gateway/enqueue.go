package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/richtunnel/partnerstestapi/internal/queue"
	"github.com/richtunnel/partnerstestapi/internal/tenant"
)

// demographicsEnvelope is the JSON payload of a demographics queue message.
type demographicsEnvelope struct {
	Action string `json:"action"`
	Record any    `json:"record"`
}

// EnqueueDemographics implements pipeline step 7c: enqueue a demographics
// message on session "demographics_<normalized-tenant>".
func EnqueueDemographics(ctx context.Context, producer queue.Producer, tenantID, action string, record any, correlationID string) error {
	payload, err := json.Marshal(demographicsEnvelope{Action: action, Record: record})
	if err != nil {
		return fmt.Errorf("encoding demographics envelope: %w", err)
	}
	msg := queue.Message{
		ID:            uuid.New(),
		Type:          queue.MessageDemographics,
		Payload:       payload,
		Session:       tenant.SessionName("demographics", tenantID),
		Priority:      5,
		MaxRetries:    3,
		CreatedAt:     time.Now(),
		CorrelationID: correlationID,
	}
	return producer.Send(ctx, queue.TopicDemographicsFIFO, msg)
}

// webhookEnvelope is the JSON payload of a webhook queue message — kept
// distinct from webhook.Payload because the signature and timestamp are
// filled in at delivery time by the dispatcher, not at enqueue time.
type webhookEnvelope struct {
	Event        string    `json:"event"`
	Data         any       `json:"data"`
	Tenant       string    `json:"tenant"`
	SubmissionID uuid.UUID `json:"submission_id"`
}

// EnqueueWebhook implements pipeline step 7d: enqueue a webhook message on
// session "webhook_<normalized-tenant>".
func EnqueueWebhook(ctx context.Context, producer queue.Producer, tenantID, event string, data any, submissionID uuid.UUID, correlationID string) error {
	payload, err := json.Marshal(webhookEnvelope{Event: event, Data: data, Tenant: tenantID, SubmissionID: submissionID})
	if err != nil {
		return fmt.Errorf("encoding webhook envelope: %w", err)
	}
	msg := queue.Message{
		ID:            uuid.New(),
		Type:          queue.MessageWebhook,
		Payload:       payload,
		Session:       tenant.SessionName("webhook", tenantID),
		Priority:      5,
		MaxRetries:    5,
		CreatedAt:     time.Now(),
		CorrelationID: correlationID,
	}
	return producer.Send(ctx, queue.TopicWebhooksFIFO, msg)
}
