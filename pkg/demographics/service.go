package demographics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/richtunnel/partnerstestapi/internal/gateway"
	"github.com/richtunnel/partnerstestapi/internal/queue"
)

// recordStore is the subset of Store the Service needs, kept narrow so
// tests can exercise Service against a fake rather than a live database.
type recordStore interface {
	Create(ctx context.Context, p CreateParams) (Record, error)
	Get(ctx context.Context, tenantID string, id uuid.UUID) (Record, error)
	Update(ctx context.Context, tenantID string, id uuid.UUID, payload []byte) (Record, error)
	SoftDelete(ctx context.Context, tenantID string, id uuid.UUID) (time.Time, error)
	List(ctx context.Context, tenantID string, filters ListFilters, limit, offset int) ([]Record, error)
	Count(ctx context.Context, tenantID string, filters ListFilters) (int, error)
}

// Service implements the demographics business logic: persist the record,
// then enqueue the downstream demographics and webhook messages (pipeline
// steps 7c/7d). The HTTP handler owns idempotency (step 6/8); Service is
// unaware of it.
type Service struct {
	store    recordStore
	producer queue.Producer
	logger   *slog.Logger
}

// NewService creates a Service.
func NewService(store recordStore, producer queue.Producer, logger *slog.Logger) *Service {
	return &Service{store: store, producer: producer, logger: logger}
}

// Create persists a new record and enqueues its downstream notifications.
func (s *Service) Create(ctx context.Context, tenantID string, req CreateRequest, createdBy *uuid.UUID, correlationID string) (Response, error) {
	rec, err := s.store.Create(ctx, CreateParams{
		ID:        uuid.New(),
		Tenant:    tenantID,
		Payload:   req.Payload,
		CreatedBy: createdBy,
	})
	if err != nil {
		return Response{}, fmt.Errorf("creating demographic record: %w", err)
	}

	s.notify(ctx, tenantID, "created", rec, correlationID)
	return rec.ToResponse(), nil
}

// BatchCreate persists up to len(req.Records) records, continuing past
// per-item failures so one bad row does not sink the whole batch.
func (s *Service) BatchCreate(ctx context.Context, tenantID string, req BatchCreateRequest, createdBy *uuid.UUID, correlationID string) []BatchItemResult {
	results := make([]BatchItemResult, len(req.Records))

	for i, item := range req.Records {
		rec, err := s.store.Create(ctx, CreateParams{
			ID:        uuid.New(),
			Tenant:    tenantID,
			Payload:   item.Payload,
			CreatedBy: createdBy,
		})
		if err != nil {
			results[i] = BatchItemResult{Index: i, Status: "failed", Error: err.Error()}
			continue
		}
		s.notify(ctx, tenantID, "created", rec, correlationID)
		id := rec.ID
		results[i] = BatchItemResult{Index: i, ID: &id, Status: "created"}
	}

	if req.BatchOptions != nil && req.BatchOptions.NotifyOnCompletion && req.WebhookURL != "" {
		if err := gateway.EnqueueWebhook(ctx, s.producer, tenantID, "demographics.batch_completed", results, uuid.Nil, correlationID); err != nil {
			s.logger.Error("enqueueing batch completion webhook", "error", err)
		}
	}

	return results
}

// Get returns a single record.
func (s *Service) Get(ctx context.Context, tenantID string, id uuid.UUID) (Response, error) {
	rec, err := s.store.Get(ctx, tenantID, id)
	if err != nil {
		return Response{}, err
	}
	return rec.ToResponse(), nil
}

// List returns a page of records for tenant.
func (s *Service) List(ctx context.Context, tenantID string, filters ListFilters, limit, offset int) ([]Response, int, error) {
	recs, err := s.store.List(ctx, tenantID, filters, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.store.Count(ctx, tenantID, filters)
	if err != nil {
		return nil, 0, err
	}

	out := make([]Response, len(recs))
	for i, r := range recs {
		out[i] = r.ToResponse()
	}
	return out, total, nil
}

// Update replaces a record's payload and enqueues downstream notifications.
func (s *Service) Update(ctx context.Context, tenantID string, id uuid.UUID, req UpdateRequest, correlationID string) (Response, error) {
	rec, err := s.store.Update(ctx, tenantID, id, req.Payload)
	if err != nil {
		return Response{}, fmt.Errorf("updating demographic record: %w", err)
	}
	s.notify(ctx, tenantID, "updated", rec, correlationID)
	return rec.ToResponse(), nil
}

// Delete soft-deletes a record, enqueues downstream notifications, and
// returns the timestamp the deletion took effect.
func (s *Service) Delete(ctx context.Context, tenantID string, id uuid.UUID, correlationID string) (time.Time, error) {
	rec, err := s.store.Get(ctx, tenantID, id)
	if err != nil {
		return time.Time{}, err
	}
	deletedAt, err := s.store.SoftDelete(ctx, tenantID, id)
	if err != nil {
		return time.Time{}, fmt.Errorf("deleting demographic record: %w", err)
	}
	rec.Status = StatusDeleted
	s.notify(ctx, tenantID, "deleted", rec, correlationID)
	return deletedAt, nil
}

// notify enqueues the demographics FIFO message and the matching webhook
// event. Enqueue failures are logged, not surfaced — the record is already
// durably persisted, and the dead-letter path covers downstream delivery
// failure separately.
func (s *Service) notify(ctx context.Context, tenantID, action string, rec Record, correlationID string) {
	resp := rec.ToResponse()
	if err := gateway.EnqueueDemographics(ctx, s.producer, tenantID, action, resp, correlationID); err != nil {
		s.logger.Error("enqueueing demographics message", "error", err, "record_id", rec.ID)
	}

	event := "demographics." + action
	if err := gateway.EnqueueWebhook(ctx, s.producer, tenantID, event, resp, rec.ID, correlationID); err != nil {
		s.logger.Error("enqueueing webhook message", "error", err, "record_id", rec.ID)
	}
}
