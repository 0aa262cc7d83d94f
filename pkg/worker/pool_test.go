package worker

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/richtunnel/partnerstestapi/internal/gateway"
	"github.com/richtunnel/partnerstestapi/internal/queue"
	"github.com/richtunnel/partnerstestapi/internal/queue/memqueue"
	"github.com/richtunnel/partnerstestapi/pkg/demographics"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeUpserter struct {
	calls   int
	failFor map[uuid.UUID]bool
}

func (f *fakeUpserter) Upsert(ctx context.Context, tenantID string, id uuid.UUID, payload []byte) (demographics.Record, error) {
	f.calls++
	if f.failFor[id] {
		return demographics.Record{}, context.DeadlineExceeded
	}
	return demographics.Record{ID: id, Tenant: tenantID, Payload: payload, Status: demographics.StatusActive}, nil
}

func enqueueDemographics(t *testing.T, q *memqueue.Queue, tenant string, id uuid.UUID) {
	t.Helper()
	err := gateway.EnqueueDemographics(context.Background(), q, tenant, "created",
		demographics.Response{ID: id, Tenant: tenant, Payload: []byte(`{"a":1}`)}, id.String())
	if err != nil {
		t.Fatalf("EnqueueDemographics(): %v", err)
	}
}

func TestPoolUpsertsAndCompletes(t *testing.T) {
	q := memqueue.New()
	id := uuid.New()
	enqueueDemographics(t, q, "acme", id)

	store := &fakeUpserter{}
	pool := NewPool(q, q, store, discardLogger(), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	pool.Run(ctx)

	if store.calls != 1 {
		t.Errorf("Upsert called %d times, want 1", store.calls)
	}

	depths, err := q.Depths(context.Background())
	if err != nil {
		t.Fatalf("Depths(): %v", err)
	}
	if depths[queue.TopicDemographicsFIFO].Active != 0 {
		t.Errorf("active depth = %d, want 0 after successful processing", depths[queue.TopicDemographicsFIFO].Active)
	}
}

func TestPoolAbandonsOnBusinessFailure(t *testing.T) {
	q := memqueue.New()
	id := uuid.New()
	enqueueDemographics(t, q, "acme", id)

	store := &fakeUpserter{failFor: map[uuid.UUID]bool{id: true}}
	pool := NewPool(q, q, store, discardLogger(), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	pool.Run(ctx)

	if store.calls == 0 {
		t.Fatal("Upsert was never called")
	}

	depths, err := q.Depths(context.Background())
	if err != nil {
		t.Fatalf("Depths(): %v", err)
	}
	if depths[queue.TopicDeadLetter].DeadLetter != 1 {
		t.Errorf("dead-letter depth = %d, want 1 (abandoned until the delivery limit, never completed)", depths[queue.TopicDeadLetter].DeadLetter)
	}
}

func TestHandleMessageDeadLettersMalformedPayload(t *testing.T) {
	q := memqueue.New()
	malformed := queue.Message{
		ID:         uuid.New(),
		Type:       queue.MessageDemographics,
		Payload:    []byte("not json"),
		Session:    "demographics_acme",
		MaxRetries: 3,
		CreatedAt:  time.Now(),
	}
	if err := q.Send(context.Background(), queue.TopicDemographicsFIFO, malformed); err != nil {
		t.Fatalf("Send(): %v", err)
	}

	store := &fakeUpserter{}
	pool := NewPool(q, q, store, discardLogger(), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	pool.Run(ctx)

	if store.calls != 0 {
		t.Errorf("Upsert called %d times for a malformed message, want 0", store.calls)
	}

	depths, err := q.Depths(context.Background())
	if err != nil {
		t.Fatalf("Depths(): %v", err)
	}
	if depths[queue.TopicDeadLetter].DeadLetter != 1 {
		t.Errorf("dead-letter depth = %d, want 1", depths[queue.TopicDeadLetter].DeadLetter)
	}
}

func TestDisplayTenantStripsSessionPrefix(t *testing.T) {
	if got := displayTenant("demographics_acme_corp"); got != "acme_corp" {
		t.Errorf("displayTenant() = %q, want %q", got, "acme_corp")
	}
}
