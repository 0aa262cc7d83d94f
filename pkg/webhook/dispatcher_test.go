package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/richtunnel/partnerstestapi/internal/queue"
)

func TestBackoffGrowsExponentiallyAndCaps(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{10, 60 * time.Second}, // capped
	}
	for _, c := range cases {
		if got := backoff(c.attempt); got != c.want {
			t.Errorf("backoff(%d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}

// trackingQueue is a minimal queue.Producer + queue.Consumer test double that
// records Send/Complete/DeadLetter calls so tests can assert on dispatcher
// behavior without a live broker.
type trackingQueue struct {
	sent         []queue.Message
	completed    []queue.Message
	deadLettered []queue.Message
}

func (q *trackingQueue) Send(ctx context.Context, topic queue.Topic, msg queue.Message) error {
	q.sent = append(q.sent, msg)
	return nil
}

func (q *trackingQueue) SendBatch(ctx context.Context, topic queue.Topic, msgs []queue.Message, limit int) error {
	q.sent = append(q.sent, msgs...)
	return nil
}

func (q *trackingQueue) LeaseNextSession(ctx context.Context, topic queue.Topic) (*queue.SessionHandle, error) {
	return nil, context.Canceled
}

func (q *trackingQueue) Receive(ctx context.Context, handle *queue.SessionHandle, max int) ([]queue.Message, error) {
	return nil, nil
}

func (q *trackingQueue) Complete(ctx context.Context, handle *queue.SessionHandle, msg queue.Message) error {
	q.completed = append(q.completed, msg)
	return nil
}

func (q *trackingQueue) Abandon(ctx context.Context, handle *queue.SessionHandle, msg queue.Message) error {
	return nil
}

func (q *trackingQueue) DeadLetter(ctx context.Context, handle *queue.SessionHandle, msg queue.Message, reason queue.DeadLetterReason) error {
	q.deadLettered = append(q.deadLettered, msg)
	return nil
}

func (q *trackingQueue) RenewLock(ctx context.Context, handle *queue.SessionHandle) error {
	return nil
}

func (q *trackingQueue) ReleaseSession(ctx context.Context, handle *queue.SessionHandle) error {
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nil, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func newTestMessage(retryCount, maxRetries int) queue.Message {
	qp := QueuedPayload{
		Event:        EventDemographicsCreated,
		Data:         map[string]any{"a": 1},
		Tenant:       "acme",
		SubmissionID: uuid.New(),
	}
	payload, _ := json.Marshal(qp)
	return queue.Message{
		ID:            uuid.New(),
		Type:          queue.MessageWebhook,
		Payload:       payload,
		Session:       "acme",
		RetryCount:    retryCount,
		MaxRetries:    maxRetries,
		CreatedAt:     time.Now(),
		CorrelationID: "corr-1",
	}
}

// TestHandleMessageRetriesExactlyMaxRetriesBeforeTerminal is a regression
// test for the dispatcher's retry/terminal boundary: for max_retries=3, the
// attempts at RetryCount 0, 1, and 2 must each schedule a retry, and only
// the 4th attempt (RetryCount=3) is terminal.
func TestHandleMessageRetriesExactlyMaxRetriesBeforeTerminal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient("secret", "test/1.0")
	resolve := func(tenant string) string { return server.URL }
	q := &trackingQueue{}
	log := NewDeliveryLog(nil, discardLogger())
	d := NewDispatcher(q, q, client, resolve, log, discardLogger())

	handle := &queue.SessionHandle{Topic: queue.TopicWebhooksFIFO, Session: "acme", LockID: "lock-1"}
	maxRetries := 3

	for attempt := 0; attempt < maxRetries; attempt++ {
		q.sent = nil
		msg := newTestMessage(attempt, maxRetries)
		d.handleMessage(context.Background(), handle, msg)

		if len(q.sent) != 1 {
			t.Fatalf("attempt %d: len(sent) = %d, want 1 (expected a scheduled retry)", attempt, len(q.sent))
		}
		if q.sent[0].RetryCount != attempt+1 {
			t.Errorf("attempt %d: retry RetryCount = %d, want %d", attempt, q.sent[0].RetryCount, attempt+1)
		}
	}

	// The (max_retries+1)-th attempt is terminal: no further retry scheduled.
	q.sent = nil
	terminal := newTestMessage(maxRetries, maxRetries)
	d.handleMessage(context.Background(), handle, terminal)

	if len(q.sent) != 0 {
		t.Errorf("terminal attempt: len(sent) = %d, want 0 (no retry should be scheduled)", len(q.sent))
	}
	if len(q.completed) == 0 {
		t.Error("terminal attempt: message was never completed")
	}
}

func TestHandleMessageCompletesOnSuccessWithoutRetry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient("secret", "test/1.0")
	resolve := func(tenant string) string { return server.URL }
	q := &trackingQueue{}
	log := NewDeliveryLog(nil, discardLogger())
	d := NewDispatcher(q, q, client, resolve, log, discardLogger())

	handle := &queue.SessionHandle{Topic: queue.TopicWebhooksFIFO, Session: "acme", LockID: "lock-1"}
	msg := newTestMessage(0, 3)
	d.handleMessage(context.Background(), handle, msg)

	if len(q.sent) != 0 {
		t.Errorf("len(sent) = %d, want 0 on success", len(q.sent))
	}
	if len(q.completed) != 1 {
		t.Errorf("len(completed) = %d, want 1", len(q.completed))
	}
}

func TestHandleMessageSkipsDeliveryWhenNoTargetConfigured(t *testing.T) {
	client := NewClient("secret", "test/1.0")
	resolve := func(tenant string) string { return "" }
	q := &trackingQueue{}
	log := NewDeliveryLog(nil, discardLogger())
	d := NewDispatcher(q, q, client, resolve, log, discardLogger())

	handle := &queue.SessionHandle{Topic: queue.TopicWebhooksFIFO, Session: "acme", LockID: "lock-1"}
	msg := newTestMessage(0, 3)
	d.handleMessage(context.Background(), handle, msg)

	if len(q.sent) != 0 {
		t.Errorf("len(sent) = %d, want 0", len(q.sent))
	}
	if len(q.completed) != 1 {
		t.Errorf("len(completed) = %d, want 1", len(q.completed))
	}
}

func TestHandleMessageDeadLettersMalformedPayload(t *testing.T) {
	client := NewClient("secret", "test/1.0")
	resolve := func(tenant string) string { return "http://unused" }
	q := &trackingQueue{}
	log := NewDeliveryLog(nil, discardLogger())
	d := NewDispatcher(q, q, client, resolve, log, discardLogger())

	handle := &queue.SessionHandle{Topic: queue.TopicWebhooksFIFO, Session: "acme", LockID: "lock-1"}
	msg := queue.Message{ID: uuid.New(), Payload: []byte("not json"), Session: "acme", MaxRetries: 3}
	d.handleMessage(context.Background(), handle, msg)

	if len(q.deadLettered) != 1 {
		t.Fatalf("len(deadLettered) = %d, want 1", len(q.deadLettered))
	}
	if len(q.completed) != 0 {
		t.Errorf("len(completed) = %d, want 0 (malformed messages are dead-lettered, not completed)", len(q.completed))
	}
}
