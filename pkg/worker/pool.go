// Package worker implements the ordered worker pool (C7): a bounded pool of
// session-leasing workers draining the demographics-fifo topic, plus the
// non-FIFO document worker and the dead-letter side consumer.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/richtunnel/partnerstestapi/internal/gateway"
	"github.com/richtunnel/partnerstestapi/internal/queue"
	"github.com/richtunnel/partnerstestapi/internal/telemetry"
	"github.com/richtunnel/partnerstestapi/pkg/demographics"
)

// demographicsEnvelope mirrors internal/gateway's enqueue shape.
type demographicsEnvelope struct {
	Action string          `json:"action"`
	Record demographics.Response `json:"record"`
}

// Upserter is the subset of demographics.Store the pool needs, kept narrow
// so tests can supply a fake.
type Upserter interface {
	Upsert(ctx context.Context, tenantID string, id uuid.UUID, payload []byte) (demographics.Record, error)
}

// Pool drains sessions from demographics-fifo with N concurrent workers.
// A session held by one worker is invisible to the others; cross-session
// work proceeds in parallel, same-session work is strictly ordered.
type Pool struct {
	consumer  queue.Consumer
	producer  queue.Producer
	store     Upserter
	logger    *slog.Logger
	size      int
	batchSize int
}

// NewPool creates a Pool with size concurrent workers.
func NewPool(consumer queue.Consumer, producer queue.Producer, store Upserter, logger *slog.Logger, size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{consumer: consumer, producer: producer, store: store, logger: logger, size: size, batchSize: 10}
}

// Run starts size workers and blocks until ctx is cancelled and every
// worker has finished its current session.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.runWorker(ctx)
		}()
	}
	wg.Wait()
}

func (p *Pool) runWorker(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		handle, err := p.consumer.LeaseNextSession(ctx, queue.TopicDemographicsFIFO)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("leasing demographics session", "error", err)
			continue
		}
		p.processSession(ctx, handle)
	}
}

func (p *Pool) processSession(ctx context.Context, handle *queue.SessionHandle) {
	defer p.consumer.ReleaseSession(ctx, handle)

	msgs, err := p.consumer.Receive(ctx, handle, p.batchSize)
	if err != nil {
		p.logger.Error("receiving demographics messages", "error", err, "session", handle.Session)
		return
	}

	for _, msg := range msgs {
		p.handleMessage(ctx, handle, msg)
	}
}

// displayTenant recovers a log-only display form from the session name by
// stripping the "demographics_" prefix — the normalization is lossy, so this
// is never used as the canonical partition key.
func displayTenant(session string) string {
	return strings.TrimPrefix(session, "demographics_")
}

func (p *Pool) handleMessage(ctx context.Context, handle *queue.SessionHandle, msg queue.Message) {
	start := time.Now()

	var env demographicsEnvelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		p.logger.Error("malformed demographics message", "error", err, "message_id", msg.ID)
		_ = p.consumer.DeadLetter(ctx, handle, msg, queue.ReasonMalformed)
		return
	}

	tenant := displayTenant(handle.Session)

	rec, err := p.store.Upsert(ctx, env.Record.Tenant, env.Record.ID, env.Record.Payload)
	telemetry.WorkerProcessingDuration.WithLabelValues(string(queue.TopicDemographicsFIFO)).Observe(time.Since(start).Seconds())

	if err != nil {
		p.logger.Warn("processing demographics message failed, abandoning for redelivery", "error", err, "message_id", msg.ID, "tenant", tenant)
		_ = p.consumer.Abandon(ctx, handle, msg)
		return
	}

	if werr := gateway.EnqueueWebhook(ctx, p.producer, rec.Tenant, "demographics.processed",
		map[string]any{"id": rec.ID, "duration_ms": time.Since(start).Milliseconds()}, rec.ID, msg.CorrelationID); werr != nil {
		p.logger.Error("enqueueing processed webhook", "error", werr, "message_id", msg.ID)
	}

	_ = p.consumer.Complete(ctx, handle, msg)
}
