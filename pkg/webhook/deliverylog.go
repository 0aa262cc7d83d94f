package webhook

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/richtunnel/partnerstestapi/internal/store"
)

// DeliveryStatus is the outcome recorded for a single delivery attempt.
type DeliveryStatus string

const (
	StatusDelivered       DeliveryStatus = "delivered"
	StatusRetryFailed     DeliveryStatus = "retry_failed"
	StatusFailedPermanent DeliveryStatus = "failed_permanently"
)

// DeliveryLogEntry is a single append-only delivery attempt record.
type DeliveryLogEntry struct {
	SubmissionID    uuid.UUID
	TargetURL       string
	Event           Event
	Status          DeliveryStatus
	HTTPStatus      *int
	ResponseExcerpt string
	Attempt         int
	LastError       *string
	AttemptedAt     time.Time
}

// DeliveryLog is an async, buffered writer for delivery attempts, following
// the same drop-on-full-buffer, periodic-flush shape as the audit log
// writer: logging a delivery attempt must never block a dispatch.
type DeliveryLog struct {
	db      store.DBTX
	logger  *slog.Logger
	entries chan DeliveryLogEntry
	wg      sync.WaitGroup
}

const (
	logBufferSize    = 256
	logFlushInterval = 2 * time.Second
	logFlushBatch    = 32
)

// NewDeliveryLog creates a DeliveryLog. Call Start to begin flushing.
func NewDeliveryLog(db store.DBTX, logger *slog.Logger) *DeliveryLog {
	return &DeliveryLog{
		db:      db,
		logger:  logger,
		entries: make(chan DeliveryLogEntry, logBufferSize),
	}
}

// Start begins the background flush loop. It returns once ctx is cancelled
// and all pending entries have been flushed.
func (l *DeliveryLog) Start(ctx context.Context) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.run(ctx)
	}()
}

// Close stops accepting entries and waits for the final flush.
func (l *DeliveryLog) Close() {
	close(l.entries)
	l.wg.Wait()
}

// Log enqueues an entry without blocking the caller; the entry is dropped
// with a warning if the buffer is full.
func (l *DeliveryLog) Log(entry DeliveryLogEntry) {
	select {
	case l.entries <- entry:
	default:
		l.logger.Warn("delivery log buffer full, dropping entry",
			"submission_id", entry.SubmissionID, "status", entry.Status)
	}
}

func (l *DeliveryLog) run(ctx context.Context) {
	ticker := time.NewTicker(logFlushInterval)
	defer ticker.Stop()

	batch := make([]DeliveryLogEntry, 0, logFlushBatch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		l.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case entry, ok := <-l.entries:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= logFlushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case entry, ok := <-l.entries:
					if !ok {
						flush()
						return
					}
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (l *DeliveryLog) flush(entries []DeliveryLogEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, e := range entries {
		excerpt := e.ResponseExcerpt
		if len(excerpt) > 500 {
			excerpt = excerpt[:500]
		}
		query := `INSERT INTO delivery_attempts
			(submission_id, target_url, event, status, http_status, response_excerpt, attempt, last_error, attempted_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
		if _, err := l.db.Exec(ctx, query,
			e.SubmissionID, e.TargetURL, string(e.Event), string(e.Status),
			e.HTTPStatus, excerpt, e.Attempt, e.LastError, e.AttemptedAt,
		); err != nil {
			l.logger.Error("writing delivery attempt", "error", err, "submission_id", e.SubmissionID)
		}
	}
}
