// Package queue defines the durable session queue contract (C5): FIFO
// delivery within a session (session = tenant × topic), visibility locks,
// redelivery counts, scheduled delivery, and dead-lettering. The core
// depends only on this interface; internal/queue/redisqueue backs it with
// Redis in production (per-session lists, sorted sets, and lock keys) and
// internal/queue/memqueue backs it with an in-process fake for tests — both
// MUST honor per-session FIFO and visibility locks.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Topic names the logical queues the system uses.
type Topic string

const (
	TopicDemographicsFIFO Topic = "demographics-fifo"
	TopicWebhooksFIFO     Topic = "webhooks-fifo"
	TopicDocuments        Topic = "documents"
	TopicDeadLetter       Topic = "dead-letter"
)

// FIFO reports whether a topic requires a session key and guarantees
// per-session ordering.
func (t Topic) FIFO() bool {
	return t == TopicDemographicsFIFO || t == TopicWebhooksFIFO
}

// LockDuration returns how long a delivery is held under a consumer's
// visibility lock before it is eligible for redelivery.
func (t Topic) LockDuration() time.Duration {
	if t == TopicWebhooksFIFO {
		return 2 * time.Minute
	}
	return 5 * time.Minute
}

// MaxDeliveryCount returns how many deliveries are attempted before a
// message is dead-lettered.
func (t Topic) MaxDeliveryCount() int {
	if t == TopicWebhooksFIFO {
		return 5
	}
	return 3
}

// MessageType discriminates queue message payloads.
type MessageType string

const (
	MessageDemographics       MessageType = "demographics"
	MessageWebhook            MessageType = "webhook"
	MessageDocumentProcessing MessageType = "document_processing"
)

// Message is a single unit of work on a topic.
type Message struct {
	ID            uuid.UUID
	Type          MessageType
	Payload       []byte
	Session       string // mandatory for FIFO topics, empty for non-FIFO
	Priority      int    // 1-10
	RetryCount    int
	MaxRetries    int
	CreatedAt     time.Time
	ScheduledFor  *time.Time
	CorrelationID string
}

// SessionHandle represents an exclusively-leased session. Only the worker
// holding a SessionHandle may receive, complete, abandon, or dead-letter
// its messages.
type SessionHandle struct {
	Topic   Topic
	Session string
	LockID  string
}

// DeadLetterReason names why a message was moved to the dead-letter topic.
type DeadLetterReason string

const (
	ReasonMalformed    DeadLetterReason = "malformed"
	ReasonMaxDelivery  DeadLetterReason = "max-delivery-count-reached"
	ReasonBusinessFail DeadLetterReason = "business-failure"
)

// Producer sends messages onto a topic.
type Producer interface {
	// Send enqueues a single message. For FIFO topics, Session must be set.
	Send(ctx context.Context, topic Topic, msg Message) error

	// SendBatch enqueues messages, rejecting the batch if its serialized
	// size exceeds batchSizeLimitBytes (the gateway is responsible for
	// splitting oversized submissions before calling this).
	SendBatch(ctx context.Context, topic Topic, msgs []Message, batchSizeLimitBytes int) error
}

// Consumer leases sessions and processes their messages in order.
type Consumer interface {
	// LeaseNextSession blocks (subject to ctx) until an unlocked session on
	// topic is available, then returns a handle giving this consumer
	// exclusive access to it.
	LeaseNextSession(ctx context.Context, topic Topic) (*SessionHandle, error)

	// Receive returns up to max messages from the leased session, in
	// producer order.
	Receive(ctx context.Context, handle *SessionHandle, max int) ([]Message, error)

	// Complete acknowledges successful processing of msg.
	Complete(ctx context.Context, handle *SessionHandle, msg Message) error

	// Abandon releases msg back to the topic for redelivery, incrementing
	// its delivery count.
	Abandon(ctx context.Context, handle *SessionHandle, msg Message) error

	// DeadLetter moves msg to the dead-letter topic immediately, bypassing
	// the normal redelivery count.
	DeadLetter(ctx context.Context, handle *SessionHandle, msg Message, reason DeadLetterReason) error

	// RenewLock extends the visibility lock on handle's session while a
	// worker is still processing its messages.
	RenewLock(ctx context.Context, handle *SessionHandle) error

	// ReleaseSession releases the session lock without waiting for the
	// lock to expire, making it immediately eligible for another consumer.
	ReleaseSession(ctx context.Context, handle *SessionHandle) error
}

// Telemetry reports point-in-time queue depths for C10.
type Telemetry interface {
	// Depths returns active, dead-letter, and scheduled counts per topic.
	Depths(ctx context.Context) (map[Topic]TopicDepth, error)
}

// TopicDepth is the per-topic counts reported by /queues.
type TopicDepth struct {
	Active      int64
	DeadLetter  int64
	Scheduled   int64
}

// Queue composes Producer, Consumer, and Telemetry — the full C5 surface a
// broker implementation provides.
type Queue interface {
	Producer
	Consumer
	Telemetry
}
