// Package memqueue is an in-process fake implementing the queue.Queue
// contract for tests. It honors per-session FIFO ordering and visibility
// locks the same way a real broker backend must, so worker-pool tests
// exercise the real ordering guarantees without a live Redis.
package memqueue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/richtunnel/partnerstestapi/internal/queue"
)

type delivered struct {
	msg        queue.Message
	deliveries int
	expiresAt  time.Time
}

type session struct {
	pending   []queue.Message
	delivered map[uuid.UUID]*delivered
	// redeliveries carries an abandoned message's delivery count until it
	// is received again.
	redeliveries map[uuid.UUID]int
	lockedBy     string
	lockUntil    time.Time
}

func (s *session) locked(now time.Time) bool {
	return s.lockedBy != "" && now.Before(s.lockUntil)
}

// Queue is a single-process, mutex-protected implementation of
// queue.Queue.
type Queue struct {
	mu         sync.Mutex
	sessions   map[queue.Topic]map[string]*session
	deadLetter []queue.Message
	seen       map[queue.Topic]map[uuid.UUID]time.Time
}

// New creates an empty in-memory queue.
func New() *Queue {
	return &Queue{
		sessions: make(map[queue.Topic]map[string]*session),
		seen:     make(map[queue.Topic]map[uuid.UUID]time.Time),
	}
}

func (q *Queue) sessionFor(topic queue.Topic, name string) *session {
	byName, ok := q.sessions[topic]
	if !ok {
		byName = make(map[string]*session)
		q.sessions[topic] = byName
	}
	s, ok := byName[name]
	if !ok {
		s = &session{delivered: make(map[uuid.UUID]*delivered), redeliveries: make(map[uuid.UUID]int)}
		byName[name] = s
	}
	return s
}

const duplicateWindow = 10 * time.Minute

func (q *Queue) duplicate(topic queue.Topic, id uuid.UUID, now time.Time) bool {
	byID, ok := q.seen[topic]
	if !ok {
		byID = make(map[uuid.UUID]time.Time)
		q.seen[topic] = byID
	}
	for k, seenAt := range byID {
		if now.Sub(seenAt) > duplicateWindow {
			delete(byID, k)
		}
	}
	if _, ok := byID[id]; ok {
		return true
	}
	byID[id] = now
	return false
}

// Send implements queue.Producer.
func (q *Queue) Send(ctx context.Context, topic queue.Topic, msg queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if topic.FIFO() && msg.Session == "" {
		return fmt.Errorf("topic %s requires a session", topic)
	}

	now := time.Now()
	if topic.FIFO() && q.duplicate(topic, msg.ID, now) {
		return nil
	}

	s := q.sessionFor(topic, msg.Session)
	s.pending = append(s.pending, msg)
	sort.SliceStable(s.pending, func(i, j int) bool {
		return readyAt(s.pending[i]).Before(readyAt(s.pending[j]))
	})
	return nil
}

func readyAt(msg queue.Message) time.Time {
	if msg.ScheduledFor != nil {
		return *msg.ScheduledFor
	}
	return msg.CreatedAt
}

// SendBatch implements queue.Producer.
func (q *Queue) SendBatch(ctx context.Context, topic queue.Topic, msgs []queue.Message, batchSizeLimitBytes int) error {
	var total int
	for _, m := range msgs {
		total += len(m.Payload)
	}
	if total > batchSizeLimitBytes {
		return fmt.Errorf("batch size %d exceeds limit %d", total, batchSizeLimitBytes)
	}
	for _, m := range msgs {
		if err := q.Send(ctx, topic, m); err != nil {
			return err
		}
	}
	return nil
}

// LeaseNextSession implements queue.Consumer.
func (q *Queue) LeaseNextSession(ctx context.Context, topic queue.Topic) (*queue.SessionHandle, error) {
	for {
		q.mu.Lock()
		now := time.Now()
		for name, s := range q.sessions[topic] {
			if s.locked(now) {
				continue
			}
			if !hasReadyMessage(s, now) {
				continue
			}
			lockID := uuid.NewString()
			s.lockedBy = lockID
			s.lockUntil = now.Add(topic.LockDuration())
			q.mu.Unlock()
			return &queue.SessionHandle{Topic: topic, Session: name, LockID: lockID}, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func hasReadyMessage(s *session, now time.Time) bool {
	for _, m := range s.pending {
		if !readyAt(m).After(now) {
			return true
		}
	}
	return false
}

func (q *Queue) validHandle(handle *queue.SessionHandle) (*session, error) {
	byName, ok := q.sessions[handle.Topic]
	if !ok {
		return nil, fmt.Errorf("unknown topic %s", handle.Topic)
	}
	s, ok := byName[handle.Session]
	if !ok {
		return nil, fmt.Errorf("unknown session %s", handle.Session)
	}
	if s.lockedBy != handle.LockID {
		return nil, fmt.Errorf("session %s is not held by this handle", handle.Session)
	}
	return s, nil
}

// Receive implements queue.Consumer.
func (q *Queue) Receive(ctx context.Context, handle *queue.SessionHandle, max int) ([]queue.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	s, err := q.validHandle(handle)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var out []queue.Message
	var remaining []queue.Message
	for _, m := range s.pending {
		if len(out) < max && !readyAt(m).After(now) {
			out = append(out, m)
			continue
		}
		remaining = append(remaining, m)
	}
	s.pending = remaining

	for _, m := range out {
		d, ok := s.delivered[m.ID]
		if !ok {
			d = &delivered{msg: m, deliveries: s.redeliveries[m.ID]}
			s.delivered[m.ID] = d
			delete(s.redeliveries, m.ID)
		}
		d.deliveries++
		d.expiresAt = now.Add(handle.Topic.LockDuration())
	}

	return out, nil
}

// Complete implements queue.Consumer.
func (q *Queue) Complete(ctx context.Context, handle *queue.SessionHandle, msg queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	s, err := q.validHandle(handle)
	if err != nil {
		return err
	}
	delete(s.delivered, msg.ID)
	return nil
}

// Abandon implements queue.Consumer: on business-logic failure, the message
// returns to the front of its session so FIFO order is preserved across the
// redelivery, unless it has reached max delivery count, in which case it is
// dead-lettered instead.
func (q *Queue) Abandon(ctx context.Context, handle *queue.SessionHandle, msg queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	s, err := q.validHandle(handle)
	if err != nil {
		return err
	}

	d, ok := s.delivered[msg.ID]
	if !ok {
		d = &delivered{msg: msg}
	}
	delete(s.delivered, msg.ID)

	if d.deliveries >= handle.Topic.MaxDeliveryCount() {
		q.deadLetter = append(q.deadLetter, msg)
		return nil
	}

	s.redeliveries[msg.ID] = d.deliveries
	s.pending = append([]queue.Message{msg}, s.pending...)
	return nil
}

// DeadLetter implements queue.Consumer.
func (q *Queue) DeadLetter(ctx context.Context, handle *queue.SessionHandle, msg queue.Message, reason queue.DeadLetterReason) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	s, err := q.validHandle(handle)
	if err != nil {
		return err
	}
	delete(s.delivered, msg.ID)
	q.deadLetter = append(q.deadLetter, msg)
	return nil
}

// RenewLock implements queue.Consumer.
func (q *Queue) RenewLock(ctx context.Context, handle *queue.SessionHandle) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	s, err := q.validHandle(handle)
	if err != nil {
		return err
	}
	s.lockUntil = time.Now().Add(handle.Topic.LockDuration())
	return nil
}

// ReleaseSession implements queue.Consumer.
func (q *Queue) ReleaseSession(ctx context.Context, handle *queue.SessionHandle) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	s, err := q.validHandle(handle)
	if err != nil {
		return err
	}
	s.lockedBy = ""
	s.lockUntil = time.Time{}
	return nil
}

// Depths implements queue.Telemetry.
func (q *Queue) Depths(ctx context.Context) (map[queue.Topic]queue.TopicDepth, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make(map[queue.Topic]queue.TopicDepth)
	now := time.Now()
	for topic, byName := range q.sessions {
		d := out[topic]
		for _, s := range byName {
			for _, m := range s.pending {
				if readyAt(m).After(now) {
					d.Scheduled++
				} else {
					d.Active++
				}
			}
			d.Active += int64(len(s.delivered))
		}
		out[topic] = d
	}
	dl := out[queue.TopicDeadLetter]
	dl.DeadLetter = int64(len(q.deadLetter))
	out[queue.TopicDeadLetter] = dl
	return out, nil
}
