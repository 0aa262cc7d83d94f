// Package redisqueue backs the queue.Queue contract with Redis: a list per
// session for ready messages, a sorted set per session for scheduled
// (not-yet-ready) messages, and a per-session lock key standing in for the
// broker's visibility lock. It uses the same redis/go-redis/v9 client
// already wired for rate limiting and idempotency, built directly against
// the driver's documented command API (see DESIGN.md for the grounding
// note on this package).
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/richtunnel/partnerstestapi/internal/queue"
)

// Queue implements queue.Queue against Redis.
type Queue struct {
	rdb *redis.Client
}

// New creates a Redis-backed Queue.
func New(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb}
}

func keyPending(topic queue.Topic, session string) string {
	return fmt.Sprintf("queue:%s:session:%s:pending", topic, session)
}

func keyScheduled(topic queue.Topic, session string) string {
	return fmt.Sprintf("queue:%s:session:%s:scheduled", topic, session)
}

func keyLock(topic queue.Topic, session string) string {
	return fmt.Sprintf("queue:%s:session:%s:lock", topic, session)
}

func keyDelivered(topic queue.Topic, session string) string {
	return fmt.Sprintf("queue:%s:session:%s:delivered", topic, session)
}

// keyRedelivered holds the delivery counts of abandoned messages waiting
// to be received again.
func keyRedelivered(topic queue.Topic, session string) string {
	return fmt.Sprintf("queue:%s:session:%s:redelivered", topic, session)
}

func keySessions(topic queue.Topic) string {
	return fmt.Sprintf("queue:%s:sessions", topic)
}

func keyDeadLetter() string {
	return "queue:dead-letter:messages"
}

func keySeen(topic queue.Topic, id uuid.UUID) string {
	return fmt.Sprintf("queue:%s:seen:%s", topic, id)
}

const duplicateWindow = 10 * time.Minute

type deliveryRecord struct {
	Msg        queue.Message `json:"msg"`
	Deliveries int           `json:"deliveries"`
}

// Send implements queue.Producer.
func (q *Queue) Send(ctx context.Context, topic queue.Topic, msg queue.Message) error {
	if topic.FIFO() && msg.Session == "" {
		return fmt.Errorf("topic %s requires a session", topic)
	}

	if topic.FIFO() {
		ok, err := q.rdb.SetNX(ctx, keySeen(topic, msg.ID), "1", duplicateWindow).Result()
		if err != nil {
			return fmt.Errorf("checking duplicate delivery: %w", err)
		}
		if !ok {
			return nil
		}
	}

	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	pipe := q.rdb.Pipeline()
	pipe.SAdd(ctx, keySessions(topic), msg.Session)
	if msg.ScheduledFor != nil && msg.ScheduledFor.After(time.Now()) {
		pipe.ZAdd(ctx, keyScheduled(topic, msg.Session), redis.Z{
			Score:  float64(msg.ScheduledFor.UnixMilli()),
			Member: b,
		})
	} else {
		pipe.RPush(ctx, keyPending(topic, msg.Session), b)
	}
	_, err = pipe.Exec(ctx)
	return err
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

// promoteScheduled moves any scheduled messages whose time has arrived into
// the session's pending list.
func (q *Queue) promoteScheduled(ctx context.Context, topic queue.Topic, session string) error {
	now := float64(time.Now().UnixMilli())
	ready, err := q.rdb.ZRangeByScore(ctx, keyScheduled(topic, session), &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%f", now),
	}).Result()
	if err != nil || len(ready) == 0 {
		return err
	}
	pipe := q.rdb.Pipeline()
	for _, raw := range ready {
		pipe.RPush(ctx, keyPending(topic, session), raw)
		pipe.ZRem(ctx, keyScheduled(topic, session), raw)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// LeaseNextSession implements queue.Consumer by polling for an unlocked
// session with ready work and acquiring its lock via SET NX EX.
func (q *Queue) LeaseNextSession(ctx context.Context, topic queue.Topic) (*queue.SessionHandle, error) {
	for {
		sessions, err := q.rdb.SMembers(ctx, keySessions(topic)).Result()
		if err != nil {
			return nil, fmt.Errorf("listing sessions: %w", err)
		}

		for _, session := range sessions {
			if err := q.promoteScheduled(ctx, topic, session); err != nil {
				continue
			}
			length, err := q.rdb.LLen(ctx, keyPending(topic, session)).Result()
			if err != nil || length == 0 {
				continue
			}
			lockID := uuid.NewString()
			ok, err := q.rdb.SetNX(ctx, keyLock(topic, session), lockID, topic.LockDuration()).Result()
			if err != nil || !ok {
				continue
			}
			return &queue.SessionHandle{Topic: topic, Session: session, LockID: lockID}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (q *Queue) checkLock(ctx context.Context, handle *queue.SessionHandle) error {
	held, err := q.rdb.Get(ctx, keyLock(handle.Topic, handle.Session)).Result()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("session %s lock expired", handle.Session)
	}
	if err != nil {
		return err
	}
	if held != handle.LockID {
		return fmt.Errorf("session %s is not held by this handle", handle.Session)
	}
	return nil
}

// Receive implements queue.Consumer.
func (q *Queue) Receive(ctx context.Context, handle *queue.SessionHandle, max int) ([]queue.Message, error) {
	if err := q.checkLock(ctx, handle); err != nil {
		return nil, err
	}

	var out []queue.Message
	for i := 0; i < max; i++ {
		raw, err := q.rdb.LPop(ctx, keyPending(handle.Topic, handle.Session)).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return out, err
		}
		var msg queue.Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			continue
		}
		out = append(out, msg)

		rec, err := q.loadDelivery(ctx, handle, msg.ID)
		if err != nil {
			rec.Deliveries, _ = q.rdb.HGet(ctx, keyRedelivered(handle.Topic, handle.Session), msg.ID.String()).Int()
			q.rdb.HDel(ctx, keyRedelivered(handle.Topic, handle.Session), msg.ID.String())
		}
		rec.Msg = msg
		rec.Deliveries++
		q.saveDelivery(ctx, handle, msg.ID, rec)
	}
	return out, nil
}

func (q *Queue) loadDelivery(ctx context.Context, handle *queue.SessionHandle, id uuid.UUID) (deliveryRecord, error) {
	raw, err := q.rdb.HGet(ctx, keyDelivered(handle.Topic, handle.Session), id.String()).Result()
	if err != nil {
		return deliveryRecord{}, err
	}
	var rec deliveryRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return deliveryRecord{}, err
	}
	return rec, nil
}

func (q *Queue) saveDelivery(ctx context.Context, handle *queue.SessionHandle, id uuid.UUID, rec deliveryRecord) {
	b, err := json.Marshal(rec)
	if err != nil {
		return
	}
	q.rdb.HSet(ctx, keyDelivered(handle.Topic, handle.Session), id.String(), b)
}

// Complete implements queue.Consumer.
func (q *Queue) Complete(ctx context.Context, handle *queue.SessionHandle, msg queue.Message) error {
	return q.rdb.HDel(ctx, keyDelivered(handle.Topic, handle.Session), msg.ID.String()).Err()
}

// Abandon implements queue.Consumer: the message is pushed back to the
// front of the session's pending list so FIFO order holds across the
// redelivery, unless its delivery count has reached the topic's limit, in
// which case it is dead-lettered instead.
func (q *Queue) Abandon(ctx context.Context, handle *queue.SessionHandle, msg queue.Message) error {
	rec, err := q.loadDelivery(ctx, handle, msg.ID)
	if err != nil {
		rec = deliveryRecord{Msg: msg, Deliveries: 1}
	}
	q.rdb.HDel(ctx, keyDelivered(handle.Topic, handle.Session), msg.ID.String())

	if rec.Deliveries >= handle.Topic.MaxDeliveryCount() {
		return q.DeadLetter(ctx, handle, msg, queue.ReasonMaxDelivery)
	}

	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	q.rdb.HSet(ctx, keyRedelivered(handle.Topic, handle.Session), msg.ID.String(), rec.Deliveries)
	return q.rdb.LPush(ctx, keyPending(handle.Topic, handle.Session), b).Err()
}

// DeadLetter implements queue.Consumer.
func (q *Queue) DeadLetter(ctx context.Context, handle *queue.SessionHandle, msg queue.Message, reason queue.DeadLetterReason) error {
	q.rdb.HDel(ctx, keyDelivered(handle.Topic, handle.Session), msg.ID.String())
	b, err := json.Marshal(struct {
		Msg    queue.Message          `json:"msg"`
		Topic  queue.Topic            `json:"topic"`
		Reason queue.DeadLetterReason `json:"reason"`
	}{msg, handle.Topic, reason})
	if err != nil {
		return err
	}
	return q.rdb.RPush(ctx, keyDeadLetter(), b).Err()
}

// RenewLock implements queue.Consumer.
func (q *Queue) RenewLock(ctx context.Context, handle *queue.SessionHandle) error {
	if err := q.checkLock(ctx, handle); err != nil {
		return err
	}
	return q.rdb.Expire(ctx, keyLock(handle.Topic, handle.Session), handle.Topic.LockDuration()).Err()
}

// ReleaseSession implements queue.Consumer.
func (q *Queue) ReleaseSession(ctx context.Context, handle *queue.SessionHandle) error {
	held, err := q.rdb.Get(ctx, keyLock(handle.Topic, handle.Session)).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	if held != handle.LockID {
		return nil
	}
	return q.rdb.Del(ctx, keyLock(handle.Topic, handle.Session)).Err()
}

// Depths implements queue.Telemetry.
func (q *Queue) Depths(ctx context.Context) (map[queue.Topic]queue.TopicDepth, error) {
	out := make(map[queue.Topic]queue.TopicDepth)
	for _, topic := range []queue.Topic{queue.TopicDemographicsFIFO, queue.TopicWebhooksFIFO, queue.TopicDocuments} {
		sessions, err := q.rdb.SMembers(ctx, keySessions(topic)).Result()
		if err != nil {
			return nil, err
		}
		var d queue.TopicDepth
		for _, s := range sessions {
			active, err := q.rdb.LLen(ctx, keyPending(topic, s)).Result()
			if err == nil {
				d.Active += active
			}
			delivered, err := q.rdb.HLen(ctx, keyDelivered(topic, s)).Result()
			if err == nil {
				d.Active += delivered
			}
			scheduled, err := q.rdb.ZCard(ctx, keyScheduled(topic, s)).Result()
			if err == nil {
				d.Scheduled += scheduled
			}
		}
		out[topic] = d
	}

	dlLen, err := q.rdb.LLen(ctx, keyDeadLetter()).Result()
	if err != nil {
		return nil, err
	}
	out[queue.TopicDeadLetter] = queue.TopicDepth{DeadLetter: dlLen}
	return out, nil
}
