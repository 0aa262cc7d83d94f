package memqueue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/richtunnel/partnerstestapi/internal/queue"
)

func newMsg(session string) queue.Message {
	return queue.Message{
		ID:         uuid.New(),
		Type:       queue.MessageDemographics,
		Payload:    []byte(`{}`),
		Session:    session,
		MaxRetries: 3,
		CreatedAt:  time.Now(),
	}
}

func TestSendRequiresSessionOnFIFOTopic(t *testing.T) {
	q := New()
	msg := newMsg("")
	if err := q.Send(context.Background(), queue.TopicDemographicsFIFO, msg); err == nil {
		t.Fatal("Send() on FIFO topic with empty session should fail")
	}
}

func TestFIFOOrderingWithinSession(t *testing.T) {
	q := New()
	ctx := context.Background()

	first := newMsg("tenant-a")
	time.Sleep(time.Millisecond)
	second := newMsg("tenant-a")

	if err := q.Send(ctx, queue.TopicDemographicsFIFO, first); err != nil {
		t.Fatalf("Send() first: %v", err)
	}
	if err := q.Send(ctx, queue.TopicDemographicsFIFO, second); err != nil {
		t.Fatalf("Send() second: %v", err)
	}

	handle, err := q.LeaseNextSession(ctx, queue.TopicDemographicsFIFO)
	if err != nil {
		t.Fatalf("LeaseNextSession(): %v", err)
	}

	msgs, err := q.Receive(ctx, handle, 10)
	if err != nil {
		t.Fatalf("Receive(): %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("Receive() returned %d messages, want 2", len(msgs))
	}
	if msgs[0].ID != first.ID || msgs[1].ID != second.ID {
		t.Errorf("Receive() returned out of order: got [%s %s], want [%s %s]",
			msgs[0].ID, msgs[1].ID, first.ID, second.ID)
	}
}

func TestLockedSessionNotLeasedTwice(t *testing.T) {
	q := New()
	ctx := context.Background()

	if err := q.Send(ctx, queue.TopicDemographicsFIFO, newMsg("tenant-a")); err != nil {
		t.Fatalf("Send(): %v", err)
	}

	handle, err := q.LeaseNextSession(ctx, queue.TopicDemographicsFIFO)
	if err != nil {
		t.Fatalf("LeaseNextSession(): %v", err)
	}

	leaseCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = q.LeaseNextSession(leaseCtx, queue.TopicDemographicsFIFO)
	if err == nil {
		t.Fatal("LeaseNextSession() should block while the session is held, not return immediately")
	}

	if err := q.ReleaseSession(ctx, handle); err != nil {
		t.Fatalf("ReleaseSession(): %v", err)
	}

	handle2, err := q.LeaseNextSession(ctx, queue.TopicDemographicsFIFO)
	if err != nil {
		t.Fatalf("LeaseNextSession() after release: %v", err)
	}
	if handle2.Session != handle.Session {
		t.Errorf("re-leased session = %q, want %q", handle2.Session, handle.Session)
	}
}

func TestAbandonRequeuesAtFront(t *testing.T) {
	q := New()
	ctx := context.Background()

	first := newMsg("tenant-a")
	time.Sleep(time.Millisecond)
	second := newMsg("tenant-a")
	_ = q.Send(ctx, queue.TopicDemographicsFIFO, first)
	_ = q.Send(ctx, queue.TopicDemographicsFIFO, second)

	handle, _ := q.LeaseNextSession(ctx, queue.TopicDemographicsFIFO)
	msgs, _ := q.Receive(ctx, handle, 10)
	if len(msgs) != 2 {
		t.Fatalf("Receive() returned %d messages, want 2", len(msgs))
	}

	if err := q.Abandon(ctx, handle, msgs[0]); err != nil {
		t.Fatalf("Abandon(): %v", err)
	}

	requeued, err := q.Receive(ctx, handle, 10)
	if err != nil {
		t.Fatalf("Receive() after abandon: %v", err)
	}
	if len(requeued) != 1 || requeued[0].ID != first.ID {
		t.Errorf("Receive() after abandon = %+v, want [%s] requeued at front", requeued, first.ID)
	}
}

func TestAbandonDeadLettersAfterMaxDeliveries(t *testing.T) {
	q := New()
	ctx := context.Background()
	msg := newMsg("tenant-a")
	msg.MaxRetries = 1
	_ = q.Send(ctx, queue.TopicDemographicsFIFO, msg)

	for i := 0; i < queue.TopicDemographicsFIFO.MaxDeliveryCount(); i++ {
		handle, err := q.LeaseNextSession(ctx, queue.TopicDemographicsFIFO)
		if err != nil {
			t.Fatalf("LeaseNextSession() iteration %d: %v", i, err)
		}
		received, err := q.Receive(ctx, handle, 10)
		if err != nil {
			t.Fatalf("Receive() iteration %d: %v", i, err)
		}
		if len(received) != 1 {
			t.Fatalf("iteration %d: got %d messages, want 1", i, len(received))
		}
		if err := q.Abandon(ctx, handle, received[0]); err != nil {
			t.Fatalf("Abandon() iteration %d: %v", i, err)
		}
		_ = q.ReleaseSession(ctx, handle)
	}

	depths, err := q.Depths(ctx)
	if err != nil {
		t.Fatalf("Depths(): %v", err)
	}
	if depths[queue.TopicDeadLetter].DeadLetter != 1 {
		t.Errorf("dead-letter depth = %d, want 1", depths[queue.TopicDeadLetter].DeadLetter)
	}
}

func TestCompleteRemovesDelivery(t *testing.T) {
	q := New()
	ctx := context.Background()
	msg := newMsg("tenant-a")
	_ = q.Send(ctx, queue.TopicDemographicsFIFO, msg)

	handle, _ := q.LeaseNextSession(ctx, queue.TopicDemographicsFIFO)
	received, _ := q.Receive(ctx, handle, 10)

	if err := q.Complete(ctx, handle, received[0]); err != nil {
		t.Fatalf("Complete(): %v", err)
	}

	depths, err := q.Depths(ctx)
	if err != nil {
		t.Fatalf("Depths(): %v", err)
	}
	if depths[queue.TopicDemographicsFIFO].Active != 0 {
		t.Errorf("active depth after complete = %d, want 0", depths[queue.TopicDemographicsFIFO].Active)
	}
}

func TestDuplicateSendIgnoredOnFIFOTopic(t *testing.T) {
	q := New()
	ctx := context.Background()
	msg := newMsg("tenant-a")

	if err := q.Send(ctx, queue.TopicDemographicsFIFO, msg); err != nil {
		t.Fatalf("first Send(): %v", err)
	}
	if err := q.Send(ctx, queue.TopicDemographicsFIFO, msg); err != nil {
		t.Fatalf("duplicate Send(): %v", err)
	}

	handle, _ := q.LeaseNextSession(ctx, queue.TopicDemographicsFIFO)
	received, err := q.Receive(ctx, handle, 10)
	if err != nil {
		t.Fatalf("Receive(): %v", err)
	}
	if len(received) != 1 {
		t.Errorf("Receive() returned %d messages, want 1 (duplicate suppressed)", len(received))
	}
}
