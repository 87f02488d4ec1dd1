package notify

import (
	"context"
	"testing"
	"time"

	"ripple/cmd/internal/chat"
)

type recordedTask struct {
	Type    string
	Payload any
}

type recordingEnqueuer struct {
	tasks []recordedTask
}

func (e *recordingEnqueuer) Enqueue(_ context.Context, taskType string, payload any) error {
	e.tasks = append(e.tasks, recordedTask{Type: taskType, Payload: payload})
	return nil
}

func (e *recordingEnqueuer) Close() error { return nil }

func TestProducer_MessageStored_TargetsRecipient(t *testing.T) {
	t.Parallel()

	enq := &recordingEnqueuer{}
	p := NewProducer(nil, enq)

	conv := chat.Conversation{ID: "conv-1", ParticipantLo: "alice", ParticipantHi: "bob"}
	msg := chat.Message{
		ID:             "msg-1",
		ConversationID: "conv-1",
		Seq:            3,
		SenderID:       "alice",
		Body:           "hi",
		SentAt:         time.Now().UTC(),
	}

	if err := p.MessageStored(context.Background(), conv, msg); err != nil {
		t.Fatalf("message stored: %v", err)
	}

	if len(enq.tasks) != 1 || enq.tasks[0].Type != TaskMessageStored {
		t.Fatalf("tasks=%+v", enq.tasks)
	}
	payload, ok := enq.tasks[0].Payload.(MessageStoredPayload)
	if !ok {
		t.Fatalf("payload type %T", enq.tasks[0].Payload)
	}
	// The recipient is the participant who did not send.
	if payload.RecipientID != "bob" || payload.SenderID != "alice" {
		t.Fatalf("recipient routing wrong: %+v", payload)
	}
	if payload.MessageID != "msg-1" || payload.ConversationID != "conv-1" {
		t.Fatalf("payload identity wrong: %+v", payload)
	}
}

func TestProducer_FollowToggled_OnlyFollowsEnqueue(t *testing.T) {
	t.Parallel()

	enq := &recordingEnqueuer{}
	p := NewProducer(nil, enq)

	if err := p.FollowToggled(context.Background(), "alice", "bob", true); err != nil {
		t.Fatalf("follow: %v", err)
	}
	if err := p.FollowToggled(context.Background(), "alice", "bob", false); err != nil {
		t.Fatalf("unfollow: %v", err)
	}

	if len(enq.tasks) != 1 {
		t.Fatalf("unfollow must be silent; tasks=%+v", enq.tasks)
	}
	payload, ok := enq.tasks[0].Payload.(FollowToggledPayload)
	if !ok || payload.ActorID != "alice" || payload.TargetID != "bob" {
		t.Fatalf("payload=%+v ok=%v", enq.tasks[0].Payload, ok)
	}
}

func TestProducer_NilEnqueuerIsSafe(t *testing.T) {
	t.Parallel()

	p := NewProducer(nil, nil)
	conv := chat.Conversation{ID: "conv-1", ParticipantLo: "alice", ParticipantHi: "bob"}
	if err := p.MessageStored(context.Background(), conv, chat.Message{SenderID: "alice"}); err != nil {
		t.Fatalf("nop enqueuer must not fail: %v", err)
	}
}
