package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"ripple/cmd/internal/users"
)

type recordedNotification struct {
	UserID, Subject, Body string
}

type recordingSender struct {
	sent []recordedNotification
}

func (s *recordingSender) Notify(_ context.Context, userID, subject, body string) error {
	s.sent = append(s.sent, recordedNotification{userID, subject, body})
	return nil
}

type staticResolver map[string]users.Profile

func (r staticResolver) ProfileByID(_ context.Context, id string) (users.Profile, error) {
	p, ok := r[id]
	if !ok {
		return users.Profile{}, errors.New("unknown user")
	}
	return p, nil
}

func newTestWorker(t *testing.T, sender Sender, profiles Resolver) *Worker {
	t.Helper()

	// The worker is never started here; handlers are exercised directly.
	w, err := NewWorker(nil, "redis://localhost:6379/0", sender, profiles)
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	return w
}

func mustTask(t *testing.T, taskType string, payload any) *asynq.Task {
	t.Helper()

	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return asynq.NewTask(taskType, b)
}

func TestWorker_HandleMessageStored(t *testing.T) {
	t.Parallel()

	sender := &recordingSender{}
	w := newTestWorker(t, sender, staticResolver{
		"alice": {ID: "alice", Username: "alice", DisplayName: "Alice"},
	})

	task := mustTask(t, TaskMessageStored, MessageStoredPayload{
		ConversationID: "conv-1",
		MessageID:      "msg-1",
		SenderID:       "alice",
		RecipientID:    "bob",
		Body:           "dinner tonight?",
		SentAt:         time.Now().UTC(),
	})
	if err := w.handleMessageStored(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("expected one notification, got %d", len(sender.sent))
	}
	got := sender.sent[0]
	if got.UserID != "bob" {
		t.Fatalf("notification addressed to %q", got.UserID)
	}
	if got.Subject != "New message from Alice" {
		t.Fatalf("subject=%q", got.Subject)
	}
	if got.Body != "dinner tonight?" {
		t.Fatalf("body=%q", got.Body)
	}
}

func TestWorker_HandleFollowToggled(t *testing.T) {
	t.Parallel()

	sender := &recordingSender{}
	w := newTestWorker(t, sender, staticResolver{
		"alice": {ID: "alice", Username: "wonder"},
	})

	task := mustTask(t, TaskFollowToggled, FollowToggledPayload{
		ActorID:  "alice",
		TargetID: "bob",
		At:       time.Now().UTC(),
	})
	if err := w.handleFollowToggled(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}

	got := sender.sent[0]
	if got.UserID != "bob" || got.Subject != "New follower" {
		t.Fatalf("notification=%+v", got)
	}
	// DisplayName is empty; rendering falls back to the username.
	if got.Body != "wonder started following you" {
		t.Fatalf("body=%q", got.Body)
	}
}

func TestWorker_DisplayNameFallsBackToID(t *testing.T) {
	t.Parallel()

	sender := &recordingSender{}
	w := newTestWorker(t, sender, staticResolver{})

	task := mustTask(t, TaskMessageStored, MessageStoredPayload{
		SenderID:    "ghost",
		RecipientID: "bob",
		Body:        "boo",
	})
	if err := w.handleMessageStored(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if sender.sent[0].Subject != "New message from ghost" {
		t.Fatalf("subject=%q", sender.sent[0].Subject)
	}
}

func TestWorker_RejectsMalformedPayload(t *testing.T) {
	t.Parallel()

	w := newTestWorker(t, &recordingSender{}, nil)
	task := asynq.NewTask(TaskMessageStored, []byte("{not json"))
	if err := w.handleMessageStored(context.Background(), task); err == nil {
		t.Fatalf("malformed payload accepted")
	}
}
