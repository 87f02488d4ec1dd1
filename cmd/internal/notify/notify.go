// Package notify carries the post-persistence side effects (new-message and
// follow notifications) off the request path through a Redis-backed task
// queue. Enqueue failures are surfaced to callers as errors; callers log and
// move on, they never fail the request that triggered the notification.
package notify

import (
	"context"
	"log/slog"
	"time"
)

// Task type names. Wire-stable: workers and producers must agree.
const (
	TaskMessageStored = "notify:message.stored"
	TaskFollowToggled = "notify:follow.toggled"
)

// MessageStoredPayload is the queued payload for a stored chat message.
type MessageStoredPayload struct {
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	SenderID       string    `json:"sender_id"`
	RecipientID    string    `json:"recipient_id"`
	Body           string    `json:"body"`
	SentAt         time.Time `json:"sent_at"`
}

// FollowToggledPayload is the queued payload for a new follow edge.
type FollowToggledPayload struct {
	ActorID  string    `json:"actor_id"`
	TargetID string    `json:"target_id"`
	At       time.Time `json:"at"`
}

// Sender delivers one rendered notification to a user. Implementations
// plug in email, push, or anything else behind the same seam.
type Sender interface {
	Notify(ctx context.Context, userID, subject, body string) error
}

// LogSender is the default Sender: it writes notifications to the log.
// Useful for dev and as the fallback when no delivery channel is configured.
type LogSender struct {
	Log *slog.Logger
}

// Notify logs the notification.
func (s LogSender) Notify(_ context.Context, userID, subject, body string) error {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("notify.deliver", "user_id", userID, "subject", subject, "body", body)
	return nil
}
