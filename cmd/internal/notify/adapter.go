package notify

import (
	"context"
	"log/slog"
	"time"

	"ripple/cmd/internal/chat"
)

// Producer bridges domain events onto the notification queue. It satisfies
// both the chat and user notifier seams.
type Producer struct {
	log *slog.Logger
	enq Enqueuer
}

// NewProducer constructs a Producer over enq.
func NewProducer(log *slog.Logger, enq Enqueuer) *Producer {
	if log == nil {
		log = slog.Default()
	}
	if enq == nil {
		enq = NopEnqueuer{}
	}
	return &Producer{log: log, enq: enq}
}

// MessageStored queues a notification for the conversation participant who
// did not send the message.
func (p *Producer) MessageStored(ctx context.Context, conv chat.Conversation, msg chat.Message) error {
	return p.enq.Enqueue(ctx, TaskMessageStored, MessageStoredPayload{
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		SenderID:       msg.SenderID,
		RecipientID:    conv.Other(msg.SenderID),
		Body:           msg.Body,
		SentAt:         msg.SentAt,
	})
}

// FollowToggled queues a notification when a follow edge is created.
// Unfollows are silent.
func (p *Producer) FollowToggled(ctx context.Context, actorID, targetID string, followed bool) error {
	if !followed {
		return nil
	}
	return p.enq.Enqueue(ctx, TaskFollowToggled, FollowToggledPayload{
		ActorID:  actorID,
		TargetID: targetID,
		At:       time.Now().UTC(),
	})
}
