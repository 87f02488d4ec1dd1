package realtime

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ripple/cmd/internal/chat"
	v1 "ripple/shared/contracts/realtime/v1"
)

// MessagePublisher turns stored messages into message.new envelopes and
// hands them to the hub. It runs inline on the send path and never blocks:
// slow subscribers lose frames, the sender does not wait.
type MessagePublisher struct {
	log *slog.Logger
	hub *Hub
}

// NewMessagePublisher constructs a publisher bound to hub.
func NewMessagePublisher(log *slog.Logger, hub *Hub) *MessagePublisher {
	if log == nil {
		log = slog.Default()
	}
	return &MessagePublisher{log: log, hub: hub}
}

// Publish fans a stored message out to the conversation's subscribers.
func (p *MessagePublisher) Publish(conversationID string, msg chat.Message) {
	payload, err := json.Marshal(v1.MessageNewPayload{
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		Seq:            msg.Seq,
		SenderID:       msg.SenderID,
		Body:           msg.Body,
		SentAt:         msg.SentAt,
	})
	if err != nil {
		p.log.Error("realtime.publish.marshal.fail", "message_id", msg.ID, "err", err)
		return
	}

	delivered := p.hub.Publish(conversationID, newEnvelope(v1.TypeMessageNew, payload, time.Now().UTC()))
	p.log.Debug("realtime.publish",
		"conversation_id", conversationID,
		"message_id", msg.ID,
		"seq", msg.Seq,
		"delivered", delivered,
	)
}

func newEnvelope(typ string, payload json.RawMessage, ts time.Time) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      uuid.NewString(),
		TS:      ts,
		Payload: payload,
	}
}
