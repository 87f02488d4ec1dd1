package chat

import (
	"context"
	"strings"
	"time"
)

// AppendInput describes a message append request.
type AppendInput struct {
	ConversationID string
	SenderID       string
	Body           string
	Now            time.Time
}

// Store is the chat persistence boundary: the conversation directory plus
// the append-only message log.
//
// Requirements for every implementation:
//   - FindOrCreateConversation is idempotent per unordered participant pair.
//   - AppendMessage is atomic with respect to concurrent appends to the same
//     conversation; Seq is strictly monotonic per conversation with no gaps.
//   - Messages returns the full log ordered by Seq ASC.
type Store interface {
	// FindOrCreateConversation returns the conversation for the pair {a,b},
	// creating it when absent. created reports whether a new record was made.
	FindOrCreateConversation(ctx context.Context, a, b string, now time.Time) (conv Conversation, created bool, err error)

	// ListConversations returns every conversation containing userID.
	// Ordering is storage order.
	ListConversations(ctx context.Context, userID string) ([]Conversation, error)

	// GetConversation returns the conversation by id or ErrNotFound.
	// Membership authorization is the caller's concern.
	GetConversation(ctx context.Context, id string) (Conversation, error)

	// AppendMessage validates, timestamps, and durably appends one message.
	// Fails with ErrNotFound when the conversation does not exist, with
	// ErrValidation on an empty-after-trim body, and with ErrForbidden when
	// the sender is not a participant.
	AppendMessage(ctx context.Context, in AppendInput) (Message, error)

	// Messages returns the persisted log in insertion order. Side-effect-free.
	Messages(ctx context.Context, conversationID string) ([]Message, error)

	Close() error
}

// validateAppend normalizes an AppendInput and enforces the store-level
// contract shared by all implementations.
func validateAppend(op string, in AppendInput) (AppendInput, error) {
	in.ConversationID = strings.TrimSpace(in.ConversationID)
	in.SenderID = strings.TrimSpace(in.SenderID)
	in.Body = strings.TrimSpace(in.Body)

	if in.ConversationID == "" {
		return in, OpError{Op: op, Kind: ErrValidation, Msg: "missing conversation id"}
	}
	if in.SenderID == "" {
		return in, OpError{Op: op, Kind: ErrValidation, Msg: "missing sender id"}
	}
	if in.Body == "" {
		return in, OpError{Op: op, Kind: ErrValidation, Msg: "empty message body"}
	}
	if len([]rune(in.Body)) > MaxMessageChars {
		return in, OpError{Op: op, Kind: ErrValidation, Msg: "message too long"}
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}
	return in, nil
}

// MaxMessageChars bounds the message body length (runes).
const MaxMessageChars = 4000
