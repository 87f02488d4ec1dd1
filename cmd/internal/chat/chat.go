// Package chat implements Ripple's direct-message core: the conversation
// directory, the durable per-conversation message log, and the send service
// that couples persistence with realtime fan-out.
package chat

import (
	"strings"
	"time"
)

// Conversation is a persisted two-party message thread.
//
// Participants are stored as a normalized pair (lo < hi by byte order) so
// that the unordered-pair uniqueness invariant becomes a plain unique key:
// for any two users at most one conversation exists.
type Conversation struct {
	ID            string
	ParticipantLo string
	ParticipantHi string
	CreatedAt     time.Time
}

// Participants returns both participant ids.
func (c Conversation) Participants() [2]string {
	return [2]string{c.ParticipantLo, c.ParticipantHi}
}

// HasParticipant reports whether userID is one of the two participants.
func (c Conversation) HasParticipant(userID string) bool {
	return userID != "" && (userID == c.ParticipantLo || userID == c.ParticipantHi)
}

// Other returns the participant that is not userID.
// Returns "" if userID is not a participant.
func (c Conversation) Other(userID string) string {
	switch userID {
	case c.ParticipantLo:
		return c.ParticipantHi
	case c.ParticipantHi:
		return c.ParticipantLo
	default:
		return ""
	}
}

// NormalizePair canonicalizes an unordered participant pair.
// Both ids must be non-empty and distinct.
func NormalizePair(a, b string) (lo, hi string, err error) {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == "" || b == "" {
		return "", "", OpError{Op: "chat.NormalizePair", Kind: ErrValidation, Msg: "empty participant id"}
	}
	if a == b {
		return "", "", OpError{Op: "chat.NormalizePair", Kind: ErrValidation, Msg: "participants must differ"}
	}
	if a < b {
		return a, b, nil
	}
	return b, a, nil
}

// Message is one immutable entry in a conversation's log.
// Seq is allocated by the store, strictly monotonic per conversation,
// and defines both read-back and realtime delivery order.
type Message struct {
	ID             string
	ConversationID string
	Seq            int64
	SenderID       string
	Body           string
	SentAt         time.Time
}

// Profile is the display projection supplied by the user-directory
// collaborator. The chat core stores only identity references; display
// data is resolved at read time.
type Profile struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}
