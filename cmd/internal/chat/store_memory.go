package chat

import (
	"context"
	"sync"
	"time"

	"ripple/cmd/internal/ids"
)

const memMaxMessagesPerConversation = 10_000

// InMemoryStore is the dev/test fallback when neither Postgres nor Bolt is
// configured. State is lost on restart; the realtime layer is already
// designed for clients to rejoin after that.
type InMemoryStore struct {
	mu    sync.Mutex
	convs map[string]*memConversation
	pairs map[string]string // "lo\x00hi" -> conversation id
}

type memConversation struct {
	conv Conversation
	seq  int64
	msgs []Message
}

// NewInMemoryStore constructs an empty in-memory Store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		convs: make(map[string]*memConversation),
		pairs: make(map[string]string),
	}
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }

func pairKey(lo, hi string) string { return lo + "\x00" + hi }

// FindOrCreateConversation returns the conversation for {a,b}, creating it when absent.
func (s *InMemoryStore) FindOrCreateConversation(ctx context.Context, a, b string, now time.Time) (Conversation, bool, error) {
	const op = "chat.FindOrCreateConversation"

	lo, hi, err := NormalizePair(a, b)
	if err != nil {
		return Conversation{}, false, err
	}
	if err := ctx.Err(); err != nil {
		return Conversation{}, false, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.pairs[pairKey(lo, hi)]; ok {
		return s.convs[id].conv, false, nil
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return Conversation{}, false, OpError{Op: op, Kind: ErrPersistence, Msg: err.Error()}
	}

	conv := Conversation{
		ID:            id,
		ParticipantLo: lo,
		ParticipantHi: hi,
		CreatedAt:     now,
	}
	s.convs[id] = &memConversation{conv: conv}
	s.pairs[pairKey(lo, hi)] = id
	return conv, true, nil
}

// ListConversations returns every conversation containing userID in creation order.
func (s *InMemoryStore) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Conversation
	for _, c := range s.convs {
		if c.conv.HasParticipant(userID) {
			out = append(out, c.conv)
		}
	}
	// ULIDs sort by creation time.
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].ID < out[i].ID {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

// GetConversation returns the conversation by id or ErrNotFound.
func (s *InMemoryStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[id]
	if !ok {
		return Conversation{}, NotFoundError{Op: "chat.GetConversation", Resource: "conversation"}
	}
	return c.conv, nil
}

// AppendMessage appends one message under the store mutex, which serializes
// concurrent appends and keeps Seq gap-free.
func (s *InMemoryStore) AppendMessage(ctx context.Context, in AppendInput) (Message, error) {
	const op = "chat.AppendMessage"

	in, err := validateAppend(op, in)
	if err != nil {
		return Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[in.ConversationID]
	if !ok {
		return Message{}, NotFoundError{Op: op, Resource: "conversation"}
	}
	if !c.conv.HasParticipant(in.SenderID) {
		return Message{}, OpError{Op: op, Kind: ErrForbidden, Msg: "sender is not a participant"}
	}

	id, err := ids.NewULID(in.Now)
	if err != nil {
		return Message{}, OpError{Op: op, Kind: ErrPersistence, Msg: err.Error()}
	}

	c.seq++
	msg := Message{
		ID:             id,
		ConversationID: in.ConversationID,
		Seq:            c.seq,
		SenderID:       in.SenderID,
		Body:           in.Body,
		SentAt:         in.Now,
	}
	c.msgs = append(c.msgs, msg)

	// Bound memory to avoid unbounded growth in dev.
	if len(c.msgs) > memMaxMessagesPerConversation {
		c.msgs = c.msgs[len(c.msgs)-memMaxMessagesPerConversation:]
	}

	return msg, nil
}

// Messages returns the full log for a conversation ordered by Seq ASC.
func (s *InMemoryStore) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[conversationID]
	if !ok {
		return nil, NotFoundError{Op: "chat.Messages", Resource: "conversation"}
	}
	return append([]Message(nil), c.msgs...), nil
}
