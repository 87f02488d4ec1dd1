package chat

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// UserDirectory is the narrow user-identity collaborator the chat core
// consumes. The core never stores display data, only identity references.
type UserDirectory interface {
	// Exists reports whether userID resolves to a known user.
	Exists(ctx context.Context, userID string) (bool, error)
	// Profiles resolves display data for the given user ids. Unknown ids
	// are simply absent from the result.
	Profiles(ctx context.Context, userIDs []string) (map[string]Profile, error)
}

// Publisher delivers a stored message to the realtime layer, best-effort.
// Implementations must never block the send path on slow subscribers.
type Publisher interface {
	Publish(conversationID string, msg Message)
}

// Notifier is the decoupled post-persistence side effect (push/email fanout).
// It is invoked only after a successful append and its errors never affect
// the success already owed to the sender.
type Notifier interface {
	MessageStored(ctx context.Context, conv Conversation, msg Message) error
}

// ConversationView is a conversation with its participants resolved to
// display data for API responses.
type ConversationView struct {
	Conversation
	Participants []Profile
}

const defaultAppendTimeout = 5 * time.Second

// Service orchestrates the chat operations: directory lookups, validated
// appends with a bounded persistence timeout, realtime publish, and the
// notification side effect.
//
// Ordering: appends and publishes for one conversation run under a
// per-conversation mutex, so the order subscribers observe is exactly the
// persistence order.
type Service struct {
	log    *slog.Logger
	store  Store
	users  UserDirectory
	pub    Publisher
	notify Notifier

	appendTimeout time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// ServiceOption configures optional Service collaborators.
type ServiceOption func(*Service)

// WithPublisher attaches the realtime publisher.
func WithPublisher(pub Publisher) ServiceOption {
	return func(s *Service) {
		if pub != nil {
			s.pub = pub
		}
	}
}

// WithNotifier attaches the post-persistence notifier.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) {
		if n != nil {
			s.notify = n
		}
	}
}

// WithAppendTimeout bounds the persistence step of Send.
func WithAppendTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.appendTimeout = d
		}
	}
}

// NewService constructs a Service.
func NewService(log *slog.Logger, store Store, users UserDirectory, opts ...ServiceOption) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		log:           log,
		store:         store,
		users:         users,
		appendTimeout: defaultAppendTimeout,
		locks:         make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

// CreateOrGet returns the conversation between caller and other, creating it
// on first contact. Repeated calls for the same pair return the same
// conversation. Fails with ErrNotFound when other is not a known user.
func (s *Service) CreateOrGet(ctx context.Context, callerID, otherID string) (Conversation, error) {
	const op = "chat.CreateOrGet"

	if _, _, err := NormalizePair(callerID, otherID); err != nil {
		return Conversation{}, err
	}

	ok, err := s.users.Exists(ctx, otherID)
	if err != nil {
		return Conversation{}, OpError{Op: op, Kind: ErrPersistence, Msg: err.Error()}
	}
	if !ok {
		return Conversation{}, NotFoundError{Op: op, Resource: "user"}
	}

	conv, created, err := s.store.FindOrCreateConversation(ctx, callerID, otherID, time.Now().UTC())
	if err != nil {
		return Conversation{}, err
	}
	if created {
		s.log.Info("chat.conversation.created", "conversation_id", conv.ID)
	}
	return conv, nil
}

// List returns every conversation containing caller, with participants
// resolved to display data.
func (s *Service) List(ctx context.Context, callerID string) ([]ConversationView, error) {
	convs, err := s.store.ListConversations(ctx, callerID)
	if err != nil {
		return nil, err
	}
	return s.resolveViews(ctx, convs)
}

// Get returns one conversation and its full message log. Non-participants
// get ErrNotFound, not ErrForbidden: outsiders cannot probe for ids.
func (s *Service) Get(ctx context.Context, callerID, conversationID string) (ConversationView, []Message, error) {
	conv, err := s.authorized(ctx, callerID, conversationID)
	if err != nil {
		return ConversationView{}, nil, err
	}

	msgs, err := s.store.Messages(ctx, conversationID)
	if err != nil {
		return ConversationView{}, nil, err
	}

	views, err := s.resolveViews(ctx, []Conversation{conv})
	if err != nil {
		return ConversationView{}, nil, err
	}
	return views[0], msgs, nil
}

// Send validates and durably appends a message, then publishes it to the
// current subscribers of the conversation (the sender included) and
// enqueues the notification side effect.
//
// A persistence failure aborts before any publish: subscribers are never
// told about a message that was not durably stored.
func (s *Service) Send(ctx context.Context, callerID, conversationID, body string) (Message, error) {
	const op = "chat.Send"

	conv, err := s.authorized(ctx, callerID, conversationID)
	if err != nil {
		return Message{}, err
	}

	lock := s.convLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	appendCtx, cancel := context.WithTimeout(ctx, s.appendTimeout)
	defer cancel()

	msg, err := s.store.AppendMessage(appendCtx, AppendInput{
		ConversationID: conversationID,
		SenderID:       callerID,
		Body:           body,
		Now:            time.Now().UTC(),
	})
	if err != nil {
		if appendCtx.Err() != nil && ctx.Err() == nil {
			return Message{}, OpError{Op: op, Kind: ErrPersistence, Msg: "append timed out"}
		}
		return Message{}, err
	}

	if s.pub != nil {
		s.pub.Publish(conversationID, msg)
	}

	if s.notify != nil {
		if err := s.notify.MessageStored(ctx, conv, msg); err != nil {
			// The message is already stored and delivered; notification
			// failures are logged, never surfaced.
			s.log.Warn("chat.notify.fail", "conversation_id", conversationID, "message_id", msg.ID, "err", err)
		}
	}

	return msg, nil
}

// Authorize reports whether userID may subscribe to conversationID.
// Used by the realtime gateway at join-time.
func (s *Service) Authorize(ctx context.Context, userID, conversationID string) error {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(userID) {
		return OpError{Op: "chat.Authorize", Kind: ErrForbidden, Msg: "not a participant"}
	}
	return nil
}

func (s *Service) authorized(ctx context.Context, callerID, conversationID string) (Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return Conversation{}, err
	}
	if !conv.HasParticipant(strings.TrimSpace(callerID)) {
		return Conversation{}, NotFoundError{Op: "chat.Get", Resource: "conversation"}
	}
	return conv, nil
}

func (s *Service) resolveViews(ctx context.Context, convs []Conversation) ([]ConversationView, error) {
	idSet := make(map[string]struct{})
	for _, c := range convs {
		idSet[c.ParticipantLo] = struct{}{}
		idSet[c.ParticipantHi] = struct{}{}
	}
	ids := make([]string, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}

	profiles, err := s.users.Profiles(ctx, ids)
	if err != nil {
		return nil, OpError{Op: "chat.List", Kind: ErrPersistence, Msg: err.Error()}
	}

	out := make([]ConversationView, 0, len(convs))
	for _, c := range convs {
		v := ConversationView{Conversation: c}
		for _, pid := range c.Participants() {
			if p, ok := profiles[pid]; ok {
				v.Participants = append(v.Participants, p)
			} else {
				// Unknown users still render with a bare id.
				v.Participants = append(v.Participants, Profile{ID: pid})
			}
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *Service) convLock(conversationID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[conversationID] = l
	}
	return l
}
