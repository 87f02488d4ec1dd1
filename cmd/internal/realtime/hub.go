package realtime

import (
	"log/slog"
	"sync"

	v1 "ripple/shared/contracts/realtime/v1"
)

// Hub routes published envelopes to the current subscribers of each
// conversation. It tracks only live sessions: persistence lives in the
// message store, and a message published to a conversation with no
// subscribers simply has no realtime deliveries.
type Hub struct {
	log *slog.Logger

	mu       sync.Mutex
	groups   map[string]*Group
	sessions map[string]map[string]struct{} // session id -> subscribed conversation ids
}

// NewHub constructs a Hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:      log,
		groups:   make(map[string]*Group),
		sessions: make(map[string]map[string]struct{}),
	}
}

// Join subscribes a client to a conversation. Idempotent.
func (h *Hub) Join(conversationID string, client *Client) {
	if h == nil || conversationID == "" || client == nil || client.SessionID == "" {
		return
	}

	h.mu.Lock()
	g, ok := h.groups[conversationID]
	if !ok {
		g = NewGroup(h.log, conversationID)
		h.groups[conversationID] = g
	}
	subs := h.sessions[client.SessionID]
	if subs == nil {
		subs = make(map[string]struct{})
		h.sessions[client.SessionID] = subs
	}
	subs[conversationID] = struct{}{}
	// The member insert must happen under h.mu: pruneIfEmpty deletes
	// groups it finds empty, and a join landing on a pruned group would
	// be invisible to Publish. Lock order is always h.mu then group.mu.
	g.Join(client)
	h.mu.Unlock()
}

// Leave drops one subscription. The client stays connected and keeps any
// other subscriptions it holds.
func (h *Hub) Leave(conversationID, sessionID string) {
	if h == nil || conversationID == "" || sessionID == "" {
		return
	}

	h.mu.Lock()
	g := h.groups[conversationID]
	if subs := h.sessions[sessionID]; subs != nil {
		delete(subs, conversationID)
		if len(subs) == 0 {
			delete(h.sessions, sessionID)
		}
	}
	h.mu.Unlock()

	if g != nil {
		g.Leave(sessionID)
		h.pruneIfEmpty(conversationID)
	}
}

// Detach removes a session from every conversation it subscribed to.
// Called exactly once per connection teardown.
func (h *Hub) Detach(sessionID string) {
	if h == nil || sessionID == "" {
		return
	}

	h.mu.Lock()
	subs := h.sessions[sessionID]
	delete(h.sessions, sessionID)
	convIDs := make([]string, 0, len(subs))
	groups := make([]*Group, 0, len(subs))
	for id := range subs {
		if g := h.groups[id]; g != nil {
			convIDs = append(convIDs, id)
			groups = append(groups, g)
		}
	}
	h.mu.Unlock()

	for i, g := range groups {
		g.Leave(sessionID)
		h.pruneIfEmpty(convIDs[i])
	}
}

// Publish fans an envelope out to the conversation's current subscribers
// and returns the delivery count. Zero subscribers is not an error.
func (h *Hub) Publish(conversationID string, env v1.Envelope) int {
	if h == nil || conversationID == "" {
		return 0
	}

	h.mu.Lock()
	g := h.groups[conversationID]
	h.mu.Unlock()

	metricPublishes.Inc()
	if g == nil {
		return 0
	}
	return g.Broadcast(env)
}

func (h *Hub) pruneIfEmpty(conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if g := h.groups[conversationID]; g != nil && g.Size() == 0 {
		delete(h.groups, conversationID)
	}
}
