package realtime

import (
	"log/slog"
	"sync"

	v1 "ripple/shared/contracts/realtime/v1"
)

// Group is the in-memory subscriber set for one conversation.
//
// Concurrency guarantees:
// - Join/Leave are safe under concurrent Broadcast.
// - Broadcast never blocks (drops under backpressure).
// - Broadcast is panic-safe because Client.Send is never closed by the server.
type Group struct {
	log *slog.Logger
	ID  string

	mu      sync.RWMutex
	members map[string]*Client
}

// NewGroup constructs a subscriber group.
func NewGroup(log *slog.Logger, id string) *Group {
	return &Group{
		log:     log,
		ID:      id,
		members: make(map[string]*Client),
	}
}

// Join adds a client to the group. Joining twice is a no-op.
func (g *Group) Join(client *Client) {
	if g == nil || client == nil || client.SessionID == "" {
		return
	}

	g.mu.Lock()
	_, already := g.members[client.SessionID]
	g.members[client.SessionID] = client
	g.mu.Unlock()

	if !already {
		g.log.Info("realtime.group.join", "conversation_id", g.ID, "session_id", client.SessionID)
	}
}

// Leave removes a client from the group. It does NOT close the client:
// a session can hold subscriptions to several conversations at once, and
// dropping one must not tear down the others.
func (g *Group) Leave(sessionID string) {
	if g == nil || sessionID == "" {
		return
	}

	g.mu.Lock()
	_, ok := g.members[sessionID]
	delete(g.members, sessionID)
	g.mu.Unlock()

	if ok {
		g.log.Info("realtime.group.leave", "conversation_id", g.ID, "session_id", sessionID)
	}
}

// Size returns the current member count.
func (g *Group) Size() int {
	if g == nil {
		return 0
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.members)
}

// Broadcast fans an envelope out to all members and returns the number of
// deliveries. Non-blocking: members with a full queue or a closing client
// are skipped and counted as drops.
func (g *Group) Broadcast(env v1.Envelope) int {
	if g == nil {
		return 0
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	delivered := 0
	for _, m := range g.members {
		if m == nil {
			continue
		}

		select {
		case <-m.Done():
			continue
		default:
		}

		select {
		case m.Send <- env:
			delivered++
			metricDeliveries.Inc()
		default:
			metricDropped.Inc()
			g.log.Warn("realtime.group.drop", "conversation_id", g.ID, "session_id", m.SessionID, "type", env.Type)
		}
	}
	return delivered
}
