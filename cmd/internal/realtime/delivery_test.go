package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"ripple/cmd/internal/chat"
	v1 "ripple/shared/contracts/realtime/v1"
)

type knownUsers map[string]chat.Profile

func (u knownUsers) Exists(_ context.Context, userID string) (bool, error) {
	_, ok := u[userID]
	return ok, nil
}

func (u knownUsers) Profiles(_ context.Context, ids []string) (map[string]chat.Profile, error) {
	out := make(map[string]chat.Profile, len(ids))
	for _, id := range ids {
		if p, ok := u[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

// Send path wired end to end: chat service over the in-memory store, the
// real hub, and two subscribed sessions. Both participants, the sender
// included, observe the stored message in persistence order.
func TestSendDeliversToAllSubscribers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	hub := NewHub(nil)
	svc := chat.NewService(nil, chat.NewInMemoryStore(), knownUsers{
		"alice": {ID: "alice"},
		"bob":   {ID: "bob"},
	}, chat.WithPublisher(NewMessagePublisher(nil, hub)))

	conv, err := svc.CreateOrGet(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	aliceSess := NewClient("alice", "sess-alice", 16)
	bobSess := NewClient("bob", "sess-bob", 16)
	hub.Join(conv.ID, aliceSess)
	hub.Join(conv.ID, bobSess)

	first, err := svc.Send(ctx, "alice", conv.ID, "hello bob")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	second, err := svc.Send(ctx, "bob", conv.ID, "hi alice")
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if second.Seq != first.Seq+1 {
		t.Fatalf("seqs not consecutive: %d then %d", first.Seq, second.Seq)
	}

	for _, sess := range []*Client{aliceSess, bobSess} {
		for i, want := range []chat.Message{first, second} {
			var env v1.Envelope
			select {
			case env = <-sess.Send:
			case <-time.After(time.Second):
				t.Fatalf("session %s: delivery %d never arrived", sess.SessionID, i)
			}
			if env.Type != v1.TypeMessageNew {
				t.Fatalf("session %s: envelope type=%q", sess.SessionID, env.Type)
			}
			var p v1.MessageNewPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				t.Fatalf("unmarshal payload: %v", err)
			}
			if p.MessageID != want.ID || p.Seq != want.Seq || p.Body != want.Body {
				t.Fatalf("session %s: observed order differs from persistence order: got %+v want %+v",
					sess.SessionID, p, want)
			}
		}
	}

	// A stored message survives the realtime path independently.
	msgs, err := chatMessages(ctx, svc, "alice", conv.ID)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != first.ID || msgs[1].ID != second.ID {
		t.Fatalf("log mismatch: %+v", msgs)
	}
}

func chatMessages(ctx context.Context, svc *chat.Service, caller, convID string) ([]chat.Message, error) {
	_, msgs, err := svc.Get(ctx, caller, convID)
	return msgs, err
}
