package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"ripple/cmd/internal/chat"
	"ripple/cmd/internal/users"
	v1 "ripple/shared/contracts/realtime/v1"
)

// allowPairs authorizes "userID/conversationID" keys and mimics the chat
// service's error kinds for everything else.
type allowPairs struct {
	allowed map[string]struct{}
	known   map[string]struct{}
}

func (m allowPairs) Authorize(_ context.Context, userID, conversationID string) error {
	if _, ok := m.known[conversationID]; !ok {
		return chat.NotFoundError{Op: "chat.Authorize", Resource: "conversation"}
	}
	if _, ok := m.allowed[userID+"/"+conversationID]; !ok {
		return chat.OpError{Op: "chat.Authorize", Kind: chat.ErrForbidden, Msg: "not a participant"}
	}
	return nil
}

type gatewayHarness struct {
	srv *httptest.Server
	hub *Hub
}

func newGatewayHarness(t *testing.T, members Memberships) *gatewayHarness {
	t.Helper()

	hub := NewHub(nil)
	cfg := DefaultGatewayConfig()
	cfg.OriginRequired = false
	gw := NewWSGateway(nil, hub, members, cfg)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get("X-Test-User"); id != "" {
			r = r.WithContext(users.WithCaller(r.Context(), id))
		}
		gw.HandleWS(w, r)
	})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &gatewayHarness{srv: srv, hub: hub}
}

func (h *gatewayHarness) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(h.srv.URL, "http")
	header := http.Header{}
	if userID != "" {
		header.Set("X-Test-User", userID)
	}

	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   header,
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

func wsSend(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()

	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		raw = b
	}
	env := v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      "test-" + typ,
		TS:      time.Now().UTC(),
		Payload: raw,
	}
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

func wsRead(t *testing.T, conn *websocket.Conn) v1.Envelope {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return env
}

func wsReadType(t *testing.T, conn *websocket.Conn, typ string) v1.Envelope {
	t.Helper()

	env := wsRead(t, conn)
	if env.Type != typ {
		t.Fatalf("envelope type=%q want=%q payload=%s", env.Type, typ, env.Payload)
	}
	return env
}

func testMembers() allowPairs {
	return allowPairs{
		known: map[string]struct{}{
			"conv-1": {},
			"conv-2": {},
		},
		allowed: map[string]struct{}{
			"alice/conv-1": {},
			"alice/conv-2": {},
			"bob/conv-1":   {},
		},
	}
}

func TestWSGateway_RejectsMissingIdentity(t *testing.T) {
	t.Parallel()

	h := newGatewayHarness(t, testMembers())

	resp, err := http.Get(h.srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status=%d want=401", resp.StatusCode)
	}
}

func TestWSGateway_HelloAckCarriesSessionID(t *testing.T) {
	t.Parallel()

	h := newGatewayHarness(t, testMembers())
	conn := h.dial(t, "alice")

	wsSend(t, conn, v1.TypeHello, nil)
	ack := wsReadType(t, conn, v1.TypeHelloAck)

	var p v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		t.Fatalf("unmarshal ack payload: %v", err)
	}
	if p.SessionID == "" {
		t.Fatalf("hello.ack missing session id")
	}
}

func TestWSGateway_JoinThenDelivery(t *testing.T) {
	t.Parallel()

	h := newGatewayHarness(t, testMembers())
	conn := h.dial(t, "alice")

	wsSend(t, conn, v1.TypeHello, nil)
	wsReadType(t, conn, v1.TypeHelloAck)

	wsSend(t, conn, v1.TypeConversationJoin, v1.ConversationJoinPayload{ConversationID: "conv-1"})
	joined := wsReadType(t, conn, v1.TypeConversationJoined)

	var jp v1.ConversationJoinedPayload
	if err := json.Unmarshal(joined.Payload, &jp); err != nil {
		t.Fatalf("unmarshal joined payload: %v", err)
	}
	if jp.ConversationID != "conv-1" {
		t.Fatalf("joined conversation=%q", jp.ConversationID)
	}

	payload, _ := json.Marshal(v1.MessageNewPayload{
		ConversationID: "conv-1",
		MessageID:      "msg-1",
		Seq:            1,
		SenderID:       "bob",
		Body:           "hi",
		SentAt:         time.Now().UTC(),
	})
	env := v1.Envelope{V: v1.Version, Type: v1.TypeMessageNew, ID: "pub-1", TS: time.Now().UTC(), Payload: payload}

	// The subscription is applied before the joined echo is queued, so the
	// join is already visible to the hub here.
	if got := h.hub.Publish("conv-1", env); got != 1 {
		t.Fatalf("publish delivered %d want 1", got)
	}

	got := wsReadType(t, conn, v1.TypeMessageNew)
	var mp v1.MessageNewPayload
	if err := json.Unmarshal(got.Payload, &mp); err != nil {
		t.Fatalf("unmarshal message payload: %v", err)
	}
	if mp.MessageID != "msg-1" || mp.Seq != 1 || mp.SenderID != "bob" {
		t.Fatalf("unexpected delivery: %+v", mp)
	}
}

func TestWSGateway_JoinDenied(t *testing.T) {
	t.Parallel()

	h := newGatewayHarness(t, testMembers())
	conn := h.dial(t, "mallory")

	wsSend(t, conn, v1.TypeConversationJoin, v1.ConversationJoinPayload{ConversationID: "conv-1"})
	errEnv := wsReadType(t, conn, v1.TypeError)

	var p v1.ErrorPayload
	if err := json.Unmarshal(errEnv.Payload, &p); err != nil {
		t.Fatalf("unmarshal error payload: %v", err)
	}
	if p.Code != "forbidden" {
		t.Fatalf("error code=%q want=forbidden", p.Code)
	}
}

func TestWSGateway_JoinUnknownConversation(t *testing.T) {
	t.Parallel()

	h := newGatewayHarness(t, testMembers())
	conn := h.dial(t, "alice")

	wsSend(t, conn, v1.TypeConversationJoin, v1.ConversationJoinPayload{ConversationID: "conv-missing"})
	errEnv := wsReadType(t, conn, v1.TypeError)

	var p v1.ErrorPayload
	if err := json.Unmarshal(errEnv.Payload, &p); err != nil {
		t.Fatalf("unmarshal error payload: %v", err)
	}
	if p.Code != "not_found" {
		t.Fatalf("error code=%q want=not_found", p.Code)
	}
}

func TestWSGateway_LeaveStopsDelivery(t *testing.T) {
	t.Parallel()

	h := newGatewayHarness(t, testMembers())
	conn := h.dial(t, "alice")

	wsSend(t, conn, v1.TypeConversationJoin, v1.ConversationJoinPayload{ConversationID: "conv-1"})
	wsReadType(t, conn, v1.TypeConversationJoined)

	wsSend(t, conn, v1.TypeConversationLeave, v1.ConversationLeavePayload{ConversationID: "conv-1"})
	wsReadType(t, conn, v1.TypeConversationLeft)

	// The unsubscribe is applied before the left echo is queued, so by the
	// time the echo arrived the hub no longer routes to this session.
	env := v1.Envelope{V: v1.Version, Type: v1.TypeMessageNew, ID: "pub-after-leave", TS: time.Now().UTC()}
	if got := h.hub.Publish("conv-1", env); got != 0 {
		t.Fatalf("publish after leave delivered %d", got)
	}
}

func TestWSGateway_PeerCloseDetachesSubscriptions(t *testing.T) {
	t.Parallel()

	h := newGatewayHarness(t, testMembers())
	conn := h.dial(t, "alice")

	wsSend(t, conn, v1.TypeConversationJoin, v1.ConversationJoinPayload{ConversationID: "conv-1"})
	wsReadType(t, conn, v1.TypeConversationJoined)

	env := v1.Envelope{V: v1.Version, Type: v1.TypeMessageNew, ID: "pub-before-close", TS: time.Now().UTC()}
	if got := h.hub.Publish("conv-1", env); got != 1 {
		t.Fatalf("publish before close delivered %d want 1", got)
	}

	if err := conn.Close(websocket.StatusNormalClosure, "bye"); err != nil {
		t.Fatalf("close: %v", err)
	}

	// The server notices the peer close asynchronously, so poll until the
	// read loop's shutdown has detached the session from the hub.
	deadline := time.Now().Add(5 * time.Second)
	for {
		env.ID = "pub-after-close"
		if got := h.hub.Publish("conv-1", env); got == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session still subscribed after peer close")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Detach ran exactly once and stays effective.
	if got := h.hub.Publish("conv-1", env); got != 0 {
		t.Fatalf("detached session received a delivery: %d", got)
	}
}

func TestWSGateway_UnsupportedType(t *testing.T) {
	t.Parallel()

	h := newGatewayHarness(t, testMembers())
	conn := h.dial(t, "alice")

	// Server-to-client types are not accepted from clients.
	wsSend(t, conn, v1.TypeMessageNew, v1.MessageNewPayload{ConversationID: "conv-1"})
	errEnv := wsReadType(t, conn, v1.TypeError)

	var p v1.ErrorPayload
	if err := json.Unmarshal(errEnv.Payload, &p); err != nil {
		t.Fatalf("unmarshal error payload: %v", err)
	}
	if p.Code != "unsupported" {
		t.Fatalf("error code=%q want=unsupported", p.Code)
	}
}

func TestWSGateway_InvalidEnvelopeVersion(t *testing.T) {
	t.Parallel()

	h := newGatewayHarness(t, testMembers())
	conn := h.dial(t, "alice")

	env := v1.Envelope{V: "v99", Type: v1.TypeHello, ID: "bad-version", TS: time.Now().UTC()}
	b, _ := json.Marshal(env)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("write: %v", err)
	}

	errEnv := wsReadType(t, conn, v1.TypeError)
	var p v1.ErrorPayload
	if err := json.Unmarshal(errEnv.Payload, &p); err != nil {
		t.Fatalf("unmarshal error payload: %v", err)
	}
	if p.Code != "bad_envelope" {
		t.Fatalf("error code=%q want=bad_envelope", p.Code)
	}
}
