// Package main provides a CI-friendly smoke test for Ripple realtime.
//
// It validates:
//   - handshake + subprotocol selection with a trusted identity header
//   - hello/ack session establishment
//   - conversation create via REST
//   - join echo for both participants
//   - REST send -> message.new fanout to sender and recipient
//   - leave: a departed subscriber receives no further frames
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	v1 "ripple/shared/contracts/realtime/v1"
)

const (
	identityHeader = "X-Ripple-User"
	maxReadBytes   = 1 << 20 // 1MiB
)

type smokeClient struct {
	name      string
	userID    string
	conn      *websocket.Conn
	sessionID string

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		baseURL = flag.String("base", "http://127.0.0.1:8080", "HTTP base URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like handshake)")
		userA   = flag.String("a", "alice", "First participant user id")
		userB   = flag.String("b", "bob", "Second participant user id")
		text    = flag.String("text", "hello ripple", "Message body to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -base: %v", err)
	}

	root := context.Background()
	wsURL := wsEndpoint(*baseURL)

	convID := mustCreateConversation(root, *baseURL, *userA, *userB, *timeout)
	if *verbose {
		fmt.Printf("conversation: %s\n", convID)
	}

	a := mustConnect(root, "A", *userA, wsURL, *origin, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", *userB, wsURL, *origin, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s origin=%q\n", a.sessionID, b.sessionID, *origin)
	}

	mustJoin(root, a, convID, *timeout)
	mustJoin(root, b, convID, *timeout)

	msgID, seq := mustSendREST(root, *baseURL, *userA, convID, *text, *timeout)

	mustAssertNew(root, a, convID, msgID, seq, *userA, *text, *timeout)
	mustAssertNew(root, b, convID, msgID, seq, *userA, *text, *timeout)

	mustLeave(root, b, convID, *timeout)

	msgID2, seq2 := mustSendREST(root, *baseURL, *userA, convID, *text+" again", *timeout)
	if seq2 != seq+1 {
		fatalf("seq not monotonic: first=%d second=%d", seq, seq2)
	}

	mustAssertNew(root, a, convID, msgID2, seq2, *userA, *text+" again", *timeout)
	mustAssertNoType(root, b, v1.TypeMessageNew, 1200*time.Millisecond)

	fmt.Printf("OK: A=%s B=%s conv_id=%s last_seq=%d\n", a.sessionID, b.sessionID, convID, seq2)
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func wsEndpoint(base string) string {
	ws := strings.Replace(base, "http", "ws", 1)
	return strings.TrimRight(ws, "/") + "/ws"
}

// ---- REST steps ----

func mustCreateConversation(parent context.Context, base, caller, other string, stepTimeout time.Duration) string {
	var out struct {
		ID string `json:"id"`
	}
	mustRESTJSON(parent, http.MethodPost, base+"/api/chats/"+other, caller, nil, &out, stepTimeout)
	if strings.TrimSpace(out.ID) == "" {
		fatalf("create conversation: missing id in response")
	}
	return out.ID
}

func mustSendREST(parent context.Context, base, caller, convID, text string, stepTimeout time.Duration) (msgID string, seq int64) {
	body := map[string]string{"message": text}
	var out struct {
		ID  string `json:"id"`
		Seq int64  `json:"seq"`
	}
	mustRESTJSON(parent, http.MethodPost, base+"/api/chats/"+convID+"/messages", caller, body, &out, stepTimeout)
	if strings.TrimSpace(out.ID) == "" {
		fatalf("send: missing message id in response")
	}
	return out.ID, out.Seq
}

func mustRESTJSON(parent context.Context, method, rawURL, caller string, body, out any, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			fatalf("marshal request: %v", err)
		}
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, rd)
	if err != nil {
		fatalf("build request: %v", err)
	}
	req.Header.Set(identityHeader, caller)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		fatalf("%s %s: status=%d body=%s", method, rawURL, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			fatalf("%s %s: decode response: %v", method, rawURL, err)
		}
	}
}

// ---- websocket steps ----

func mustConnect(parent context.Context, name, userID, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	h.Set(identityHeader, userID)
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:   name,
		userID: userID,
		conn:   conn,
		inbox:  make(chan v1.Envelope, 512),
		errCh:  make(chan error, 1),
	}
	c.startReadLoop()

	hello := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeHello,
		ID:      fmt.Sprintf("%s-hello", name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.HelloPayload{}),
	}
	mustWriteWithTimeout(parent, c.conn, hello, stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeHelloAck, stepTimeout)

	var p v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal hello.ack payload (%s): %v", name, err)
	}
	if strings.TrimSpace(p.SessionID) == "" {
		fatalf("hello.ack missing session_id (%s)", name)
	}
	c.sessionID = p.SessionID

	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustJoin(parent context.Context, c *smokeClient, convID string, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeConversationJoin,
		ID:      fmt.Sprintf("%s-join", c.name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.ConversationJoinPayload{ConversationID: convID}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	echo := c.mustReadUntilType(parent, v1.TypeConversationJoined, stepTimeout)

	var p v1.ConversationJoinedPayload
	if err := json.Unmarshal(echo.Payload, &p); err != nil {
		fatalf("unmarshal join echo payload (%s): %v", c.name, err)
	}
	if p.ConversationID != convID {
		fatalf("join echo conv_id mismatch (%s): got=%q want=%q", c.name, p.ConversationID, convID)
	}
}

func mustLeave(parent context.Context, c *smokeClient, convID string, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeConversationLeave,
		ID:      fmt.Sprintf("%s-leave", c.name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.ConversationLeavePayload{ConversationID: convID}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	echo := c.mustReadUntilType(parent, v1.TypeConversationLeft, stepTimeout)

	var p v1.ConversationLeftPayload
	if err := json.Unmarshal(echo.Payload, &p); err != nil {
		fatalf("unmarshal leave echo payload (%s): %v", c.name, err)
	}
	if p.ConversationID != convID {
		fatalf("leave echo conv_id mismatch (%s): got=%q want=%q", c.name, p.ConversationID, convID)
	}
}

func mustAssertNew(parent context.Context, c *smokeClient, convID, msgID string, seq int64, senderID, text string, stepTimeout time.Duration) {
	env := c.mustReadUntilType(parent, v1.TypeMessageNew, stepTimeout)

	var p v1.MessageNewPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal message.new payload (%s): %v", c.name, err)
	}
	if p.ConversationID != convID {
		fatalf("message.new conv_id mismatch (%s): got=%q want=%q", c.name, p.ConversationID, convID)
	}
	if p.MessageID != msgID {
		fatalf("message.new message_id mismatch (%s): got=%q want=%q", c.name, p.MessageID, msgID)
	}
	if p.Seq != seq {
		fatalf("message.new seq mismatch (%s): got=%d want=%d", c.name, p.Seq, seq)
	}
	if p.SenderID != senderID {
		fatalf("message.new sender mismatch (%s): got=%q want=%q", c.name, p.SenderID, senderID)
	}
	if p.Body != text {
		fatalf("message.new body mismatch (%s): got=%q want=%q", c.name, p.Body, text)
	}
}

func mustAssertNoType(parent context.Context, c *smokeClient, typ string, window time.Duration) {
	ctx, cancel := context.WithTimeout(parent, window)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.errCh:
			fatalf("read loop failed (%s): %v", c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("inbox closed (%s)", c.name)
			}
			if env.Type == typ {
				fatalf("unexpected %s frame (%s)", typ, c.name)
			}
		}
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, typ string, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %s (%s)", typ, c.name)
		case err := <-c.errCh:
			fatalf("read loop failed (%s): %v", c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("inbox closed (%s)", c.name)
			}
			if env.Type == v1.TypeError {
				var p v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &p)
				fatalf("server error (%s): code=%s msg=%s", c.name, p.Code, p.Message)
			}
			if env.Type == typ {
				return env
			}
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	raw, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal %s: %v", env.Type, err)
	}
	if err := conn.Write(ctx, websocket.MessageText, raw); err != nil {
		fatalf("write %s: %v", env.Type, err)
	}
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		fatalf("marshal payload: %v", err)
	}
	return raw
}

func closeWS(conn *websocket.Conn) {
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "SMOKE FAIL: "+format+"\n", args...)
	os.Exit(1)
}
