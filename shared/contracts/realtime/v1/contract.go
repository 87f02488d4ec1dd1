// Package v1 defines the Ripple realtime protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is the websocket subprotocol clients must negotiate.
const Subprotocol = "ripple.realtime.v1"

// Type constants (wire-stable). The set is closed: every consumer handles
// the full enumeration with an exhaustive switch.
const (
	// TypeHello starts a session handshake (client -> server).
	TypeHello = "hello"
	// TypeHelloAck acknowledges the session handshake (server -> client).
	TypeHelloAck = "hello.ack"

	// TypeConversationJoin subscribes the session to a conversation (client -> server).
	TypeConversationJoin = "conversation.join"
	// TypeConversationJoined confirms a join (server -> client).
	TypeConversationJoined = "conversation.joined"

	// TypeConversationLeave unsubscribes the session (client -> server).
	TypeConversationLeave = "conversation.leave"
	// TypeConversationLeft confirms a leave (server -> client).
	TypeConversationLeft = "conversation.left"

	// TypeMessageNew broadcasts a newly stored message to all current
	// subscribers of its conversation, the sender included.
	TypeMessageNew = "message.new"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello,
		TypeHelloAck,
		TypeConversationJoin,
		TypeConversationJoined,
		TypeConversationLeave,
		TypeConversationLeft,
		TypeMessageNew,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// HelloPayload is sent by the client to initiate a session.
type HelloPayload struct{}

// HelloAckPayload carries the server-assigned session id.
type HelloAckPayload struct {
	SessionID string `json:"session_id"`
}

// ConversationJoinPayload requests a subscription to a conversation.
type ConversationJoinPayload struct {
	ConversationID string `json:"conversation_id"`
}

// ConversationJoinedPayload confirms a subscription.
type ConversationJoinedPayload struct {
	ConversationID string `json:"conversation_id"`
}

// ConversationLeavePayload requests dropping a subscription.
type ConversationLeavePayload struct {
	ConversationID string `json:"conversation_id"`
}

// ConversationLeftPayload confirms a dropped subscription.
type ConversationLeftPayload struct {
	ConversationID string `json:"conversation_id"`
}

// MessageNewPayload carries a stored message to subscribers.
type MessageNewPayload struct {
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	Seq            int64     `json:"seq"`
	SenderID       string    `json:"sender_id"`
	Body           string    `json:"body"`
	SentAt         time.Time `json:"sent_at"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
