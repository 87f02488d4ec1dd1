package chat

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"ripple/cmd/internal/users"
)

const defaultMaxBodyBytes = 16 << 10 // 16 KiB

// Handler serves the chat REST endpoints. Message sending is REST-only;
// the websocket carries join/leave and server-initiated delivery.
type Handler struct {
	log          *slog.Logger
	svc          *Service
	maxBodyBytes int64
}

// NewHandler constructs a chat API handler.
func NewHandler(log *slog.Logger, svc *Service) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		log:          log,
		svc:          svc,
		maxBodyBytes: defaultMaxBodyBytes,
	}
}

// Register wires chat routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("GET /api/chats", h.handleList)
	mux.HandleFunc("POST /api/chats/{userID}", h.handleCreateOrGet)
	mux.HandleFunc("GET /api/chats/{id}", h.handleGet)
	mux.HandleFunc("POST /api/chats/{id}/messages", h.handleSend)
}

// ---- handlers ----

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	caller := users.CallerFromContext(r.Context())
	if caller == "" {
		writeChatError(w, http.StatusUnauthorized, "unauthenticated", "missing caller identity")
		return
	}

	views, err := h.svc.List(r.Context(), caller)
	if err != nil {
		h.writeMapped(w, err)
		return
	}

	out := make([]conversationResponse, 0, len(views))
	for _, v := range views {
		out = append(out, toConversationResponse(v))
	}
	writeChatJSON(w, http.StatusOK, out)
}

func (h *Handler) handleCreateOrGet(w http.ResponseWriter, r *http.Request) {
	caller := users.CallerFromContext(r.Context())
	if caller == "" {
		writeChatError(w, http.StatusUnauthorized, "unauthenticated", "missing caller identity")
		return
	}

	conv, err := h.svc.CreateOrGet(r.Context(), caller, r.PathValue("userID"))
	if err != nil {
		h.writeMapped(w, err)
		return
	}

	views, err := h.svc.List(r.Context(), caller)
	if err != nil {
		h.writeMapped(w, err)
		return
	}
	for _, v := range views {
		if v.ID == conv.ID {
			writeChatJSON(w, http.StatusOK, toConversationResponse(v))
			return
		}
	}
	// Unreachable unless the conversation vanished mid-request.
	writeChatJSON(w, http.StatusOK, conversationResponse{
		ID:        conv.ID,
		CreatedAt: conv.CreatedAt,
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	caller := users.CallerFromContext(r.Context())
	if caller == "" {
		writeChatError(w, http.StatusUnauthorized, "unauthenticated", "missing caller identity")
		return
	}

	view, msgs, err := h.svc.Get(r.Context(), caller, r.PathValue("id"))
	if err != nil {
		h.writeMapped(w, err)
		return
	}

	out := conversationDetailResponse{Conversation: toConversationResponse(view)}
	out.Messages = make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out.Messages = append(out.Messages, toMessageResponse(m))
	}
	writeChatJSON(w, http.StatusOK, out)
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	caller := users.CallerFromContext(r.Context())
	if caller == "" {
		writeChatError(w, http.StatusUnauthorized, "unauthenticated", "missing caller identity")
		return
	}

	var req sendMessageRequest
	if err := decodeChatJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeChatError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	msg, err := h.svc.Send(r.Context(), caller, r.PathValue("id"), req.Message)
	if err != nil {
		h.writeMapped(w, err)
		return
	}
	writeChatJSON(w, http.StatusCreated, toMessageResponse(msg))
}

func (h *Handler) writeMapped(w http.ResponseWriter, err error) {
	switch {
	case IsValidation(err):
		writeChatError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case IsNotFound(err):
		writeChatError(w, http.StatusNotFound, "not_found", "resource not found")
	case IsForbidden(err):
		writeChatError(w, http.StatusForbidden, "forbidden", "not allowed")
	case IsPersistence(err):
		h.log.Error("chat.api.persistence.fail", "err", err)
		writeChatError(w, http.StatusServiceUnavailable, "store_unavailable", "temporary failure, retry")
	default:
		h.log.Error("chat.api.fail", "err", err)
		writeChatError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// ---- request/response shapes ----

type sendMessageRequest struct {
	Message string `json:"message"`
}

type conversationResponse struct {
	ID           string    `json:"id"`
	Participants []Profile `json:"participants"`
	CreatedAt    time.Time `json:"created_at"`
}

type conversationDetailResponse struct {
	Conversation conversationResponse `json:"conversation"`
	Messages     []messageResponse    `json:"messages"`
}

type messageResponse struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Seq            int64     `json:"seq"`
	SenderID       string    `json:"sender_id"`
	Body           string    `json:"body"`
	SentAt         time.Time `json:"sent_at"`
}

func toConversationResponse(v ConversationView) conversationResponse {
	return conversationResponse{
		ID:           v.ID,
		Participants: v.Participants,
		CreatedAt:    v.CreatedAt,
	}
}

func toMessageResponse(m Message) messageResponse {
	return messageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Seq:            m.Seq,
		SenderID:       m.SenderID,
		Body:           m.Body,
		SentAt:         m.SentAt,
	}
}

// ---- JSON helpers ----

type chatAPIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type chatErrorResponse struct {
	Error chatAPIError `json:"error"`
}

func writeChatJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeChatError(w http.ResponseWriter, status int, code, msg string) {
	writeChatJSON(w, status, chatErrorResponse{Error: chatAPIError{Code: code, Message: msg}})
}

func decodeChatJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer func() { _ = r.Body.Close() }()

	body := http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("extra data after JSON object")
	}
	return nil
}
