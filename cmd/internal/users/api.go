package users

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// FollowNotifier is the decoupled side effect fired after a follow toggle
// is durably stored. Failures are logged, never surfaced.
type FollowNotifier interface {
	FollowToggled(ctx context.Context, actorID, targetID string, followed bool) error
}

// Handler serves the user REST endpoints.
type Handler struct {
	log    *slog.Logger
	dir    *Directory
	notify FollowNotifier // nil-safe
}

// NewHandler constructs a user API handler. notify may be nil.
func NewHandler(log *slog.Logger, dir *Directory, notify FollowNotifier) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{log: log, dir: dir, notify: notify}
}

// Register wires user routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("GET /api/users/{id}", h.handleGet)
	mux.HandleFunc("POST /api/users/{id}/follow", h.handleFollow)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	if CallerFromContext(r.Context()) == "" {
		writeUserError(w, http.StatusUnauthorized, "unauthenticated", "missing caller identity")
		return
	}

	u, err := h.dir.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeMapped(w, err)
		return
	}
	writeUserJSON(w, http.StatusOK, u)
}

func (h *Handler) handleFollow(w http.ResponseWriter, r *http.Request) {
	caller := CallerFromContext(r.Context())
	if caller == "" {
		writeUserError(w, http.StatusUnauthorized, "unauthenticated", "missing caller identity")
		return
	}

	targetID := r.PathValue("id")
	followed, err := h.dir.ToggleFollow(r.Context(), caller, targetID)
	if err != nil {
		h.writeMapped(w, err)
		return
	}

	if h.notify != nil {
		if err := h.notify.FollowToggled(r.Context(), caller, targetID, followed); err != nil {
			h.log.Warn("users.notify.fail", "actor_id", caller, "target_id", targetID, "err", err)
		}
	}

	writeUserJSON(w, http.StatusOK, followResponse{Followed: followed})
}

type followResponse struct {
	Followed bool `json:"followed"`
}

func (h *Handler) writeMapped(w http.ResponseWriter, err error) {
	switch {
	case IsNotFound(err):
		writeUserError(w, http.StatusNotFound, "not_found", "user not found")
	case errors.Is(err, ErrValidation):
		writeUserError(w, http.StatusBadRequest, "invalid_input", err.Error())
	default:
		h.log.Error("users.api.fail", "err", err)
		writeUserError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

type userAPIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type userErrorResponse struct {
	Error userAPIError `json:"error"`
}

func writeUserJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeUserError(w http.ResponseWriter, status int, code, msg string) {
	writeUserJSON(w, status, userErrorResponse{Error: userAPIError{Code: code, Message: msg}})
}
