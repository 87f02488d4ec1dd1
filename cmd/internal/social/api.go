package social

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"ripple/cmd/internal/users"
)

const maxBodyBytes = 64 << 10 // 64 KiB, room for long posts

// ProfileResolver resolves author ids to display data for feed responses.
// Implemented by the user directory.
type ProfileResolver interface {
	Profiles(ctx context.Context, ids []string) (map[string]users.Profile, error)
}

// Handler serves the feed REST endpoints.
type Handler struct {
	log      *slog.Logger
	store    Store
	profiles ProfileResolver
}

// NewHandler constructs a feed API handler.
func NewHandler(log *slog.Logger, store Store, profiles ProfileResolver) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{log: log, store: store, profiles: profiles}
}

// Register wires feed routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("GET /api/posts", h.handleList)
	mux.HandleFunc("POST /api/posts", h.handleCreate)
	mux.HandleFunc("GET /api/posts/{id}", h.handleGet)
	mux.HandleFunc("POST /api/posts/{id}/like", h.handleLike)
	mux.HandleFunc("POST /api/posts/{id}/comments", h.handleComment)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	if users.CallerFromContext(r.Context()) == "" {
		writeFeedError(w, http.StatusUnauthorized, "unauthenticated", "missing caller identity")
		return
	}

	posts, err := h.store.ListPosts(r.Context())
	if err != nil {
		h.writeMapped(w, err)
		return
	}
	writeFeedJSON(w, http.StatusOK, h.toPostResponses(r.Context(), posts))
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	caller := users.CallerFromContext(r.Context())
	if caller == "" {
		writeFeedError(w, http.StatusUnauthorized, "unauthenticated", "missing caller identity")
		return
	}

	var req createPostRequest
	if err := decodeFeedJSON(w, r, &req); err != nil {
		writeFeedError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	post, err := h.store.CreatePost(r.Context(), CreatePostInput{
		AuthorID: caller,
		Body:     req.Body,
		ImageURL: req.ImageURL,
		Now:      time.Now().UTC(),
	})
	if err != nil {
		h.writeMapped(w, err)
		return
	}
	writeFeedJSON(w, http.StatusCreated, h.toPostResponses(r.Context(), []Post{post})[0])
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	if users.CallerFromContext(r.Context()) == "" {
		writeFeedError(w, http.StatusUnauthorized, "unauthenticated", "missing caller identity")
		return
	}

	post, err := h.store.GetPost(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeMapped(w, err)
		return
	}
	writeFeedJSON(w, http.StatusOK, h.toPostResponses(r.Context(), []Post{post})[0])
}

func (h *Handler) handleLike(w http.ResponseWriter, r *http.Request) {
	caller := users.CallerFromContext(r.Context())
	if caller == "" {
		writeFeedError(w, http.StatusUnauthorized, "unauthenticated", "missing caller identity")
		return
	}

	liked, err := h.store.ToggleLike(r.Context(), r.PathValue("id"), caller)
	if err != nil {
		h.writeMapped(w, err)
		return
	}
	writeFeedJSON(w, http.StatusOK, likeResponse{Liked: liked})
}

func (h *Handler) handleComment(w http.ResponseWriter, r *http.Request) {
	caller := users.CallerFromContext(r.Context())
	if caller == "" {
		writeFeedError(w, http.StatusUnauthorized, "unauthenticated", "missing caller identity")
		return
	}

	var req addCommentRequest
	if err := decodeFeedJSON(w, r, &req); err != nil {
		writeFeedError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	c, err := h.store.AddComment(r.Context(), AddCommentInput{
		PostID:   r.PathValue("id"),
		AuthorID: caller,
		Body:     req.Body,
		Now:      time.Now().UTC(),
	})
	if err != nil {
		h.writeMapped(w, err)
		return
	}
	writeFeedJSON(w, http.StatusCreated, toCommentResponse(c))
}

func (h *Handler) writeMapped(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		writeFeedError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case IsNotFound(err):
		writeFeedError(w, http.StatusNotFound, "not_found", "post not found")
	default:
		h.log.Error("social.api.fail", "err", err)
		writeFeedError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// ---- request/response shapes ----

type createPostRequest struct {
	Body     string `json:"body"`
	ImageURL string `json:"image_url"`
}

type addCommentRequest struct {
	Body string `json:"body"`
}

type likeResponse struct {
	Liked bool `json:"liked"`
}

type postResponse struct {
	ID        string            `json:"id"`
	Author    users.Profile     `json:"author"`
	Body      string            `json:"body"`
	ImageURL  string            `json:"image_url,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	LikerIDs  []string          `json:"liker_ids"`
	Comments  []commentResponse `json:"comments"`
}

type commentResponse struct {
	ID        string        `json:"id"`
	PostID    string        `json:"post_id"`
	Author    users.Profile `json:"author"`
	Body      string        `json:"body"`
	CreatedAt time.Time     `json:"created_at"`
}

// toPostResponses resolves every author id appearing in posts or comments
// in one bulk lookup. Unknown authors render with a bare id.
func (h *Handler) toPostResponses(ctx context.Context, posts []Post) []postResponse {
	idSet := make(map[string]struct{})
	for _, p := range posts {
		idSet[p.AuthorID] = struct{}{}
		for _, c := range p.Comments {
			idSet[c.AuthorID] = struct{}{}
		}
	}
	ids := make([]string, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}

	profiles := map[string]users.Profile{}
	if h.profiles != nil {
		got, err := h.profiles.Profiles(ctx, ids)
		if err != nil {
			h.log.Warn("social.profiles.fail", "err", err)
		} else {
			profiles = got
		}
	}

	resolve := func(id string) users.Profile {
		if p, ok := profiles[id]; ok {
			return p
		}
		return users.Profile{ID: id}
	}

	out := make([]postResponse, 0, len(posts))
	for _, p := range posts {
		pr := postResponse{
			ID:        p.ID,
			Author:    resolve(p.AuthorID),
			Body:      p.Body,
			ImageURL:  p.ImageURL,
			CreatedAt: p.CreatedAt,
			LikerIDs:  p.LikerIDs,
			Comments:  make([]commentResponse, 0, len(p.Comments)),
		}
		if pr.LikerIDs == nil {
			pr.LikerIDs = []string{}
		}
		for _, c := range p.Comments {
			cr := toCommentResponse(c)
			cr.Author = resolve(c.AuthorID)
			pr.Comments = append(pr.Comments, cr)
		}
		out = append(out, pr)
	}
	return out
}

func toCommentResponse(c Comment) commentResponse {
	return commentResponse{
		ID:        c.ID,
		PostID:    c.PostID,
		Author:    users.Profile{ID: c.AuthorID},
		Body:      c.Body,
		CreatedAt: c.CreatedAt,
	}
}

// ---- JSON helpers ----

type feedAPIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type feedErrorResponse struct {
	Error feedAPIError `json:"error"`
}

func writeFeedJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeFeedError(w http.ResponseWriter, status int, code, msg string) {
	writeFeedJSON(w, status, feedErrorResponse{Error: feedAPIError{Code: code, Message: msg}})
}

func decodeFeedJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer func() { _ = r.Body.Close() }()

	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
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
