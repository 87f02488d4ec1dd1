package social

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ripple/cmd/internal/users"
)

type staticProfiles map[string]users.Profile

func (p staticProfiles) Profiles(_ context.Context, ids []string) (map[string]users.Profile, error) {
	out := make(map[string]users.Profile, len(ids))
	for _, id := range ids {
		if prof, ok := p[id]; ok {
			out[id] = prof
		}
	}
	return out, nil
}

func newFeedTestAPI(t *testing.T) http.Handler {
	t.Helper()

	profiles := staticProfiles{
		"alice": {ID: "alice", Username: "alice", DisplayName: "Alice"},
		"bob":   {ID: "bob", Username: "bob", DisplayName: "Bob"},
	}
	mux := http.NewServeMux()
	NewHandler(nil, NewInMemoryStore(), profiles).Register(mux)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get("X-Test-User"); id != "" {
			r = r.WithContext(users.WithCaller(r.Context(), id))
		}
		mux.ServeHTTP(w, r)
	})
}

func doFeedRequest(t *testing.T, h http.Handler, method, target, caller, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if caller != "" {
		req.Header.Set("X-Test-User", caller)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestFeedAPI_RequiresIdentity(t *testing.T) {
	t.Parallel()

	h := newFeedTestAPI(t)
	rec := doFeedRequest(t, h, http.MethodGet, "/api/posts", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d want=401", rec.Code)
	}
}

func TestFeedAPI_CreateAndList(t *testing.T) {
	t.Parallel()

	h := newFeedTestAPI(t)

	created := doFeedRequest(t, h, http.MethodPost, "/api/posts", "alice", `{"body":"hello feed"}`)
	if created.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", created.Code, created.Body.String())
	}
	var post postResponse
	if err := json.Unmarshal(created.Body.Bytes(), &post); err != nil {
		t.Fatalf("decode created: %v", err)
	}
	if post.ID == "" || post.Author.DisplayName != "Alice" || post.Body != "hello feed" {
		t.Fatalf("unexpected created post: %+v", post)
	}
	if post.LikerIDs == nil || post.Comments == nil {
		t.Fatalf("list fields must be empty arrays, not null: %+v", post)
	}

	list := doFeedRequest(t, h, http.MethodGet, "/api/posts", "bob", "")
	if list.Code != http.StatusOK {
		t.Fatalf("list status=%d", list.Code)
	}
	var posts []postResponse
	if err := json.Unmarshal(list.Body.Bytes(), &posts); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(posts) != 1 || posts[0].ID != post.ID {
		t.Fatalf("feed mismatch: %+v", posts)
	}
}

func TestFeedAPI_CreateRejections(t *testing.T) {
	t.Parallel()

	h := newFeedTestAPI(t)

	cases := []struct {
		name string
		body string
	}{
		{"empty body", `{"body":"   "}`},
		{"malformed json", `{"body":`},
		{"unknown field", `{"body":"hi","extra":true}`},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			rec := doFeedRequest(t, h, http.MethodPost, "/api/posts", "alice", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status=%d want=400 body=%s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestFeedAPI_LikeToggle(t *testing.T) {
	t.Parallel()

	h := newFeedTestAPI(t)
	created := doFeedRequest(t, h, http.MethodPost, "/api/posts", "alice", `{"body":"like me"}`)
	var post postResponse
	if err := json.Unmarshal(created.Body.Bytes(), &post); err != nil {
		t.Fatalf("decode created: %v", err)
	}

	first := doFeedRequest(t, h, http.MethodPost, "/api/posts/"+post.ID+"/like", "bob", "")
	if first.Code != http.StatusOK {
		t.Fatalf("like status=%d", first.Code)
	}
	var resp likeResponse
	if err := json.Unmarshal(first.Body.Bytes(), &resp); err != nil || !resp.Liked {
		t.Fatalf("first like: %+v err=%v", resp, err)
	}

	second := doFeedRequest(t, h, http.MethodPost, "/api/posts/"+post.ID+"/like", "bob", "")
	if err := json.Unmarshal(second.Body.Bytes(), &resp); err != nil || resp.Liked {
		t.Fatalf("second like must remove: %+v err=%v", resp, err)
	}

	missing := doFeedRequest(t, h, http.MethodPost, "/api/posts/missing/like", "bob", "")
	if missing.Code != http.StatusNotFound {
		t.Fatalf("unknown post like status=%d want=404", missing.Code)
	}
}

func TestFeedAPI_Comments(t *testing.T) {
	t.Parallel()

	h := newFeedTestAPI(t)
	created := doFeedRequest(t, h, http.MethodPost, "/api/posts", "alice", `{"body":"discuss"}`)
	var post postResponse
	if err := json.Unmarshal(created.Body.Bytes(), &post); err != nil {
		t.Fatalf("decode created: %v", err)
	}

	rec := doFeedRequest(t, h, http.MethodPost, "/api/posts/"+post.ID+"/comments", "bob", `{"body":"great"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("comment status=%d body=%s", rec.Code, rec.Body.String())
	}
	var c commentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &c); err != nil {
		t.Fatalf("decode comment: %v", err)
	}
	if c.PostID != post.ID || c.Body != "great" {
		t.Fatalf("unexpected comment: %+v", c)
	}

	// Comment authors resolve in the detail view.
	detail := doFeedRequest(t, h, http.MethodGet, "/api/posts/"+post.ID, "alice", "")
	var got postResponse
	if err := json.Unmarshal(detail.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if len(got.Comments) != 1 || got.Comments[0].Author.DisplayName != "Bob" {
		t.Fatalf("comment author not resolved: %+v", got.Comments)
	}
}
