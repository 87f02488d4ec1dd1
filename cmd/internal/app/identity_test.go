package app

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"ripple/cmd/internal/users"
)

func TestWithIdentity(t *testing.T) {
	t.Parallel()

	var got string
	h := WithIdentity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = users.CallerFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name   string
		header string
		want   string
	}{
		{"present", "alice", "alice"},
		{"trimmed", "  bob  ", "bob"},
		{"absent", "", ""},
		{"blank", "   ", ""},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got = ""
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set(IdentityHeader, tc.header)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			if got != tc.want {
				t.Fatalf("caller=%q want=%q", got, tc.want)
			}
		})
	}
}
