// Package users implements the user-directory collaborator: profile
// resolution for display purposes, the follow graph, and the trusted-caller
// identity boundary consumed by every API handler.
package users

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Profile is the public display projection of a user.
type Profile struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// User is a profile plus its follow graph edges.
type User struct {
	Profile
	FollowerIDs  []string `json:"follower_ids"`
	FollowingIDs []string `json:"following_ids"`
}

// Sentinel error kinds.
var (
	ErrNotFound   = errors.New("not_found")
	ErrValidation = errors.New("validation")
)

// NotFoundError reports a missing user.
type NotFoundError struct {
	Op string
	ID string
}

func (e NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: %v", e.Op, ErrNotFound)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, ErrNotFound, e.ID)
}

func (e NotFoundError) Unwrap() error { return ErrNotFound }

// IsNotFound reports whether err represents ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// Store is the user persistence boundary.
type Store interface {
	// Profile returns one profile or ErrNotFound.
	Profile(ctx context.Context, id string) (Profile, error)
	// Profiles resolves display data in bulk; unknown ids are absent.
	Profiles(ctx context.Context, ids []string) (map[string]Profile, error)
	// Get returns the profile with follower/following edges.
	Get(ctx context.Context, id string) (User, error)
	// ToggleFollow follows target when no edge exists, unfollows otherwise.
	// Returns the resulting state (true = now following).
	ToggleFollow(ctx context.Context, followerID, targetID string, now time.Time) (bool, error)
	Close() error
}

type callerKey struct{}

// WithCaller attaches the authenticated caller identity to the context.
// The identity itself comes from the auth collaborator at the HTTP edge;
// nothing below that layer re-validates credentials.
func WithCaller(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, callerKey{}, userID)
}

// CallerFromContext returns the authenticated caller id, or "".
func CallerFromContext(ctx context.Context) string {
	id, _ := ctx.Value(callerKey{}).(string)
	return id
}
