package users

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// InMemoryStore is the dev/test fallback user store.
type InMemoryStore struct {
	mu       sync.Mutex
	profiles map[string]Profile
	follows  map[string]map[string]struct{} // follower -> set of followees
}

// NewInMemoryStore constructs an empty in-memory user store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		profiles: make(map[string]Profile),
		follows:  make(map[string]map[string]struct{}),
	}
}

// Seed registers profiles, replacing any existing entries with the same id.
func (s *InMemoryStore) Seed(profiles ...Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range profiles {
		if p.CreatedAt.IsZero() {
			p.CreatedAt = time.Now().UTC()
		}
		s.profiles[p.ID] = p
	}
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) Profile(ctx context.Context, id string) (Profile, error) {
	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return Profile{}, NotFoundError{Op: "users.Profile", ID: id}
	}
	return p, nil
}

func (s *InMemoryStore) Profiles(ctx context.Context, ids []string) (map[string]Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Profile, len(ids))
	for _, id := range ids {
		if p, ok := s.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (s *InMemoryStore) Get(ctx context.Context, id string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[id]
	if !ok {
		return User{}, NotFoundError{Op: "users.Get", ID: id}
	}

	u := User{Profile: p}
	for follower, targets := range s.follows {
		if _, ok := targets[id]; ok {
			u.FollowerIDs = append(u.FollowerIDs, follower)
		}
	}
	for target := range s.follows[id] {
		u.FollowingIDs = append(u.FollowingIDs, target)
	}
	return u, nil
}

func (s *InMemoryStore) ToggleFollow(ctx context.Context, followerID, targetID string, _ time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if followerID == targetID {
		return false, fmt.Errorf("users.ToggleFollow: %w: cannot follow self", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[targetID]; !ok {
		return false, NotFoundError{Op: "users.ToggleFollow", ID: targetID}
	}

	targets := s.follows[followerID]
	if targets == nil {
		targets = make(map[string]struct{})
		s.follows[followerID] = targets
	}
	if _, ok := targets[targetID]; ok {
		delete(targets, targetID)
		return false, nil
	}
	targets[targetID] = struct{}{}
	return true, nil
}
