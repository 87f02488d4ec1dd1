package users

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

const (
	profileCachePrefix = "user:profile:"
	profileCacheTTL    = 5 * time.Minute
)

// Directory answers profile lookups for the rest of the application,
// fronting the Store with an optional cache for display data.
//
// Cache behavior is strictly best-effort: a cache failure degrades to a
// store read and is logged at debug level only.
type Directory struct {
	log   *slog.Logger
	store Store
	cache Cache // nil when caching is disabled
}

// NewDirectory constructs a Directory. cache may be nil.
func NewDirectory(log *slog.Logger, store Store, cache Cache) *Directory {
	if log == nil {
		log = slog.Default()
	}
	return &Directory{log: log, store: store, cache: cache}
}

// Exists reports whether id resolves to a known user.
func (d *Directory) Exists(ctx context.Context, id string) (bool, error) {
	_, err := d.ProfileByID(ctx, id)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ProfileByID resolves one profile, consulting the cache first.
func (d *Directory) ProfileByID(ctx context.Context, id string) (Profile, error) {
	if p, ok := d.cached(ctx, id); ok {
		return p, nil
	}

	p, err := d.store.Profile(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	d.fill(ctx, p)
	return p, nil
}

// Profiles resolves display data in bulk. Unknown ids are absent from the
// result, mirroring the Store contract.
func (d *Directory) Profiles(ctx context.Context, ids []string) (map[string]Profile, error) {
	out := make(map[string]Profile, len(ids))
	var misses []string
	for _, id := range ids {
		if p, ok := d.cached(ctx, id); ok {
			out[id] = p
			continue
		}
		misses = append(misses, id)
	}
	if len(misses) == 0 {
		return out, nil
	}

	fetched, err := d.store.Profiles(ctx, misses)
	if err != nil {
		return nil, err
	}
	for id, p := range fetched {
		out[id] = p
		d.fill(ctx, p)
	}
	return out, nil
}

// Get returns a profile with its follow edges. Edges are never cached:
// follower lists change too often to be worth the invalidation traffic.
func (d *Directory) Get(ctx context.Context, id string) (User, error) {
	return d.store.Get(ctx, id)
}

// ToggleFollow flips the follow edge and invalidates the target's cached
// profile entry.
func (d *Directory) ToggleFollow(ctx context.Context, followerID, targetID string) (bool, error) {
	followed, err := d.store.ToggleFollow(ctx, followerID, targetID, time.Now().UTC())
	if err != nil {
		return false, err
	}
	if d.cache != nil {
		if err := d.cache.Del(ctx, profileCachePrefix+targetID); err != nil {
			d.log.Debug("users.cache.del.fail", "user_id", targetID, "err", err)
		}
	}
	return followed, nil
}

func (d *Directory) cached(ctx context.Context, id string) (Profile, bool) {
	if d.cache == nil {
		return Profile{}, false
	}
	raw, err := d.cache.Get(ctx, profileCachePrefix+id)
	if err != nil {
		if err != ErrCacheMiss {
			d.log.Debug("users.cache.get.fail", "user_id", id, "err", err)
		}
		return Profile{}, false
	}
	var p Profile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Profile{}, false
	}
	return p, true
}

func (d *Directory) fill(ctx context.Context, p Profile) {
	if d.cache == nil {
		return
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := d.cache.Set(ctx, profileCachePrefix+p.ID, string(raw), profileCacheTTL); err != nil {
		d.log.Debug("users.cache.set.fail", "user_id", p.ID, "err", err)
	}
}
