package users

import (
	"context"
	"errors"
	"time"
)

// Cache is the minimal key-value contract used for display-data lookups.
// Implementations must be concurrency-safe; misses are ErrCacheMiss, not
// transport errors.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Close() error
}

// ErrCacheMiss signals an absent key in a typed way.
var ErrCacheMiss = errors.New("cache: miss")
