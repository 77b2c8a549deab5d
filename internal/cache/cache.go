// ABOUTME: Response cache interface shared by the memory and Redis backends.
// ABOUTME: A generic string store with per-entry TTL; keys are built by callers.

package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss indicates the key is absent or its entry has expired.
var ErrMiss = errors.New("cache miss")

// Cache is a TTL'd string store. Both backends guarantee that an expired
// entry is never returned; expiry may be lazy or eager beyond that.
type Cache interface {
	// Get returns the cached value for key, or ErrMiss.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key for the given TTL. Entries are immutable in
	// practice: callers only ever write a key once per TTL window.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error

	// Close releases backend resources. Safe to call multiple times.
	Close() error
}
