// Package store provides a key-value store abstraction with per-key expiry.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("store: key not found")

// Store is a key-value store with per-key TTL. A zero TTL means the key
// never expires. Implementations offer plain get/set/delete only; callers
// that need read-modify-write atomicity must serialize access themselves.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
