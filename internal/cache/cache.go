// Package cache is the key/TTL backend shared by the rate gate and download tokens.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned when a key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Store is a key/TTL store with an atomic counter primitive.
type Store interface {
	// Incr atomically increments the counter at key and returns the new value.
	// The ttl is applied only when the increment creates the key, so a window
	// is never extended by later hits.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Decr gives back one increment at key without touching its expiry. An
	// absent or zero counter stays as it is.
	Decr(ctx context.Context, key string) (int64, error)
	// Count returns the counter at key, zero when absent.
	Count(ctx context.Context, key string) (int64, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Take returns the value at key and removes it in one step. Only one of
	// several concurrent callers can observe a given value.
	Take(ctx context.Context, key string) ([]byte, error)
	// TTL reports the remaining lifetime of key, zero when absent.
	TTL(ctx context.Context, key string) (time.Duration, error)
}
