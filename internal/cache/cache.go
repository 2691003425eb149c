// Package cache provides the shared TTL key/value store used for revocation
// entries, authorization codes, CSRF tokens, and lockout counters.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned when the backing store cannot be reached or the
// operation timed out. Security checks treat it as fail-closed.
var ErrUnavailable = errors.New("cache unavailable")

// Store is a TTL key/value store. All operations are context-bound and may
// block on I/O; implementations apply their own short per-operation timeouts.
type Store interface {
	// Get returns the value for key. ok is false when the key is absent or expired.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Set stores value under key for ttl. ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX stores value under key only if the key does not exist. Returns
	// true if the value was stored. This is the check-and-set primitive used
	// to make refresh rotation race-free per jti.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Delete removes key. Returns true if the key existed, which makes
	// single-use consumption (authorization codes, CSRF tokens) race-free:
	// exactly one concurrent caller observes true.
	Delete(ctx context.Context, key string) (bool, error)
	// Exists reports whether key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)
	// Incr atomically increments the integer counter at key and returns the
	// new value. A fresh counter starts at 1 and gets the given ttl; later
	// increments keep the original expiry. This is the primitive behind the
	// login-failure lockout counter.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}
