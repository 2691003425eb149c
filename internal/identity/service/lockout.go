package service

import (
	"context"
	"strconv"
	"time"

	"identity-platform/trustcore/internal/cache"
)

const (
	// DefaultLockoutThreshold is the failed-attempt count that locks an account.
	DefaultLockoutThreshold = 5
	// DefaultLockoutWindow is how long failed attempts are remembered.
	DefaultLockoutWindow = 15 * time.Minute
)

// Lockout counts failed login attempts per user in the shared TTL store.
// Crossing the threshold locks the account until the window lapses. Store
// failures lean toward availability: a counter that cannot be read does not
// lock anyone out, because the password check still gates access.
type Lockout struct {
	store     cache.Store
	threshold int
	window    time.Duration
}

// NewLockout returns a lockout counter with the given threshold and window.
func NewLockout(store cache.Store, threshold int, window time.Duration) *Lockout {
	if threshold <= 0 {
		threshold = DefaultLockoutThreshold
	}
	if window <= 0 {
		window = DefaultLockoutWindow
	}
	return &Lockout{store: store, threshold: threshold, window: window}
}

func lockoutKey(userID string) string { return "lockout:" + userID }

// Locked reports whether the user has reached the failure threshold.
func (l *Lockout) Locked(ctx context.Context, userID string) (bool, error) {
	raw, ok, err := l.store.Get(ctx, lockoutKey(userID))
	if err != nil || !ok {
		return false, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return false, nil
	}
	return n >= l.threshold, nil
}

// RecordFailure increments the user's failure counter. The increment is a
// single atomic store operation so concurrent failed logins never undercount;
// the window starts at the first failure and is not refreshed by later ones.
func (l *Lockout) RecordFailure(ctx context.Context, userID string) error {
	_, err := l.store.Incr(ctx, lockoutKey(userID), l.window)
	return err
}

// Reset clears the user's failure counter after a successful login.
func (l *Lockout) Reset(ctx context.Context, userID string) error {
	_, err := l.store.Delete(ctx, lockoutKey(userID))
	return err
}
