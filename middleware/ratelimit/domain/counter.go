package domain

import (
	"context"
	"time"
)

// Key identifies one counter, e.g. "auth:10.0.0.1:/api/auth/login".
type Key string

// Counter is the fixed-window state kept per key.
type Counter struct {
	Count     int64
	ExpiresAt time.Time
}

// Expired reports whether the window has ended at now.
func (c Counter) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// CounterStore records one occurrence for key and reports whether the caller
// is still within max for the current fixed window.
//
// The check and the increment are a single atomic step per key: concurrent
// callers can never all observe "under quota" when the combined count exceeds
// max. Denied attempts still count. A counter whose window has ended behaves
// as unseen and restarts at 1.
//
// Backend failures are returned wrapped in ErrStoreUnavailable; the store
// never answers true or false in that case.
type CounterStore interface {
	TryConsume(ctx context.Context, key Key, max int, window time.Duration) (bool, error)
}

// ValidateConsume checks the TryConsume arguments shared by every store.
func ValidateConsume(key Key, max int, window time.Duration) error {
	switch {
	case key == "":
		return errorf(ErrInvalidPolicy, "key is empty")
	case max < 1:
		return errorf(ErrInvalidPolicy, "max must be >= 1, got %d", max)
	case window <= 0:
		return errorf(ErrInvalidPolicy, "window must be > 0, got %s", window)
	}
	return nil
}
