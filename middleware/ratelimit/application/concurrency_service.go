package application

import (
	"context"
	"time"

	"lms-gateway/middleware/ratelimit/domain"
)

// ConcurrencyService acquires and releases in-flight slots with a timeout,
// without knowing anything about HTTP.
type ConcurrencyService struct {
	Pool           domain.SlotPool
	AcquireTimeout time.Duration
}

// Acquire tries to take a slot.
// With AcquireTimeout <= 0 it waits until ctx is done, otherwise at most
// AcquireTimeout. When ok is false no slot was taken.
func (s ConcurrencyService) Acquire(ctx context.Context) (func(), bool) {
	if s.Pool == nil {
		return func() {}, true
	}

	if s.AcquireTimeout <= 0 {
		return s.Pool.Acquire(ctx)
	}

	acqCtx, cancel := context.WithTimeout(ctx, s.AcquireTimeout)
	defer cancel()
	return s.Pool.Acquire(acqCtx)
}
