package application

import (
	"context"
	"errors"
	"time"

	"lms-gateway/middleware/ratelimit/domain"
)

// Service applies one policy against a counter store.
//
// It knows nothing about HTTP (headers/status), it only returns a decision.
type Service struct {
	Store  domain.CounterStore
	Policy domain.Policy
}

// Decide performs exactly one TryConsume for key.
//
// A store failure yields an allowed decision with FailedOpen set and the
// failure in Err. A denial carries ErrQuotaExceeded and the policy window,
// rounded up to whole seconds, as RetryAfter.
func (s Service) Decide(ctx context.Context, key domain.Key) domain.Decision {
	if s.Store == nil {
		return domain.Decision{Allowed: true}
	}

	ok, err := s.Store.TryConsume(ctx, key, s.Policy.Max, s.Policy.Window)
	if err != nil {
		if !errors.Is(err, domain.ErrStoreUnavailable) {
			err = domain.StoreUnavailable("try consume", err)
		}
		return domain.Decision{Allowed: true, FailedOpen: true, Err: err}
	}
	if ok {
		return domain.Decision{Allowed: true}
	}
	return domain.Decision{
		Allowed:    false,
		RetryAfter: time.Duration(s.Policy.RetryAfterSeconds()) * time.Second,
		Err:        domain.ErrQuotaExceeded,
	}
}
