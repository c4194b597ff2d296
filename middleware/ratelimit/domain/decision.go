package domain

import (
	"context"
	"time"
)

type Decision struct {
	Allowed bool
	// RetryAfter is the value to return in Retry-After when blocked.
	RetryAfter time.Duration
	// FailedOpen is set when the store failed and the request was let through.
	FailedOpen bool
	// Err is ErrQuotaExceeded on denial or the store failure on fail-open.
	Err error
}

// SettleEvent describes an allowed request after the downstream handler
// returned.
type SettleEvent struct {
	Key    Key
	Policy Policy
	Status int
}

// Succeeded follows the usual "status < 400" convention.
func (e SettleEvent) Succeeded() bool { return e.Status < 400 }

// Accounting is the post-response extension point. It is called once per
// allowed request with the final status. Implementations can use the policy
// skip flags to give back quota; the counter has already been incremented.
type Accounting interface {
	Settle(ctx context.Context, ev SettleEvent) error
}

// AccountingFunc adapts a function to Accounting.
type AccountingFunc func(ctx context.Context, ev SettleEvent) error

func (f AccountingFunc) Settle(ctx context.Context, ev SettleEvent) error { return f(ctx, ev) }
