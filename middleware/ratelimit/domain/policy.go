package domain

import (
	"fmt"
	"strings"
	"time"
)

// Policy is the per route group rate limit configuration. Build it with
// NewPolicy; it is not modified after construction.
type Policy struct {
	// Name is the key namespace. Two policies with different names never
	// share counters.
	Name    string
	Window  time.Duration
	Max     int
	Message string

	// Reserved for outcome-based accounting. The counter is incremented before
	// dispatch regardless; an Accounting hook receives both flags.
	SkipSuccessfulRequests bool
	SkipFailedRequests     bool
}

type PolicyOption func(*Policy)

func WithSkipSuccessfulRequests(skip bool) PolicyOption {
	return func(p *Policy) { p.SkipSuccessfulRequests = skip }
}

func WithSkipFailedRequests(skip bool) PolicyOption {
	return func(p *Policy) { p.SkipFailedRequests = skip }
}

const DefaultMessage = "Too many requests, please try again later."

// NewPolicy validates and builds a Policy. Errors wrap ErrInvalidPolicy.
func NewPolicy(name string, window time.Duration, max int, message string, opts ...PolicyOption) (Policy, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Policy{}, fmt.Errorf("%w: name is required", ErrInvalidPolicy)
	}
	if strings.Contains(name, ":") {
		return Policy{}, fmt.Errorf("%w: policy %q: name must not contain ':'", ErrInvalidPolicy, name)
	}
	if window <= 0 {
		return Policy{}, fmt.Errorf("%w: policy %q: window must be > 0, got %s", ErrInvalidPolicy, name, window)
	}
	if max <= 0 {
		return Policy{}, fmt.Errorf("%w: policy %q: max must be > 0, got %d", ErrInvalidPolicy, name, max)
	}
	if message == "" {
		message = DefaultMessage
	}

	p := Policy{
		Name:    name,
		Window:  window,
		Max:     max,
		Message: message,
	}
	for _, opt := range opts {
		opt(&p)
	}
	return p, nil
}

// RetryAfterSeconds is the window rounded up to whole seconds.
func (p Policy) RetryAfterSeconds() int {
	secs := p.Window / time.Second
	if p.Window%time.Second != 0 {
		secs++
	}
	return int(secs)
}
