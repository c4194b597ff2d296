package domain

import (
	"context"
	"time"
)

type Outcome string

const (
	OutcomeAllowed    Outcome = "allowed"
	OutcomeDenied     Outcome = "denied"
	OutcomeFailedOpen Outcome = "failed_open"
)

// OutcomeOf maps a decision to the outcome recorded in stats.
func OutcomeOf(d Decision) Outcome {
	switch {
	case d.FailedOpen:
		return OutcomeFailedOpen
	case d.Allowed:
		return OutcomeAllowed
	default:
		return OutcomeDenied
	}
}

// StatsEvent is one rate limit decision.
//
// Method and Path are plain strings; watch the cardinality when Key or Path
// are persisted.
type StatsEvent struct {
	Policy  string
	Key     Key
	Outcome Outcome

	Method string
	Path   string

	At time.Time
}

// StatsStore persists decision statistics. Recording is best-effort: the
// middleware ignores errors and never fails a request because of it.
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
