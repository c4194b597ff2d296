package infra

import (
	"context"
	"sync"

	"lms-gateway/middleware/ratelimit/domain"
)

// OtherBucket collects routes and keys seen after the store reached its
// entry limit.
const OtherBucket = "(other)"

type Counters struct {
	Allowed    int64 `json:"allowed"`
	Denied     int64 `json:"denied"`
	FailedOpen int64 `json:"failed_open"`
}

func (c *Counters) add(o domain.Outcome) {
	switch o {
	case domain.OutcomeAllowed:
		c.Allowed++
	case domain.OutcomeDenied:
		c.Denied++
	case domain.OutcomeFailedOpen:
		c.FailedOpen++
	}
}

// StatsSnapshot is a point in time copy of a MemoryStatsStore.
type StatsSnapshot struct {
	Total    Counters            `json:"total"`
	ByPolicy map[string]Counters `json:"by_policy"`
	ByRoute  map[string]Counters `json:"by_route"`
	ByKey    map[string]Counters `json:"by_key,omitempty"`
}

// MemoryStatsStore aggregates decisions in process memory. Counters are
// cumulative; the route and key maps hold at most maxEntries labels each,
// later labels are folded into OtherBucket.
type MemoryStatsStore struct {
	mu       sync.Mutex
	total    Counters
	byPolicy map[string]Counters
	byRoute  map[string]Counters
	byKey    map[string]Counters

	trackKeys  bool
	maxEntries int
}

type MemoryStatsOption func(*MemoryStatsStore)

func WithTrackKeys(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackKeys = track }
}

// WithMaxEntries bounds the number of distinct routes and keys kept.
func WithMaxEntries(n int) MemoryStatsOption {
	return func(s *MemoryStatsStore) {
		if n > 0 {
			s.maxEntries = n
		}
	}
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		byPolicy:   make(map[string]Counters),
		byRoute:    make(map[string]Counters),
		byKey:      make(map[string]Counters),
		maxEntries: 1000,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	route := ev.Method + " " + ev.Path

	s.mu.Lock()
	defer s.mu.Unlock()

	s.total.add(ev.Outcome)
	bump(s.byPolicy, ev.Policy, ev.Outcome, 0)
	bump(s.byRoute, route, ev.Outcome, s.maxEntries)
	if s.trackKeys {
		bump(s.byKey, string(ev.Key), ev.Outcome, s.maxEntries)
	}
	return nil
}

// bump adds o to m[k]. With limit > 0 a new label beyond limit goes to
// OtherBucket instead.
func bump(m map[string]Counters, k string, o domain.Outcome, limit int) {
	c, ok := m[k]
	if !ok && limit > 0 && len(m) >= limit {
		k = OtherBucket
		c = m[k]
	}
	c.add(o)
	m[k] = c
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *MemoryStatsStore) ByPolicy() map[string]Counters { return s.copyOf(s.byPolicy) }
func (s *MemoryStatsStore) ByRoute() map[string]Counters  { return s.copyOf(s.byRoute) }
func (s *MemoryStatsStore) ByKey() map[string]Counters    { return s.copyOf(s.byKey) }

// Snapshot copies every aggregate under one lock.
func (s *MemoryStatsStore) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StatsSnapshot{
		Total:    s.total,
		ByPolicy: copyCounters(s.byPolicy),
		ByRoute:  copyCounters(s.byRoute),
	}
	if s.trackKeys {
		snap.ByKey = copyCounters(s.byKey)
	}
	return snap
}

func (s *MemoryStatsStore) copyOf(m map[string]Counters) map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyCounters(m)
}

func copyCounters(m map[string]Counters) map[string]Counters {
	out := make(map[string]Counters, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
