package infra

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"lms-gateway/middleware/ratelimit/domain"
)

// MemoryCounterStore keeps fixed-window counters in process memory.
//
// Keys are spread over shards, each guarded by its own mutex, so the
// check-and-increment for one key is atomic without a global lock. Expired
// counters are reset lazily on access and dropped by the janitor.
type MemoryCounterStore struct {
	shards       []*memoryShard
	now          func() time.Time
	cleanupEvery time.Duration
}

type memoryShard struct {
	mu       sync.Mutex
	counters map[domain.Key]*domain.Counter
}

type MemoryStoreOption func(*MemoryCounterStore)

func WithShards(n int) MemoryStoreOption {
	return func(s *MemoryCounterStore) {
		if n > 0 {
			s.shards = make([]*memoryShard, n)
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryCounterStore) { s.now = now }
}

func WithCleanupEvery(d time.Duration) MemoryStoreOption {
	return func(s *MemoryCounterStore) { s.cleanupEvery = d }
}

func NewMemoryCounterStore(opts ...MemoryStoreOption) *MemoryCounterStore {
	s := &MemoryCounterStore{
		shards:       make([]*memoryShard, 32),
		now:          time.Now,
		cleanupEvery: time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	for i := range s.shards {
		s.shards[i] = &memoryShard{counters: make(map[domain.Key]*domain.Counter)}
	}
	return s
}

var _ domain.CounterStore = (*MemoryCounterStore)(nil)

func (s *MemoryCounterStore) shard(key domain.Key) *memoryShard {
	return s.shards[xxhash.Sum64String(string(key))%uint64(len(s.shards))]
}

// TryConsume implements domain.CounterStore.
func (s *MemoryCounterStore) TryConsume(ctx context.Context, key domain.Key, max int, window time.Duration) (bool, error) {
	if err := domain.ValidateConsume(key, max, window); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, domain.StoreUnavailable("memory consume", err)
	}

	now := s.now()
	sh := s.shard(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	c, ok := sh.counters[key]
	if !ok || c.Expired(now) {
		sh.counters[key] = &domain.Counter{Count: 1, ExpiresAt: now.Add(window)}
		return true, nil
	}
	c.Count++
	return c.Count <= int64(max), nil
}

// Get returns the live counter for key. found is false for an unseen or
// expired key.
func (s *MemoryCounterStore) Get(_ context.Context, key domain.Key) (c domain.Counter, found bool, err error) {
	sh := s.shard(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	cur, ok := sh.counters[key]
	if !ok || cur.Expired(s.now()) {
		return domain.Counter{}, false, nil
	}
	return *cur, true, nil
}

func (s *MemoryCounterStore) Reset(_ context.Context, key domain.Key) error {
	sh := s.shard(key)
	sh.mu.Lock()
	delete(sh.counters, key)
	sh.mu.Unlock()
	return nil
}

// Ping always succeeds; it lets the health check treat every store alike.
func (s *MemoryCounterStore) Ping(context.Context) error { return nil }

// Len counts the counters currently held, expired or not.
func (s *MemoryCounterStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.counters)
		sh.mu.Unlock()
	}
	return n
}

// Cleanup drops every expired counter.
func (s *MemoryCounterStore) Cleanup() {
	now := s.now()
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, c := range sh.counters {
			if c.Expired(now) {
				delete(sh.counters, k)
			}
		}
		sh.mu.Unlock()
	}
}

// StartJanitor runs Cleanup every cleanupEvery until ctx is done.
func (s *MemoryCounterStore) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}
