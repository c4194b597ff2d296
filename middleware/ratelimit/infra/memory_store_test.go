package infra

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lms-gateway/middleware/ratelimit/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryCounterStore_AllowsMaxThenDenies(t *testing.T) {
	s := NewMemoryCounterStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ok, err := s.TryConsume(ctx, "k", 5, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d should be allowed", i+1)
	}

	ok, err := s.TryConsume(ctx, "k", 5, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "6th request should be denied")

	c, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(6), c.Count, "denied attempts still count")
}

func TestMemoryCounterStore_WindowExpiryResets(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryCounterStore(WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.TryConsume(ctx, "k", 2, time.Second)
		require.NoError(t, err)
	}
	ok, _ := s.TryConsume(ctx, "k", 2, time.Second)
	assert.False(t, ok)

	clock.Advance(999 * time.Millisecond)
	ok, _ = s.TryConsume(ctx, "k", 2, time.Second)
	assert.False(t, ok, "window has not ended yet")

	clock.Advance(time.Millisecond)
	ok, err := s.TryConsume(ctx, "k", 2, time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "window ended, key behaves as unseen")

	c, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(1), c.Count)
	assert.Equal(t, clock.Now().Add(time.Second), c.ExpiresAt)
}

func TestMemoryCounterStore_KeysAreIndependent(t *testing.T) {
	s := NewMemoryCounterStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = s.TryConsume(ctx, "a", 1, time.Minute)
	}
	ok, _ := s.TryConsume(ctx, "a", 1, time.Minute)
	assert.False(t, ok)

	ok, err := s.TryConsume(ctx, "b", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryCounterStore_ConcurrentCallersNeverExceedMax(t *testing.T) {
	const max, extra = 50, 37
	s := NewMemoryCounterStore(WithShards(4))

	var allowed, denied atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < max+extra; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := s.TryConsume(context.Background(), "hot", max, time.Minute)
			if err != nil {
				t.Error(err)
				return
			}
			if ok {
				allowed.Add(1)
			} else {
				denied.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(max), allowed.Load())
	assert.Equal(t, int64(extra), denied.Load())
}

func TestMemoryCounterStore_RejectsInvalidArguments(t *testing.T) {
	s := NewMemoryCounterStore()

	_, err := s.TryConsume(context.Background(), "", 1, time.Second)
	assert.ErrorIs(t, err, domain.ErrInvalidPolicy)
	_, err = s.TryConsume(context.Background(), "k", 0, time.Second)
	assert.ErrorIs(t, err, domain.ErrInvalidPolicy)
	_, err = s.TryConsume(context.Background(), "k", 1, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidPolicy)
}

func TestMemoryCounterStore_CancelledContextIsStoreUnavailable(t *testing.T) {
	s := NewMemoryCounterStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.TryConsume(ctx, "k", 1, time.Second)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestMemoryCounterStore_CleanupRemovesExpired(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryCounterStore(WithClock(clock.Now), WithCleanupEvery(0))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, _ = s.TryConsume(ctx, domain.Key(fmt.Sprintf("short-%d", i)), 1, time.Second)
	}
	_, _ = s.TryConsume(ctx, "long", 1, time.Hour)
	require.Equal(t, 11, s.Len())

	clock.Advance(2 * time.Second)
	s.Cleanup()

	assert.Equal(t, 1, s.Len())
	_, found, _ := s.Get(ctx, "long")
	assert.True(t, found)
}

func TestMemoryCounterStore_Reset(t *testing.T) {
	s := NewMemoryCounterStore()
	ctx := context.Background()

	_, _ = s.TryConsume(ctx, "k", 1, time.Minute)
	ok, _ := s.TryConsume(ctx, "k", 1, time.Minute)
	require.False(t, ok)

	require.NoError(t, s.Reset(ctx, "k"))
	ok, _ = s.TryConsume(ctx, "k", 1, time.Minute)
	assert.True(t, ok)
}
