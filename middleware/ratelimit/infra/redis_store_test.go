package infra

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lms-gateway/middleware/ratelimit/domain"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr:       mr.Addr(),
		MaxRetries: -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	return client, mr
}

func TestRedisCounterStore_AllowsMaxThenDenies(t *testing.T) {
	client, mr := setupTestRedis(t)
	s := NewRedisCounterStore(client, WithKeyPrefix("test:"))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		ok, err := s.TryConsume(ctx, "strict:10.0.0.1:/x", 10, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d should be allowed", i+1)
	}

	ok, err := s.TryConsume(ctx, "strict:10.0.0.1:/x", 10, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	v, err := mr.Get("test:strict:10.0.0.1:/x")
	require.NoError(t, err)
	assert.Equal(t, "11", v, "denied attempts still count")
	assert.Equal(t, time.Minute, mr.TTL("test:strict:10.0.0.1:/x"))
}

func TestRedisCounterStore_WindowExpiryResets(t *testing.T) {
	client, mr := setupTestRedis(t)
	s := NewRedisCounterStore(client)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.TryConsume(ctx, "k", 2, time.Second)
		require.NoError(t, err)
	}

	mr.FastForward(time.Second)

	c, err := s.Consume(ctx, "k", time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Count)
}

func TestRedisCounterStore_RepairsMissingTTL(t *testing.T) {
	client, mr := setupTestRedis(t)
	s := NewRedisCounterStore(client)

	require.NoError(t, mr.Set("ratelimit:k", "4"))

	c, err := s.Consume(context.Background(), "k", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(5), c.Count)
	assert.Equal(t, 30*time.Second, mr.TTL("ratelimit:k"))
}

func TestRedisCounterStore_KeysAreIndependent(t *testing.T) {
	client, _ := setupTestRedis(t)
	s := NewRedisCounterStore(client)
	ctx := context.Background()

	_, _ = s.TryConsume(ctx, "a", 1, time.Minute)
	ok, _ := s.TryConsume(ctx, "a", 1, time.Minute)
	assert.False(t, ok)

	ok, err := s.TryConsume(ctx, "b", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisCounterStore_ConcurrentCallersNeverExceedMax(t *testing.T) {
	const max, extra = 20, 15
	client, _ := setupTestRedis(t)
	s := NewRedisCounterStore(client)

	var allowed, denied atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < max+extra; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
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
	wg.Wait()

	assert.Equal(t, int64(max), allowed.Load())
	assert.Equal(t, int64(extra), denied.Load())
}

func TestRedisCounterStore_UnreachableIsStoreUnavailable(t *testing.T) {
	client, mr := setupTestRedis(t)
	s := NewRedisCounterStore(client)
	mr.Close()

	ok, err := s.TryConsume(context.Background(), "k", 1, time.Minute)
	require.Error(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.ErrorIs(t, s.Ping(context.Background()), domain.ErrStoreUnavailable)
}

func TestRedisCounterStore_Reset(t *testing.T) {
	client, mr := setupTestRedis(t)
	s := NewRedisCounterStore(client)
	ctx := context.Background()

	_, _ = s.TryConsume(ctx, "k", 1, time.Minute)
	require.NoError(t, s.Reset(ctx, "k"))
	assert.False(t, mr.Exists("ratelimit:k"))
}

func TestRedisCounterStore_Get(t *testing.T) {
	client, mr := setupTestRedis(t)
	s := NewRedisCounterStore(client)
	ctx := context.Background()

	_, found, err := s.Get(ctx, "auth:1.2.3.4:/api/auth/login")
	require.NoError(t, err)
	assert.False(t, found)

	for i := 0; i < 3; i++ {
		_, err := s.TryConsume(ctx, "auth:1.2.3.4:/api/auth/login", 5, time.Minute)
		require.NoError(t, err)
	}

	c, found, err := s.Get(ctx, "auth:1.2.3.4:/api/auth/login")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(3), c.Count)
	assert.WithinDuration(t, time.Now().Add(time.Minute), c.ExpiresAt, 5*time.Second)

	mr.FastForward(time.Minute)
	_, found, err = s.Get(ctx, "auth:1.2.3.4:/api/auth/login")
	require.NoError(t, err)
	assert.False(t, found, "expired counter is gone")

	mr.Close()
	_, _, err = s.Get(ctx, "auth:1.2.3.4:/api/auth/login")
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}
