package infra

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"lms-gateway/middleware/ratelimit/domain"
)

// consumeScript increments the counter and starts its window when the key is
// new. A key that somehow lost its TTL gets one again so it cannot count
// forever. Returns {count, pttl}.
var consumeScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if count == 1 or ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisCounterStore is a fixed-window CounterStore shared by every gateway
// instance pointing at the same Redis.
type RedisCounterStore struct {
	rdb    redis.UniversalClient
	prefix string
}

type RedisStoreOption func(*RedisCounterStore)

func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisCounterStore) { s.prefix = strings.Trim(prefix, ":") }
}

func NewRedisCounterStore(rdb redis.UniversalClient, opts ...RedisStoreOption) *RedisCounterStore {
	s := &RedisCounterStore{
		rdb:    rdb,
		prefix: "ratelimit",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ domain.CounterStore = (*RedisCounterStore)(nil)

func (s *RedisCounterStore) redisKey(key domain.Key) string {
	if s.prefix == "" {
		return string(key)
	}
	return s.prefix + ":" + string(key)
}

// TryConsume implements domain.CounterStore.
func (s *RedisCounterStore) TryConsume(ctx context.Context, key domain.Key, max int, window time.Duration) (bool, error) {
	if err := domain.ValidateConsume(key, max, window); err != nil {
		return false, err
	}
	c, err := s.Consume(ctx, key, window)
	if err != nil {
		return false, err
	}
	return c.Count <= int64(max), nil
}

// Consume records one occurrence and returns the resulting counter.
func (s *RedisCounterStore) Consume(ctx context.Context, key domain.Key, window time.Duration) (domain.Counter, error) {
	if err := domain.ValidateConsume(key, 1, window); err != nil {
		return domain.Counter{}, err
	}
	windowMs := window.Milliseconds()
	if windowMs < 1 {
		windowMs = 1
	}

	now := time.Now()
	res, err := consumeScript.Run(ctx, s.rdb, []string{s.redisKey(key)}, windowMs).Result()
	if err != nil {
		return domain.Counter{}, domain.StoreUnavailable("redis consume", err)
	}

	arr, ok := res.([]interface{})
	if !ok || len(arr) != 2 {
		return domain.Counter{}, domain.StoreUnavailable("redis consume", fmt.Errorf("unexpected script result %v", res))
	}
	count, ok1 := arr[0].(int64)
	ttl, ok2 := arr[1].(int64)
	if !ok1 || !ok2 {
		return domain.Counter{}, domain.StoreUnavailable("redis consume", fmt.Errorf("unexpected script result %v", res))
	}

	return domain.Counter{
		Count:     count,
		ExpiresAt: now.Add(time.Duration(ttl) * time.Millisecond),
	}, nil
}

// Get reads the counter for key without consuming. found is false when the
// key does not exist or has already expired.
func (s *RedisCounterStore) Get(ctx context.Context, key domain.Key) (c domain.Counter, found bool, err error) {
	rk := s.redisKey(key)

	pipe := s.rdb.Pipeline()
	getCmd := pipe.Get(ctx, rk)
	ttlCmd := pipe.PTTL(ctx, rk)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return domain.Counter{}, false, domain.StoreUnavailable("redis get", err)
	}

	count, err := getCmd.Int64()
	if errors.Is(err, redis.Nil) {
		return domain.Counter{}, false, nil
	}
	if err != nil {
		return domain.Counter{}, false, domain.StoreUnavailable("redis get", err)
	}

	c = domain.Counter{Count: count}
	if ttl := ttlCmd.Val(); ttl > 0 {
		c.ExpiresAt = time.Now().Add(ttl)
	}
	return c, true, nil
}

func (s *RedisCounterStore) Reset(ctx context.Context, key domain.Key) error {
	if err := s.rdb.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return domain.StoreUnavailable("redis del", err)
	}
	return nil
}

func (s *RedisCounterStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return domain.StoreUnavailable("redis ping", err)
	}
	return nil
}
