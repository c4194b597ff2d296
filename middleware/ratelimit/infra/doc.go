// Package infra contains the concrete implementations of the domain contracts.
//
//   - RedisCounterStore: fixed-window counters in Redis (atomic Lua INCR + PEXPIRE)
//   - SQLCounterStore: fixed-window counters in PostgreSQL (single UPSERT)
//   - MemoryCounterStore: sharded in-process counters for tests and single instances
//   - MemoryStatsStore, RedisStatsStore, PrometheusStats: decision statistics
//   - ChanPool: semaphore for the in-flight request limit
package infra
