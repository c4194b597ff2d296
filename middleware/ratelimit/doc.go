// Package ratelimit provides the net/http adapters of the gateway: the fixed
// window rate limit middleware and the in-flight concurrency limit.
//
// Layers:
//
//   - domain: contracts and types (no net/http)
//   - application: use cases (allow/deny decision, acquire with timeout)
//   - infra: Redis, PostgreSQL and in-memory counter stores, stats sinks, semaphore
//   - ratelimit (this package): HTTP middlewares, client identification and
//     translation of decisions into status codes, headers and JSON bodies
//
// Request flow for one policy:
//
//  1. derive the key "<policy>:<client address>:<path>"
//  2. ask the application layer for a decision (one TryConsume)
//  3. denied: answer 429 with {"message": ..., "retryAfter": ...}
//  4. allowed, or the store failed (fail-open): call the next handler
package ratelimit
