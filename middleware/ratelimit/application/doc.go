// Package application holds the use cases of the rate limiter: turning a
// counter store answer into an allow/deny decision, and acquiring in-flight
// slots with a timeout.
//
// It depends only on package domain and knows nothing about net/http.
// E.g. Service.Decide(ctx, key) returns a Decision (allow/deny + retry-after).
package application
