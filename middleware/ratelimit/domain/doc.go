// Package domain defines the contracts and types of the rate limiting core.
//
// It has no dependency on net/http or on any concrete backend, so policies,
// counters and decisions can be unit tested on their own.
package domain
