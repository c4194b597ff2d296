// Package server assembles the HTTP side of the gateway: chi routes with one
// rate limit policy per route group, the reverse proxy to the LMS API,
// request ids, access logs, health and metrics endpoints, and the
// http.Server lifecycle.
package server
