package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"lms-gateway/middleware/ratelimit"
)

// CanonicalRoutePath makes chi route on ratelimit.CanonicalPath(r.URL.Path),
// so that /api/AUTH/login/ lands in the same group as /api/auth/login. The
// request itself is forwarded upstream unchanged.
func CanonicalRoutePath(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			rctx.RoutePath = ratelimit.CanonicalPath(r.URL.Path)
		}
		next.ServeHTTP(w, r)
	})
}

// RoutePattern returns the matched chi pattern, e.g.
// "/api/simulations/{simulationID}/run", or the canonical path outside a
// chi router.
func RoutePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return ratelimit.CanonicalPath(r.URL.Path)
}
