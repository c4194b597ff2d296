package server

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Route group policy names. A request under /api/grades/export or
// /api/simulations/{id}/run passes both general and strict.
const (
	PolicyAuth    = "auth"
	PolicyGeneral = "general"
	PolicyStrict  = "strict"
)

type Deps struct {
	// Upstream serves every /api request that passes the limits.
	Upstream http.Handler
	// Limits maps a policy name to its rate limit middleware.
	Limits map[string]func(http.Handler) http.Handler
	// Outer wraps the whole router, e.g. the in-flight limit.
	Outer  []func(http.Handler) http.Handler
	Health Pinger
	// Metrics is mounted on /metrics when set.
	Metrics http.Handler
	// Stats is mounted on /stats when set.
	Stats  http.Handler
	Logger *zap.Logger
}

func NewRouter(d Deps) (http.Handler, error) {
	if d.Upstream == nil {
		return nil, fmt.Errorf("server: upstream handler is required")
	}
	for _, name := range []string{PolicyAuth, PolicyGeneral, PolicyStrict} {
		if d.Limits[name] == nil {
			return nil, fmt.Errorf("server: no rate limit policy %q configured", name)
		}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	for _, name := range sortedPolicyNames(d.Limits) {
		switch name {
		case PolicyAuth, PolicyGeneral, PolicyStrict:
		default:
			d.Logger.Warn("rate limit policy is not attached to any route group", zap.String("policy", name))
		}
	}

	r := chi.NewRouter()
	r.Use(CanonicalRoutePath)
	r.Use(RequestID)
	r.Use(AccessLog(d.Logger, "/healthz", "/metrics", "/stats"))
	r.Use(chimw.Recoverer)
	r.Use(d.Outer...)

	r.Get("/healthz", Health(d.Health))
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}
	if d.Stats != nil {
		r.Method(http.MethodGet, "/stats", d.Stats)
	}

	r.Route("/api", func(api chi.Router) {
		api.Group(func(auth chi.Router) {
			auth.Use(d.Limits[PolicyAuth])
			auth.Handle("/auth", d.Upstream)
			auth.Handle("/auth/*", d.Upstream)
		})

		api.Group(func(general chi.Router) {
			general.Use(d.Limits[PolicyGeneral])

			general.Group(func(strict chi.Router) {
				strict.Use(d.Limits[PolicyStrict])
				strict.Handle("/grades/export", d.Upstream)
				strict.Handle("/grades/export/*", d.Upstream)
				strict.Handle("/simulations/{simulationID}/run", d.Upstream)
			})

			general.Handle("/*", d.Upstream)
		})
	})

	return r, nil
}

func sortedPolicyNames(limits map[string]func(http.Handler) http.Handler) []string {
	names := make([]string, 0, len(limits))
	for name := range limits {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
