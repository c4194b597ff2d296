package server

import (
	"context"
	"net/http"
	"time"
)

// Pinger is implemented by every counter store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health reports whether the counter store answers. A failing store only
// degrades the gateway: rate limiting fails open, traffic still flows.
func Health(store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := store.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
