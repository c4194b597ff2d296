package ratelimit

import (
	"encoding/json"
	"net/http"
	"time"

	"lms-gateway/middleware/ratelimit/application"
	"lms-gateway/middleware/ratelimit/infra"
)

// BusyMessage is the body of a request turned away by the in-flight limit.
const BusyMessage = "Gateway is busy, please retry shortly."

type ConcurrencyOptions struct {
	// Max is the number of requests served at once; ignored when Pool is set.
	Max int
	// RejectStatus answers a request that found no free slot. Default 503.
	RejectStatus   int
	AcquireTimeout time.Duration
	// Pool is shared with the in-flight gauge when set.
	Pool *infra.ChanPool
}

// ConcurrencyMiddleware caps the requests in flight across every route group.
// With neither Max nor Pool set it is a no-op.
func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.Pool == nil {
		if opts.Max <= 0 {
			return func(next http.Handler) http.Handler { return next }
		}
		opts.Pool = infra.NewChanPool(opts.Max)
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusServiceUnavailable
	}

	slots := application.ConcurrencyService{
		Pool:           opts.Pool,
		AcquireTimeout: opts.AcquireTimeout,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			release, ok := slots.Acquire(r.Context())
			if !ok {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(opts.RejectStatus)
				_ = json.NewEncoder(w).Encode(map[string]string{"message": BusyMessage})
				return
			}
			defer release()

			next.ServeHTTP(w, r)
		})
	}
}
