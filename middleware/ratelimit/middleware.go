package ratelimit

import (
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"lms-gateway/middleware/ratelimit/application"
	"lms-gateway/middleware/ratelimit/domain"
)

type Options struct {
	Policy domain.Policy
	Store  domain.CounterStore

	// Stats receives one event per decision, best-effort.
	Stats domain.StatsStore
	// Accounting is called after the next handler of an allowed request
	// returns. Nil leaves the pre-dispatch increment as the only accounting.
	Accounting domain.Accounting

	ClientFn           ClientFunc
	// RouteFn labels the route in stats events. Defaults to the canonical
	// request path; give it the router's route pattern to keep the number of
	// distinct labels bounded.
	RouteFn func(r *http.Request) string
	ClientHeader       string
	TrustXForwardedFor bool

	AddRateLimitHeaders bool

	Logger *zap.Logger
	// ErrorLogEvery is the minimum gap between two "store unavailable" log
	// lines; lines in between are counted and reported with the next one.
	// Zero logs every failure.
	ErrorLogEvery time.Duration
}

// Middleware gates requests against opts.Policy. It returns an error wrapping
// domain.ErrInvalidPolicy when the policy is unusable, so a bad configuration
// stops the process at startup rather than at request time.
func Middleware(opts Options) (func(next http.Handler) http.Handler, error) {
	p, err := domain.NewPolicy(opts.Policy.Name, opts.Policy.Window, opts.Policy.Max, opts.Policy.Message,
		domain.WithSkipSuccessfulRequests(opts.Policy.SkipSuccessfulRequests),
		domain.WithSkipFailedRequests(opts.Policy.SkipFailedRequests),
	)
	if err != nil {
		return nil, err
	}
	if opts.Store == nil {
		return nil, errors.New("ratelimit: counter store is required")
	}
	if opts.ClientFn == nil {
		opts.ClientFn = DefaultClientFunc(opts.ClientHeader, opts.TrustXForwardedFor)
	}
	if opts.RouteFn == nil {
		opts.RouteFn = func(r *http.Request) string { return CanonicalPath(r.URL.Path) }
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	logger := opts.Logger.With(zap.String("policy", p.Name))
	storeErrors := newThrottledLog(logger, opts.ErrorLogEvery)
	svc := application.Service{Store: opts.Store, Policy: p}
	limit := strconv.Itoa(p.Max)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqPath := CanonicalPath(r.URL.Path)
			key := BuildKey(p.Name, opts.ClientFn(r), reqPath)

			if opts.AddRateLimitHeaders {
				w.Header().Add("X-RateLimit-Policy", p.Name)
				w.Header().Add("X-RateLimit-Limit", limit)
			}

			dec := svc.Decide(r.Context(), key)
			if opts.Stats != nil {
				_ = opts.Stats.Record(r.Context(), domain.StatsEvent{
					Policy:  p.Name,
					Key:     key,
					Outcome: domain.OutcomeOf(dec),
					Method:  r.Method,
					Path:    opts.RouteFn(r),
					At:      time.Now(),
				})
			}

			switch {
			case dec.FailedOpen:
				storeErrors.log(dec.Err,
					zap.String("key", string(key)),
					zap.String("path", reqPath),
				)
			case !dec.Allowed:
				logger.Debug("rate limit exceeded", zap.String("key", string(key)))
				writeTooManyRequests(w, p)
				return
			}

			if opts.Accounting == nil {
				next.ServeHTTP(w, r)
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			if err := opts.Accounting.Settle(r.Context(), domain.SettleEvent{
				Key:    key,
				Policy: p,
				Status: rec.status,
			}); err != nil {
				logger.Warn("rate limit accounting failed", zap.String("key", string(key)), zap.Error(err))
			}
		})
	}, nil
}

// throttledLog reports counter store failures at error level, at most once
// per interval during an outage.
type throttledLog struct {
	logger     *zap.Logger
	lim        *rate.Limiter
	suppressed atomic.Int64
}

func newThrottledLog(logger *zap.Logger, every time.Duration) *throttledLog {
	l := &throttledLog{logger: logger}
	if every > 0 {
		l.lim = rate.NewLimiter(rate.Every(every), 1)
	}
	return l
}

func (l *throttledLog) log(err error, fields ...zap.Field) {
	if l.lim != nil && !l.lim.Allow() {
		l.suppressed.Add(1)
		return
	}
	fields = append(fields, zap.Error(err))
	if n := l.suppressed.Swap(0); n > 0 {
		fields = append(fields, zap.Int64("suppressed", n))
	}
	l.logger.Error("rate limit store unavailable, failing open", fields...)
}
