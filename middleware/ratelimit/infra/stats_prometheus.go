package infra

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"lms-gateway/middleware/ratelimit/domain"
)

// PrometheusStats exposes decisions as counters labelled by policy.
type PrometheusStats struct {
	RequestsTotal   *prometheus.CounterVec
	AllowedTotal    *prometheus.CounterVec
	BlockedTotal    *prometheus.CounterVec
	FailedOpenTotal *prometheus.CounterVec
}

func NewPrometheusStats(reg prometheus.Registerer) (*PrometheusStats, error) {
	s := &PrometheusStats{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_limit_requests_total",
				Help: "Total number of rate limit checks",
			},
			[]string{"policy"},
		),
		AllowedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_limit_allowed_total",
				Help: "Total number of allowed requests",
			},
			[]string{"policy"},
		),
		BlockedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_limit_blocked_total",
				Help: "Total number of requests answered with 429",
			},
			[]string{"policy"},
		),
		FailedOpenTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_limit_failed_open_total",
				Help: "Total number of requests let through because the counter store failed",
			},
			[]string{"policy"},
		),
	}

	for _, c := range []prometheus.Collector{s.RequestsTotal, s.AllowedTotal, s.BlockedTotal, s.FailedOpenTotal} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *PrometheusStats) Record(_ context.Context, ev domain.StatsEvent) error {
	s.RequestsTotal.WithLabelValues(ev.Policy).Inc()
	switch ev.Outcome {
	case domain.OutcomeAllowed:
		s.AllowedTotal.WithLabelValues(ev.Policy).Inc()
	case domain.OutcomeDenied:
		s.BlockedTotal.WithLabelValues(ev.Policy).Inc()
	case domain.OutcomeFailedOpen:
		s.FailedOpenTotal.WithLabelValues(ev.Policy).Inc()
	}
	return nil
}

// RegisterInFlight exposes the occupancy of the in-flight pool as a gauge.
func RegisterInFlight(reg prometheus.Registerer, pool *ChanPool) error {
	return reg.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "gateway_in_flight_requests",
			Help: "Requests currently holding an in-flight slot",
		},
		func() float64 { return float64(pool.InUse()) },
	))
}

// RegisterMemoryCounters exposes how many counters an in-process store holds.
func RegisterMemoryCounters(reg prometheus.Registerer, store *MemoryCounterStore) error {
	return reg.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "rate_limit_memory_counters",
			Help: "Counters held by the in-memory store, expired ones included until the next cleanup",
		},
		func() float64 { return float64(store.Len()) },
	))
}
