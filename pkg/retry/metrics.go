package retry

import "github.com/prometheus/client_golang/prometheus"

const (
	causeRetryAfter     = "retry_after"
	causeRateLimitReset = "rate_limit_reset"
	causeRotation       = "domain_rotation"
	causeBackoff        = "backoff"
)

var (
	retriesScheduled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "warpreq",
		Name:      "retries_scheduled_total",
		Help:      "Retries scheduled, by what decided the lockout.",
	}, []string{"cause"})

	retryLockout = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "warpreq",
		Name:      "retry_lockout_seconds",
		Help:      "Lockout applied before a retry.",
		Buckets:   []float64{0, 0.1, 0.5, 1, 2, 4, 8, 16, 32, 60},
	})

	retriesExhausted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "warpreq",
		Name:      "retries_exhausted_total",
		Help:      "Requests finalized after at least one retry without a successful response.",
	})
)

func init() {
	prometheus.MustRegister(retriesScheduled, retryLockout, retriesExhausted)
}
