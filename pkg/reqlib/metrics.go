package reqlib

import "github.com/prometheus/client_golang/prometheus"

var (
	requestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warpreq_requests_in_flight",
			Help: "Number of requests currently holding a worker slot.",
		},
	)

	requestsWaiting = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warpreq_requests_waiting",
			Help: "Number of requests waiting for a worker slot.",
		},
	)

	requestsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warpreq_requests_completed_total",
			Help: "Total number of completed request attempts.",
		},
		[]string{"status", "reason"},
	)

	queueWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warpreq_queue_wait_seconds",
			Help:    "Time a request waited in queue before a worker slot freed up, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	requestDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warpreq_request_duration_seconds",
			Help:    "Duration of one request attempt from promotion to completion, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(requestsInFlight)
	prometheus.MustRegister(requestsWaiting)
	prometheus.MustRegister(requestsCompleted)
	prometheus.MustRegister(queueWaitSeconds)
	prometheus.MustRegister(requestDurationSeconds)

	for _, s := range []Status{StatusSucceeded, StatusFailed, StatusCancelled} {
		requestsCompleted.WithLabelValues(s.String(), FailureNone.String())
	}
}

func observeCompletion(req *Request) {
	requestsCompleted.WithLabelValues(req.Status().String(), req.FailureReason().String()).Inc()
	if d := req.Elapsed(); d > 0 {
		requestDurationSeconds.Observe(d.Seconds())
	}
}
