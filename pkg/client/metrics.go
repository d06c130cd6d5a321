package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for request execution.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forgesync_requests_total",
		Help: "Total upstream requests by upstream and status",
	}, []string{"upstream", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "forgesync_request_duration_seconds",
		Help:    "Upstream request duration in seconds by upstream",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"upstream"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forgesync_retries_total",
		Help: "Total number of retry attempts by upstream and reason class",
	}, []string{"upstream", "reason"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "forgesync_retry_backoff_seconds",
		Help:    "Backoff duration before a retry by upstream",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 300, 900},
	}, []string{"upstream"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forgesync_retry_exhausted_total",
		Help: "Total number of requests that used up their retries",
	}, []string{"upstream"})
)
