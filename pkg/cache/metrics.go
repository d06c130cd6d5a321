package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks lookups that found a stored response, by layer (redis)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forgesync_cache_hits_total",
			Help: "Total number of HTTP cache hits",
		},
		[]string{"layer"},
	)

	// CacheMisses tracks lookups without a stored response
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "forgesync_cache_misses_total",
			Help: "Total number of HTTP cache misses",
		},
	)

	// CacheSize tracks bytes written by layer
	CacheSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "forgesync_cache_size_bytes",
			Help: "Bytes written to the HTTP cache",
		},
		[]string{"layer"},
	)

	// NotModified tracks 304 responses replayed from the cache
	NotModified = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "forgesync_cache_not_modified_total",
			Help: "Total number of 304 Not Modified responses served from cache",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forgesync_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "touch"
	)
)
