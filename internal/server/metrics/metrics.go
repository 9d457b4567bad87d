// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Admission results not produced by an error code.
const (
	ResultAdmitted = "admitted"
	ResultDeleted  = "deleted"
)

var (
	// Admissions counts upload decisions by result ("admitted" or an error code).
	Admissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securevault_admissions_total",
			Help: "Upload admission decisions by result.",
		},
		[]string{"result"},
	)

	AdmittedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "securevault_admitted_bytes_total",
		Help: "Total bytes of admitted uploads.",
	})

	// Deletions counts delete requests by result ("deleted" or an error code).
	Deletions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securevault_deletions_total",
			Help: "File deletions by result.",
		},
		[]string{"result"},
	)

	ByteDeleteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "securevault_byte_delete_failures_total",
		Help: "Stored objects that could not be deleted and were left to the sweeper.",
	})

	SettingsCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "securevault_settings_cache_hits_total",
		Help: "System setting lookups served from cache.",
	})
	SettingsCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "securevault_settings_cache_misses_total",
		Help: "System setting lookups that reached the store.",
	})

	SweptObjects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "securevault_swept_objects_total",
		Help: "Orphaned stored objects removed by the sweeper.",
	})

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securevault_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "securevault_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)
