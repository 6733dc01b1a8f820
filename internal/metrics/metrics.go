package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BackendRequests counts remote service calls by operation and outcome
	// (ok, network, decode, rejected).
	BackendRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tutorapi_requests_total",
		Help: "Remote tutoring service calls by operation and outcome.",
	}, []string{"op", "outcome"})

	BackendLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tutorapi_request_duration_seconds",
		Help:    "Remote tutoring service call latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	CatalogCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tutorapi_catalog_cache_total",
		Help: "Catalog cache lookups by kind and result (hit, miss).",
	}, []string{"kind", "result"})

	// Rollbacks counts optimistic changes undone after a failed confirmation.
	Rollbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lifecycle_rollbacks_total",
		Help: "Optimistic appointment changes rolled back.",
	}, []string{"op"})

	DiscardedResponses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lifecycle_discarded_responses_total",
		Help: "Responses dropped because their session was already closed.",
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_active_sessions",
		Help: "Open screen sessions hosted by the gateway.",
	})
)
