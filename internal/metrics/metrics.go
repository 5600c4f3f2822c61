package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "leadmeter"

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)
)

// Quota metrics (labelled by action only; identifiers would explode cardinality)
var (
	QuotaDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_decisions_total",
			Help:      "Admission decisions by action and outcome",
		},
		[]string{"action", "outcome"}, // "allowed", "denied", "unrestricted", "error"
	)

	QuotaUsageRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_usage_recorded_total",
			Help:      "Units of usage recorded against quotas",
		},
		[]string{"action"},
	)

	QuotaStoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_store_errors_total",
			Help:      "Counter store failures by operation",
		},
		[]string{"op"},
	)

	CounterCASRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "counter_cas_retries_total",
			Help:      "Compare-and-swap attempts lost to concurrent writers",
		},
	)
)

// Engagement tracking metrics
var (
	EmailsInstrumented = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emails_instrumented_total",
			Help:      "Total number of outbound emails instrumented for tracking",
		},
	)

	TrackingEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracking_events_total",
			Help:      "Engagement callbacks by kind and result",
		},
		[]string{"kind", "result"}, // "recorded", "duplicate", "unknown", "invalid", "error"
	)
)

// Engagement archive metrics
var (
	ArchiveEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_events_total",
			Help:      "Engagement events handled by the archive sink",
		},
		[]string{"result"}, // "written", "dropped", "failed"
	)

	ArchiveFlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "archive_flush_duration_seconds",
			Help:      "Time spent writing one archive batch",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)
)

// Request throttling metrics
var (
	RateLimitedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_requests_total",
			Help:      "Requests rejected or degraded by per-client rate limits",
		},
		[]string{"scope"}, // "tracking", "api"
	)
)
