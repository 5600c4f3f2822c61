package metrics

import "time"

// QuotaDecision records the outcome of an admission check.
func QuotaDecision(action, outcome string) {
	QuotaDecisions.WithLabelValues(action, outcome).Inc()
}

// UsageRecorded records units of usage charged against a quota.
func UsageRecorded(action string, amount int64) {
	QuotaUsageRecorded.WithLabelValues(action).Add(float64(amount))
}

// TrackingEvent records the result of an open or click callback.
func TrackingEvent(kind, result string) {
	TrackingEvents.WithLabelValues(kind, result).Inc()
}

// ArchiveFlushed records a written archive batch
func ArchiveFlushed(events int, duration time.Duration) {
	ArchiveEvents.WithLabelValues("written").Add(float64(events))
	ArchiveFlushDuration.Observe(duration.Seconds())
}

// ArchiveFailed records a batch that could not be written
func ArchiveFailed(events int) {
	ArchiveEvents.WithLabelValues("failed").Add(float64(events))
}

// ArchiveDropped records an event dropped because the buffer was full
func ArchiveDropped() {
	ArchiveEvents.WithLabelValues("dropped").Inc()
}

// RateLimited records a request that hit a per-client rate limit
func RateLimited(scope string) {
	RateLimitedRequests.WithLabelValues(scope).Inc()
}
