// Package metrics exposes Prometheus instrumentation for the API.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "caseflow",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	TimelineAppendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "caseflow",
			Name:      "timeline_append_failures_total",
			Help:      "Timeline entries that failed to persist after a committed mutation",
		},
	)

	DispatchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "caseflow",
			Name:      "dispatch_failures_total",
			Help:      "Side-effect dispatches (email, calendar, events) that failed",
		},
		[]string{"channel"},
	)

	DispatchCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "caseflow",
			Name:      "dispatch_total",
			Help:      "Side-effect dispatches attempted",
		},
		[]string{"channel"},
	)
)

func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

func IncrementTimelineAppendFailure() {
	TimelineAppendFailures.Inc()
}

func IncrementDispatch(channel string, failed bool) {
	DispatchCount.WithLabelValues(channel).Inc()
	if failed {
		DispatchFailures.WithLabelValues(channel).Inc()
	}
}
