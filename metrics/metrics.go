// Package metrics exposes the proxy's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsFiltered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushgate_requests_filtered_total",
			Help: "Requests seen by the proxy filter, by outcome",
		},
		[]string{"outcome"}, // allowed, blocked, error, invalid
	)

	filterDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pushgate_filter_duration_seconds",
			Help:    "Time spent classifying and chain-executing one request",
			Buckets: prometheus.DefBuckets,
		},
	)

	reviewTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushgate_review_transitions_total",
			Help: "Push review transitions, by kind",
		},
		[]string{"transition"}, // authorised, rejected, canceled
	)

	packBytesCaptured = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pushgate_pack_bytes_captured_total",
			Help: "Bytes of pack data buffered for inspection",
		},
	)
)

// RecordFilterOutcome counts one filtered request.
func RecordFilterOutcome(outcome string) {
	requestsFiltered.WithLabelValues(outcome).Inc()
}

// RecordFilterDuration observes one filter pass.
func RecordFilterDuration(seconds float64) {
	filterDuration.Observe(seconds)
}

// RecordReviewTransition counts one review state transition.
func RecordReviewTransition(transition string) {
	reviewTransitions.WithLabelValues(transition).Inc()
}

// RecordPackBytes counts pack bytes captured for inspection.
func RecordPackBytes(n int) {
	packBytesCaptured.Add(float64(n))
}
