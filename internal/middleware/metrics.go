package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	progressionAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "progression_attempts_total",
			Help: "Total number of progression attempts by proof kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	broadcastFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_failures_total",
			Help: "Total number of failed session update publishes",
		},
	)

	availabilityCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "availability_calls_total",
			Help: "Total number of availability signal lookups",
		},
		[]string{"status"},
	)
)

// MetricsMiddleware collects Prometheus metrics for every HTTP request.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		httpRequestsInFlight.Inc()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unknown"
		}

		c.Next()

		httpRequestsInFlight.Dec()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		httpRequestsTotal.WithLabelValues(c.Request.Method, endpoint, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, endpoint).Observe(duration)
	}
}

// RecordProgression records one progression attempt. Kind is "scan",
// "answer", "skip" or "start"; outcome is the mapped reason or "ok".
func RecordProgression(kind, outcome string) {
	progressionAttemptsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordBroadcastFailure counts a swallowed publish failure.
func RecordBroadcastFailure() {
	broadcastFailuresTotal.Inc()
}

// RecordAvailabilityCall records an availability lookup result, "error" when
// the upstream was unreachable.
func RecordAvailabilityCall(status string) {
	availabilityCallsTotal.WithLabelValues(status).Inc()
}
