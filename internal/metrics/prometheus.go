// Package metrics provides Prometheus metrics collection for TrustSignal services
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustsignal",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"service", "method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trustsignal",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"service", "method", "path"},
	)

	httpRequestsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "trustsignal",
			Name:      "http_requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		},
		[]string{"service"},
	)
)

// Scoring metrics
var (
	scoringDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trustsignal",
			Name:      "scoring_duration_seconds",
			Help:      "End-to-end scoring pipeline latency in seconds",
			// Buckets chosen around the 100ms latency budget
			Buckets: []float64{0.005, 0.01, 0.02, 0.04, 0.06, 0.08, 0.1, 0.15, 0.25, 0.5, 1},
		},
		[]string{"use_case"},
	)

	riskScoreHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trustsignal",
			Name:      "risk_score",
			Help:      "Risk score distribution for scored requests",
			Buckets:   []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100}, // 0-100 scale
		},
		[]string{"use_case", "action"},
	)

	evaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustsignal",
			Name:      "evaluations_total",
			Help:      "Total number of scored requests",
		},
		[]string{"use_case", "action"},
	)

	degradedSignalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustsignal",
			Name:      "degraded_signals_total",
			Help:      "Evaluator signals that missed the soft deadline or failed and were scored neutral",
		},
		[]string{"signal"}, // device, geo, behavior, sim
	)

	simSwapDetectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustsignal",
			Name:      "sim_swap_detections_total",
			Help:      "SIM-swap engine flag activations",
		},
		[]string{"flag"},
	)
)

// Store and cache metrics
var (
	storeWriteConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustsignal",
			Name:      "store_write_conflicts_total",
			Help:      "Optimistic-concurrency conflicts on profile store writes, after retries",
		},
		[]string{"entity"}, // device_profile, baseline
	)

	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trustsignal",
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"service", "operation", "table"}, // operation: select, insert, update, delete
	)

	cacheOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustsignal",
			Name:      "cache_operations_total",
			Help:      "Total number of cache operations",
		},
		[]string{"service", "operation", "outcome"}, // operation: get, set, delete; outcome: hit, miss, error
	)
)

// Middleware returns a Gin middleware that records HTTP metrics.
// serviceName is used as the "service" label on all metrics.
func Middleware(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}

		// Skip metrics endpoint itself to avoid recursion
		if path == "/metrics" {
			c.Next()
			return
		}

		httpRequestsInFlight.WithLabelValues(serviceName).Inc()
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method

		httpRequestsTotal.WithLabelValues(serviceName, method, path, status).Inc()
		httpRequestDuration.WithLabelValues(serviceName, method, path).Observe(duration)
		httpRequestsInFlight.WithLabelValues(serviceName).Dec()
	}
}

// Handler returns a gin.HandlerFunc that serves Prometheus metrics.
// Register this on the "/metrics" route.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordEvaluation records one completed scoring pass.
func RecordEvaluation(useCase, action string, riskScore int, duration time.Duration) {
	evaluationsTotal.WithLabelValues(useCase, action).Inc()
	riskScoreHistogram.WithLabelValues(useCase, action).Observe(float64(riskScore))
	scoringDuration.WithLabelValues(useCase).Observe(duration.Seconds())
}

// RecordDegradedSignal records an evaluator that was scored neutral because
// it failed or missed the soft deadline.
func RecordDegradedSignal(signal string) {
	degradedSignalsTotal.WithLabelValues(signal).Inc()
}

// RecordSimSwapFlag records an activated SIM-swap flag.
func RecordSimSwapFlag(flag string) {
	simSwapDetectionsTotal.WithLabelValues(flag).Inc()
}

// RecordWriteConflict records an optimistic-concurrency conflict that
// survived retries.
func RecordWriteConflict(entity string) {
	storeWriteConflictsTotal.WithLabelValues(entity).Inc()
}

// RecordDBQuery records a database query duration
func RecordDBQuery(service, operation, table string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(service, operation, table).Observe(duration.Seconds())
}

// RecordCacheOperation records a cache operation
func RecordCacheOperation(service, operation, outcome string) {
	cacheOperationsTotal.WithLabelValues(service, operation, outcome).Inc()
}
