package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediremind_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediremind_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	tasksScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediremind_tasks_scheduled_total",
			Help: "Total tasks scheduled by task type and channel",
		},
		[]string{"task_type", "channel"},
	)

	tasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediremind_tasks_processed_total",
			Help: "Total task dispatch outcomes by status and channel",
		},
		[]string{"status", "channel"},
	)

	deliveryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediremind_delivery_latency_seconds",
			Help:    "Time spent delivering one notification",
			Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"channel"},
	)

	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediremind_active_workers",
			Help: "Delivery goroutines currently in flight",
		},
	)

	channelRateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediremind_channel_rate_limited_total",
			Help: "Dispatches deferred by the per-channel rate limiter",
		},
		[]string{"channel"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mediremind_circuit_breaker_state",
			Help: "Circuit breaker state per channel (0=closed, 1=open, 2=half-open)",
		},
		[]string{"channel"},
	)

	deadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediremind_dead_lettered_total",
			Help: "Tasks moved to the dead letter queue by failure type",
		},
		[]string{"failure_type"},
	)

	idempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mediremind_idempotency_hits_total",
			Help: "Schedule requests served from the idempotency cache",
		},
	)

	rateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mediremind_rate_limit_rejections_total",
			Help: "HTTP requests rejected by the API rate limiter",
		},
	)

	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediremind_db_connections_active",
			Help: "Active database connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordTaskScheduled records a new task entering the schedule
func RecordTaskScheduled(taskType, channel string) {
	tasksScheduled.WithLabelValues(taskType, channel).Inc()
}

// RecordTaskProcessed records one dispatch outcome
func RecordTaskProcessed(status, channel string) {
	tasksProcessed.WithLabelValues(status, channel).Inc()
}

// RecordDeliveryLatency records how long one send took
func RecordDeliveryLatency(channel string, latency time.Duration) {
	deliveryLatency.WithLabelValues(channel).Observe(latency.Seconds())
}

// SetActiveWorkers sets the in-flight delivery goroutine count
func SetActiveWorkers(count int) {
	activeWorkers.Set(float64(count))
}

// RecordChannelRateLimited records a dispatch deferred by the channel limiter
func RecordChannelRateLimited(channel string) {
	channelRateLimited.WithLabelValues(channel).Inc()
}

// SetBreakerState sets the gauge for one channel's circuit breaker
func SetBreakerState(channel string, state int) {
	breakerState.WithLabelValues(channel).Set(float64(state))
}

// RecordDeadLettered records a task landing in the dead letter queue
func RecordDeadLettered(failureType string) {
	deadLettered.WithLabelValues(failureType).Inc()
}

// RecordIdempotencyHit records a cache hit for idempotency
func RecordIdempotencyHit() {
	idempotencyHits.Inc()
}

// RecordRateLimitRejection records an API rate limit rejection
func RecordRateLimitRejection() {
	rateLimitRejections.Inc()
}

// SetDBConnections sets active database connection count
func SetDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
