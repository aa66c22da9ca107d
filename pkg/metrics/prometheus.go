// Package metrics provides Prometheus metrics for the telemetry service.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager owns every Prometheus collector of the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          atomic.Bool
	refreshInterval  time.Duration
	registry         prometheus.Registerer

	// Ingress
	envelopes        *prometheus.CounterVec
	identityLookups  *prometheus.CounterVec
	negativeHits     prometheus.Counter
	sessionsActive   prometheus.Gauge
	sessionsEvicted  prometheus.Counter
	processLatency   prometheus.Histogram
	eventsEmitted    prometheus.Counter
	handlerErrors    *prometheus.CounterVec
	gameEventsDedupe prometheus.Counter

	// Match lifecycle
	matchTransitions *prometheus.CounterVec
	resolverAttempts *prometheus.CounterVec
	predictions      *prometheus.CounterVec
	ratingAdjusted   prometheus.Counter

	// Background jobs
	jobQueueSize   prometheus.Gauge
	jobErrors      *prometheus.CounterVec
	jobLatency     prometheus.Histogram
	workerCount    prometheus.Gauge
	realtimeClient prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton recorder used by package-level helpers

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // avoids default Go collectors

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "dotabod",
		subsystem:        "gsi",
		histogramBuckets: prometheus.DefBuckets,
		refreshInterval:  defaultRefreshInterval,
		registry:         prometheus.DefaultRegisterer,
	}
	m.enabled.Store(true)
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	})
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	m.envelopes = m.counterVec("envelopes_total", "Telemetry envelopes received by result", "result")
	m.identityLookups = m.counterVec("identity_lookups_total", "Cold identity store lookups by result", "result")
	m.negativeHits = m.counter("negative_cache_hits_total", "Requests short-circuited by the invalid token cache")
	m.sessionsActive = m.gauge("sessions_active", "Sessions currently held in the registry")
	m.sessionsEvicted = m.counter("sessions_evicted_total", "Sessions evicted by the liveness sweeper")
	m.processLatency = m.histogram("envelope_processing_milliseconds", "Synchronous envelope processing time", m.histogramBuckets)
	m.eventsEmitted = m.counter("events_emitted_total", "Events emitted by the diff translator")
	m.handlerErrors = m.counterVec("handler_errors_total", "Event handler failures by event name", "event")
	m.gameEventsDedupe = m.counter("game_events_duplicate_total", "Game events dropped as already seen")

	m.matchTransitions = m.counterVec("match_transitions_total", "Match context transitions by target status", "status")
	m.resolverAttempts = m.counterVec("resolver_attempts_total", "External match-data resolver attempts", "phase", "result")
	m.predictions = m.counterVec("prediction_actions_total", "Prediction controller actions", "action")
	m.ratingAdjusted = m.counter("rating_adjustments_total", "Tracked rating adjustments after ranked matches")

	m.jobQueueSize = m.gauge("job_queue_size", "Background jobs waiting in the queue")
	m.jobErrors = m.counterVec("job_errors_total", "Background job failures by kind", "kind")
	m.jobLatency = m.histogram("job_latency_milliseconds", "Background job run time",
		[]float64{10, 50, 100, 500, 1000, 5000, 15000, 30000, 60000, 120000})
	m.workerCount = m.gauge("worker_count", "Background workers running")
	m.realtimeClient = m.gauge("realtime_connections", "Open realtime overlay connections")

	m.httpRequests = promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests by endpoint and method",
	}, []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_request_duration_milliseconds",
		Help:      "HTTP request duration in milliseconds",
		Buckets:   m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// RecordEnvelope counts one ingress request by result (ok, unauthorized, bad_request, error).
func RecordEnvelope(result string) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.envelopes.WithLabelValues(result).Inc()
}

// RecordIdentityLookup counts one cold identity lookup by result.
func RecordIdentityLookup(result string) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.identityLookups.WithLabelValues(result).Inc()
}

// RecordNegativeCacheHit counts a request rejected by the invalid token cache.
func RecordNegativeCacheHit() {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.negativeHits.Inc()
}

// UpdateSessionsActive sets the number of registered sessions.
func UpdateSessionsActive(count int) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.sessionsActive.Set(float64(count))
}

// RecordSessionEvicted counts one liveness eviction.
func RecordSessionEvicted() {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.sessionsEvicted.Inc()
}

// RecordProcessingLatency records envelope processing time in milliseconds.
func RecordProcessingLatency(latencyMs float64) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.processLatency.Observe(latencyMs)
}

// RecordEventsEmitted adds n translated events.
func RecordEventsEmitted(n int) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.eventsEmitted.Add(float64(n))
}

// RecordHandlerError counts a failed handler for event.
func RecordHandlerError(event string) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.handlerErrors.WithLabelValues(event).Inc()
}

// RecordGameEventDuplicate counts a game event dropped by dedupe.
func RecordGameEventDuplicate() {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.gameEventsDedupe.Inc()
}

// RecordMatchTransition counts a match context entering status.
func RecordMatchTransition(status string) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.matchTransitions.WithLabelValues(status).Inc()
}

// RecordResolverAttempt counts one resolver phase attempt.
func RecordResolverAttempt(phase, result string) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.resolverAttempts.WithLabelValues(phase, result).Inc()
}

// RecordPredictionAction counts a prediction controller action.
func RecordPredictionAction(action string) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.predictions.WithLabelValues(action).Inc()
}

// RecordRatingAdjusted counts a tracked rating update.
func RecordRatingAdjusted() {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.ratingAdjusted.Inc()
}

// UpdateJobQueueSize sets the number of queued background jobs.
func UpdateJobQueueSize(size int) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.jobQueueSize.Set(float64(size))
}

// RecordJobError counts a failed background job.
func RecordJobError(kind string) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.jobErrors.WithLabelValues(kind).Inc()
}

// RecordJobLatency records a background job run time in milliseconds.
func RecordJobLatency(latencyMs float64) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.jobLatency.Observe(latencyMs)
}

// UpdateWorkerCount sets the current worker count.
func UpdateWorkerCount(count int) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.workerCount.Set(float64(count))
}

// AddRealtimeConnections adjusts the open overlay connection gauge by delta.
func AddRealtimeConnections(delta int) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.realtimeClient.Add(float64(delta))
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// Configure applies runtime options to the global manager. Collectors are
// already registered, so only WithMetricsEnabled and WithRefreshInterval
// have an effect.
func Configure(opts ...Option) {
	for _, opt := range opts {
		opt(globalManager)
	}
}

// Enabled reports whether recorders update the collectors.
func Enabled() bool { return globalManager.enabled.Load() }

// RefreshInterval is how often derived gauges should be refreshed.
func RefreshInterval() time.Duration { return globalManager.refreshInterval }

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
