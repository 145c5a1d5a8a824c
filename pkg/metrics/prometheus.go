// Package metrics provides Prometheus metrics for the jobboard service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the jobboard service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      map[string]string
	registry         prometheus.Registerer

	// Change-feed sessions
	sessionsActive  *prometheus.GaugeVec
	sessionsOpened  *prometheus.CounterVec
	feedEventsSent  *prometheus.CounterVec
	dedupSuppressed prometheus.Counter
	feedErrors      *prometheus.CounterVec

	// Bid ledger
	bidAttempts  prometheus.Counter
	bidCommits   prometheus.Counter
	bidConflicts prometheus.Counter
	bidFailures  *prometheus.CounterVec
	bidLatency   prometheus.Histogram

	// Broadcast
	broadcastDeliveries prometheus.Counter
	broadcastFailures   prometheus.Counter
	registrySize        prometheus.Gauge
	relayMessages       *prometheus.CounterVec

	// Outbound socket queues
	outboundEnqueued prometheus.Counter
	outboundDropped  prometheus.Counter

	// Document store
	storeOpLatency    *prometheus.HistogramVec
	storeNotifyEvents prometheus.Counter

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	errorRateByComponent *prometheus.CounterVec

	// System Performance Metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "jobboard",
		subsystem:        "feed",
		histogramBuckets: prometheus.DefBuckets,
		constLabels:      make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every metric
	auto := promauto.With(m.registry)

	m.sessionsActive = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: m.constLabels,
		Name: "sessions_active",
		Help: "Currently open socket sessions by route",
	}, []string{"route"})
	m.sessionsOpened = m.counterVec("sessions_opened_total", "Socket sessions opened by route", "route")
	m.feedEventsSent = m.counterVec("events_sent_total", "Change-feed events sent to clients by type", "type")
	m.dedupSuppressed = m.counter("dedup_suppressed_total", "Added events dropped because the document was already sent")
	m.feedErrors = m.counterVec("errors_sent_total", "Error events sent to clients by route", "route")

	m.bidAttempts = m.counter("bid_tx_attempts_total", "Bid transaction attempts, including retries")
	m.bidCommits = m.counter("bid_tx_commits_total", "Bid transactions committed")
	m.bidConflicts = m.counter("bid_tx_conflicts_total", "Bid transaction attempts aborted by a write conflict")
	m.bidFailures = m.counterVec("bid_failures_total", "Bid submissions that failed by error kind", "kind")
	m.bidLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: m.constLabels,
		Name:    "bid_submit_latency_milliseconds",
		Help:    "End to end bid submission latency in milliseconds",
		Buckets: m.histogramBuckets,
	})

	m.broadcastDeliveries = m.counter("broadcast_deliveries_total", "new_bid events delivered to sessions")
	m.broadcastFailures = m.counter("broadcast_failures_total", "new_bid deliveries that failed and pruned the member")
	m.registrySize = m.gauge("registry_size", "Bid sessions registered for broadcast")
	m.relayMessages = m.counterVec("relay_messages_total", "Bids relayed across instances by direction", "direction")

	m.outboundEnqueued = m.counter("outbound_enqueued_total", "Frames queued for socket writers")
	m.outboundDropped = m.counter("outbound_dropped_total", "Frames rejected because a socket queue was full or closed")

	m.storeOpLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: m.constLabels,
		Name:    "store_operation_latency_milliseconds",
		Help:    "Document store operation latency in milliseconds",
		Buckets: m.histogramBuckets,
	}, []string{"backend", "op"})
	m.storeNotifyEvents = m.counter("store_notifications_total", "Change notifications received from the document store")

	m.httpRequests = m.counterVec("http_requests_total",
		"Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: m.constLabels,
		Name:    "http_request_duration_milliseconds",
		Help:    "HTTP request duration in milliseconds",
		Buckets: m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.errorRateByComponent = m.counterVec("errors_by_component_total",
		"Total number of errors by component", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: m.constLabels,
		Name:    "system_gc_pause_time_milliseconds",
		Help:    "GC pause time in milliseconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
	})
}

// Session metrics.

// RecordSessionOpened counts a new session on route.
func RecordSessionOpened(route string) {
	globalManager.sessionsOpened.WithLabelValues(route).Inc()
	globalManager.sessionsActive.WithLabelValues(route).Inc()
}

// RecordSessionClosed marks a session on route as gone.
func RecordSessionClosed(route string) {
	globalManager.sessionsActive.WithLabelValues(route).Dec()
}

// RecordEventSent counts an outbound change-feed event.
func RecordEventSent(eventType string) {
	globalManager.feedEventsSent.WithLabelValues(eventType).Inc()
}

// RecordDedupSuppressed counts an added event dropped by the dedup tracker.
func RecordDedupSuppressed() {
	globalManager.dedupSuppressed.Inc()
}

// RecordFeedError counts an error event sent on route.
func RecordFeedError(route string) {
	globalManager.feedErrors.WithLabelValues(route).Inc()
}

// Bid metrics.

// RecordBidAttempt counts one transaction attempt.
func RecordBidAttempt() { globalManager.bidAttempts.Inc() }

// RecordBidCommit counts a committed bid.
func RecordBidCommit() { globalManager.bidCommits.Inc() }

// RecordBidConflict counts an attempt aborted by contention.
func RecordBidConflict() { globalManager.bidConflicts.Inc() }

// RecordBidFailure counts a submission that failed with kind.
func RecordBidFailure(kind string) {
	globalManager.bidFailures.WithLabelValues(kind).Inc()
}

// RecordBidLatency records submission latency in milliseconds.
func RecordBidLatency(latencyMs float64) {
	globalManager.bidLatency.Observe(latencyMs)
}

// Broadcast metrics.

// RecordBroadcast records the outcome of one broadcast.
func RecordBroadcast(delivered, failed int) {
	globalManager.broadcastDeliveries.Add(float64(delivered))
	globalManager.broadcastFailures.Add(float64(failed))
}

// UpdateRegistrySize sets the number of registered bid sessions.
func UpdateRegistrySize(n int) {
	globalManager.registrySize.Set(float64(n))
}

// RecordRelayMessage counts a relayed bid; direction is "out", "in" or
// "fallback" for events delivered locally after a failed publish.
func RecordRelayMessage(direction string) {
	globalManager.relayMessages.WithLabelValues(direction).Inc()
}

// Queue metrics.

// RecordOutboundEnqueue counts a frame accepted by a socket queue.
func RecordOutboundEnqueue() { globalManager.outboundEnqueued.Inc() }

// RecordOutboundDrop counts a frame a socket queue refused.
func RecordOutboundDrop() { globalManager.outboundDropped.Inc() }

// Store metrics.

// RecordStoreLatency records the latency of a store operation.
func RecordStoreLatency(backend, op string, latencyMs float64) {
	globalManager.storeOpLatency.WithLabelValues(backend, op).Observe(latencyMs)
}

// RecordStoreNotification counts a change notification from the store.
func RecordStoreNotification() { globalManager.storeNotifyEvents.Inc() }

// HTTP metrics.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// System Performance Metrics Functions.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
