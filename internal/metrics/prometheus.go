package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics contains all Prometheus metrics for the ingest service
type PrometheusMetrics struct {
	// Ingest pipeline metrics
	BatchesReceivedTotal *prometheus.CounterVec
	LogRowsWrittenTotal  *prometheus.CounterVec
	EntriesDroppedTotal  *prometheus.CounterVec
	IngestDuration       *prometheus.HistogramVec

	// Snapshot aggregation metrics
	SnapshotUpdatesTotal *prometheus.CounterVec
	DeferredQueueDepth   prometheus.Gauge
	DeferredTasksDropped prometheus.Counter

	// Storage metrics
	DatabaseOperationsTotal   *prometheus.CounterVec
	DatabaseOperationDuration *prometheus.HistogramVec

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	ComponentHealth   *prometheus.GaugeVec
	MemoryUsage       prometheus.Gauge
	GoroutineCount    prometheus.Gauge
}

// NewPrometheusMetrics creates and registers all Prometheus metrics
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		BatchesReceivedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_batches_received_total",
				Help: "Total number of ingest batches received",
			},
			[]string{"status"},
		),

		LogRowsWrittenTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_log_rows_written_total",
				Help: "Total number of normalized log rows persisted",
			},
			[]string{"env"},
		),

		EntriesDroppedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_entries_dropped_total",
				Help: "Total number of log entries dropped during normalization",
			},
			[]string{"reason"},
		),

		IngestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_request_processing_duration_seconds",
				Help:    "Time spent on the synchronous part of an ingest request",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"env"},
		),

		SnapshotUpdatesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_snapshot_updates_total",
				Help: "Total number of dashboard snapshot updates",
			},
			[]string{"path", "status"},
		),

		DeferredQueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ingest_deferred_queue_depth",
				Help: "Number of deferred aggregation tasks waiting to run",
			},
		),

		DeferredTasksDropped: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_deferred_tasks_dropped_total",
				Help: "Deferred tasks dropped because the queue was full",
			},
		),

		DatabaseOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_database_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "table", "status"},
		),

		DatabaseOperationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_database_operation_duration_seconds",
				Help:    "Duration of database operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "table"},
		),

		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_http_requests_total",
				Help: "Total number of HTTP requests received",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ApplicationUptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ingest_application_uptime_seconds",
				Help: "Application uptime in seconds",
			},
		),

		ComponentHealth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ingest_component_health",
				Help: "Health status of application components (1=healthy, 0=unhealthy)",
			},
			[]string{"component"},
		),

		MemoryUsage: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ingest_memory_usage_bytes",
				Help: "Current memory usage in bytes",
			},
		),

		GoroutineCount: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ingest_goroutines",
				Help: "Number of running goroutines",
			},
		),
	}
}

// RecordBatchReceived records a received ingest batch
func (m *PrometheusMetrics) RecordBatchReceived(status string) {
	m.BatchesReceivedTotal.WithLabelValues(status).Inc()
}

// RecordLogRowsWritten records persisted log rows
func (m *PrometheusMetrics) RecordLogRowsWritten(env string, count int) {
	m.LogRowsWrittenTotal.WithLabelValues(env).Add(float64(count))
}

// RecordEntriesDropped records entries dropped during normalization
func (m *PrometheusMetrics) RecordEntriesDropped(reason string, count int) {
	if count > 0 {
		m.EntriesDroppedTotal.WithLabelValues(reason).Add(float64(count))
	}
}

// RecordIngestDuration records the synchronous ingest processing time
func (m *PrometheusMetrics) RecordIngestDuration(env string, duration time.Duration) {
	m.IngestDuration.WithLabelValues(env).Observe(duration.Seconds())
}

// RecordSnapshotUpdate records a dashboard snapshot update outcome
func (m *PrometheusMetrics) RecordSnapshotUpdate(path, status string) {
	m.SnapshotUpdatesTotal.WithLabelValues(path, status).Inc()
}

// RecordDatabaseOperation records a database operation
func (m *PrometheusMetrics) RecordDatabaseOperation(operation, table, status string, duration time.Duration) {
	m.DatabaseOperationsTotal.WithLabelValues(operation, table, status).Inc()
	m.DatabaseOperationDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordHTTPRequest records an HTTP request
func (m *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateApplicationUptime updates the application uptime metric
func (m *PrometheusMetrics) UpdateApplicationUptime(startTime time.Time) {
	m.ApplicationUptime.Set(time.Since(startTime).Seconds())
}

// UpdateComponentHealth updates the health status of a component
func (m *PrometheusMetrics) UpdateComponentHealth(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.ComponentHealth.WithLabelValues(component).Set(value)
}

// UpdateMemoryUsage updates the memory usage metric
func (m *PrometheusMetrics) UpdateMemoryUsage(bytes uint64) {
	m.MemoryUsage.Set(float64(bytes))
}

// UpdateGoroutineCount updates the goroutine count metric
func (m *PrometheusMetrics) UpdateGoroutineCount(count int) {
	m.GoroutineCount.Set(float64(count))
}

// UpdateDeferredQueueDepth updates the deferred task queue depth gauge
func (m *PrometheusMetrics) UpdateDeferredQueueDepth(depth int) {
	m.DeferredQueueDepth.Set(float64(depth))
}

// RecordDeferredTaskDropped records a deferred task dropped on a full queue
func (m *PrometheusMetrics) RecordDeferredTaskDropped() {
	m.DeferredTasksDropped.Inc()
}
