package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DatastoreMetrics contains metrics for persisted record operations.
// All methods are safe to call on a nil receiver.
type DatastoreMetrics struct {
	OperationsTotal   *prometheus.CounterVec   // by operation, record key, status
	OperationDuration *prometheus.HistogramVec // by operation
	FallbacksTotal    *prometheus.CounterVec   // records replaced by defaults, by key and reason
	registry          *prometheus.Registry
}

// NewDatastoreMetrics creates and registers datastore metrics
func NewDatastoreMetrics(registry *prometheus.Registry) (*DatastoreMetrics, error) {
	m := &DatastoreMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register datastore metrics: %w", err)
	}
	return m, nil
}

func (m *DatastoreMetrics) initMetrics() {
	m.OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safetrack_datastore_operations_total",
			Help: "Total number of record operations by operation, key and status",
		},
		[]string{"operation", "key", "status"},
	)
	m.OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "safetrack_datastore_operation_duration_seconds",
			Help:    "Duration of record operations",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"operation"},
	)
	m.FallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safetrack_datastore_fallbacks_total",
			Help: "Total number of records replaced by defaults by key and reason",
		},
		[]string{"key", "reason"},
	)
}

// RecordOperation records one load or save
func (m *DatastoreMetrics) RecordOperation(operation, key string, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.OperationsTotal.WithLabelValues(operation, key, status).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordFallback counts a record that fell back to its default
func (m *DatastoreMetrics) RecordFallback(key, reason string) {
	if m == nil {
		return
	}
	m.FallbacksTotal.WithLabelValues(key, reason).Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *DatastoreMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.OperationsTotal.Describe(ch)
	m.OperationDuration.Describe(ch)
	m.FallbacksTotal.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *DatastoreMetrics) Collect(ch chan<- prometheus.Metric) {
	m.OperationsTotal.Collect(ch)
	m.OperationDuration.Collect(ch)
	m.FallbacksTotal.Collect(ch)
}
