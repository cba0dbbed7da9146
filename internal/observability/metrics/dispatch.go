package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DispatchMetrics contains metrics for alert composition and delivery.
// All methods are safe to call on a nil receiver.
type DispatchMetrics struct {
	AlertsSubmitted      prometheus.Counter       // pending alerts created
	DispatchTotal        *prometheus.CounterVec   // dispatched alerts by status: success, failure
	ComposeDuration      prometheus.Histogram     // composition latency
	DeliveriesTotal      *prometheus.CounterVec   // deliveries by transport and status
	DeliveryDuration     *prometheus.HistogramVec // delivery latency by transport
	QueueDepth           prometheus.Gauge         // pending alerts waiting for dispatch
	Online               prometheus.Gauge         // 1 when connectivity is available
	CircuitBreakerState  *prometheus.GaugeVec     // 0=closed, 1=half-open, 2=open
	PanicAlertsTotal     prometheus.Counter       // panic entries recorded
	DuplicatesSuppressed prometheus.Counter       // alerts skipped because they were already recorded
	registry             *prometheus.Registry
}

// NewDispatchMetrics creates and registers dispatch metrics
func NewDispatchMetrics(registry *prometheus.Registry) (*DispatchMetrics, error) {
	m := &DispatchMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register dispatch metrics: %w", err)
	}
	return m, nil
}

func (m *DispatchMetrics) initMetrics() {
	m.AlertsSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "safetrack_alerts_submitted_total",
		Help: "Total number of pending alerts created from geofence transitions",
	})
	m.DispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safetrack_alerts_dispatched_total",
			Help: "Total number of dispatched alerts by status",
		},
		[]string{"status"},
	)
	m.ComposeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "safetrack_compose_duration_seconds",
		Help:    "Time taken to compose an alert message",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})
	m.DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safetrack_alert_deliveries_total",
			Help: "Total number of alert deliveries by transport and status",
		},
		[]string{"transport", "status"},
	)
	m.DeliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "safetrack_alert_delivery_duration_seconds",
			Help:    "Time taken to deliver an alert by transport",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"transport"},
	)
	m.QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "safetrack_alert_queue_depth",
		Help: "Number of pending alerts waiting for dispatch",
	})
	m.Online = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "safetrack_online",
		Help: "Whether connectivity is available (1) or not (0)",
	})
	m.CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "safetrack_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
	m.PanicAlertsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "safetrack_panic_alerts_total",
		Help: "Total number of panic alerts recorded",
	})
	m.DuplicatesSuppressed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "safetrack_alert_duplicates_suppressed_total",
		Help: "Total number of queued alerts skipped because they were already recorded",
	})
}

// RecordSubmitted counts newly created pending alerts
func (m *DispatchMetrics) RecordSubmitted(n int) {
	if m == nil {
		return
	}
	m.AlertsSubmitted.Add(float64(n))
}

// RecordDispatch counts a dispatched alert
func (m *DispatchMetrics) RecordDispatch(success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	m.DispatchTotal.WithLabelValues(status).Inc()
}

// ObserveCompose records composition latency
func (m *DispatchMetrics) ObserveCompose(d time.Duration) {
	if m == nil {
		return
	}
	m.ComposeDuration.Observe(d.Seconds())
}

// RecordDelivery records a delivery attempt over transport
func (m *DispatchMetrics) RecordDelivery(transport string, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.DeliveriesTotal.WithLabelValues(transport, status).Inc()
	m.DeliveryDuration.WithLabelValues(transport).Observe(d.Seconds())
}

// SetQueueDepth updates the queue depth gauge
func (m *DispatchMetrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
}

// SetOnline updates the connectivity gauge
func (m *DispatchMetrics) SetOnline(online bool) {
	if m == nil {
		return
	}
	m.Online.Set(boolToFloat(online))
}

// UpdateCircuitBreakerState records the state of the named breaker
func (m *DispatchMetrics) UpdateCircuitBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordPanic counts a panic alert
func (m *DispatchMetrics) RecordPanic() {
	if m == nil {
		return
	}
	m.PanicAlertsTotal.Inc()
}

// RecordDuplicate counts a suppressed duplicate alert
func (m *DispatchMetrics) RecordDuplicate() {
	if m == nil {
		return
	}
	m.DuplicatesSuppressed.Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *DispatchMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.AlertsSubmitted.Describe(ch)
	m.DispatchTotal.Describe(ch)
	m.ComposeDuration.Describe(ch)
	m.DeliveriesTotal.Describe(ch)
	m.DeliveryDuration.Describe(ch)
	m.QueueDepth.Describe(ch)
	m.Online.Describe(ch)
	m.CircuitBreakerState.Describe(ch)
	m.PanicAlertsTotal.Describe(ch)
	m.DuplicatesSuppressed.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *DispatchMetrics) Collect(ch chan<- prometheus.Metric) {
	m.AlertsSubmitted.Collect(ch)
	m.DispatchTotal.Collect(ch)
	m.ComposeDuration.Collect(ch)
	m.DeliveriesTotal.Collect(ch)
	m.DeliveryDuration.Collect(ch)
	m.QueueDepth.Collect(ch)
	m.Online.Collect(ch)
	m.CircuitBreakerState.Collect(ch)
	m.PanicAlertsTotal.Collect(ch)
	m.DuplicatesSuppressed.Collect(ch)
}
