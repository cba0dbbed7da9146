package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MQTTMetrics contains all Prometheus metrics related to MQTT operations.
// All methods are safe to call on a nil receiver.
type MQTTMetrics struct {
	ConnectionStatus  prometheus.Gauge
	MessagesReceived  *prometheus.CounterVec // by kind: location, status, dropped
	MessagesDelivered prometheus.Counter
	Errors            *prometheus.CounterVec // by operation
	LastConnectTime   prometheus.Gauge
	PublishLatency    prometheus.Histogram
	registry          *prometheus.Registry
}

// NewMQTTMetrics creates and registers MQTT metrics
func NewMQTTMetrics(registry *prometheus.Registry) (*MQTTMetrics, error) {
	m := &MQTTMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register MQTT metrics: %w", err)
	}
	return m, nil
}

func (m *MQTTMetrics) initMetrics() {
	m.ConnectionStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "safetrack_mqtt_connection_status",
		Help: "Current MQTT connection status (1 for connected, 0 for disconnected)",
	})
	m.MessagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safetrack_mqtt_messages_received_total",
			Help: "Total number of MQTT messages received by topic kind",
		},
		[]string{"kind"},
	)
	m.MessagesDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "safetrack_mqtt_messages_delivered_total",
		Help: "Total number of MQTT messages successfully published",
	})
	m.Errors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safetrack_mqtt_errors_total",
			Help: "Total number of MQTT errors by operation",
		},
		[]string{"operation"},
	)
	m.LastConnectTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "safetrack_mqtt_last_connect_time_seconds",
		Help: "Timestamp of the last successful MQTT connection",
	})
	m.PublishLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "safetrack_mqtt_publish_latency_seconds",
		Help:    "Latency of MQTT publish operations in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})
}

// UpdateConnectionStatus updates the connection gauge and last connect time
func (m *MQTTMetrics) UpdateConnectionStatus(connected bool) {
	if m == nil {
		return
	}
	m.ConnectionStatus.Set(boolToFloat(connected))
	if connected {
		m.LastConnectTime.SetToCurrentTime()
	}
}

// RecordReceived counts an incoming message
func (m *MQTTMetrics) RecordReceived(kind string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(kind).Inc()
}

// RecordPublish records a publish outcome and its latency
func (m *MQTTMetrics) RecordPublish(err error, d time.Duration) {
	if m == nil {
		return
	}
	m.PublishLatency.Observe(d.Seconds())
	if err != nil {
		m.Errors.WithLabelValues("publish").Inc()
		return
	}
	m.MessagesDelivered.Inc()
}

// RecordError counts an error for operation
func (m *MQTTMetrics) RecordError(operation string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(operation).Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *MQTTMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.ConnectionStatus.Describe(ch)
	m.MessagesReceived.Describe(ch)
	m.MessagesDelivered.Describe(ch)
	m.Errors.Describe(ch)
	m.LastConnectTime.Describe(ch)
	m.PublishLatency.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *MQTTMetrics) Collect(ch chan<- prometheus.Metric) {
	m.ConnectionStatus.Collect(ch)
	m.MessagesReceived.Collect(ch)
	m.MessagesDelivered.Collect(ch)
	m.Errors.Collect(ch)
	m.LastConnectTime.Collect(ch)
	m.PublishLatency.Collect(ch)
}
