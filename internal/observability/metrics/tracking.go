// Package metrics provides Prometheus collectors for SafeTrack components.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// TrackingMetrics contains metrics for position processing and geofence evaluation.
// All methods are safe to call on a nil receiver.
type TrackingMetrics struct {
	SamplesTotal       *prometheus.CounterVec // samples by outcome: evaluated, skipped_offline
	TransitionsTotal   *prometheus.CounterVec // geofence transitions by kind
	SourceErrorsTotal  *prometheus.CounterVec // source errors by category
	TrackingActive     prometheus.Gauge       // 1 while tracking
	GeofencesMonitored prometheus.Gauge       // number of configured geofences
	registry           *prometheus.Registry
}

// NewTrackingMetrics creates and registers tracking metrics
func NewTrackingMetrics(registry *prometheus.Registry) (*TrackingMetrics, error) {
	m := &TrackingMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register tracking metrics: %w", err)
	}
	return m, nil
}

func (m *TrackingMetrics) initMetrics() {
	m.SamplesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safetrack_position_samples_total",
			Help: "Total number of position samples received by outcome",
		},
		[]string{"outcome"},
	)
	m.TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safetrack_geofence_transitions_total",
			Help: "Total number of geofence boundary crossings by kind",
		},
		[]string{"kind"},
	)
	m.SourceErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safetrack_position_source_errors_total",
			Help: "Total number of position source errors by category",
		},
		[]string{"category"},
	)
	m.TrackingActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "safetrack_tracking_active",
		Help: "Whether position tracking is active (1) or stopped (0)",
	})
	m.GeofencesMonitored = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "safetrack_geofences",
		Help: "Number of configured geofences",
	})
}

// RecordSample counts a sample with its outcome
func (m *TrackingMetrics) RecordSample(outcome string) {
	if m == nil {
		return
	}
	m.SamplesTotal.WithLabelValues(outcome).Inc()
}

// RecordTransition counts a geofence transition
func (m *TrackingMetrics) RecordTransition(kind string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(kind).Inc()
}

// RecordSourceError counts a position source error
func (m *TrackingMetrics) RecordSourceError(category string) {
	if m == nil {
		return
	}
	m.SourceErrorsTotal.WithLabelValues(category).Inc()
}

// SetTracking updates the tracking gauge
func (m *TrackingMetrics) SetTracking(active bool) {
	if m == nil {
		return
	}
	m.TrackingActive.Set(boolToFloat(active))
}

// SetGeofenceCount updates the geofence gauge
func (m *TrackingMetrics) SetGeofenceCount(n int) {
	if m == nil {
		return
	}
	m.GeofencesMonitored.Set(float64(n))
}

// Describe implements the prometheus.Collector interface.
func (m *TrackingMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.SamplesTotal.Describe(ch)
	m.TransitionsTotal.Describe(ch)
	m.SourceErrorsTotal.Describe(ch)
	m.TrackingActive.Describe(ch)
	m.GeofencesMonitored.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *TrackingMetrics) Collect(ch chan<- prometheus.Metric) {
	m.SamplesTotal.Collect(ch)
	m.TransitionsTotal.Collect(ch)
	m.SourceErrorsTotal.Collect(ch)
	m.TrackingActive.Collect(ch)
	m.GeofencesMonitored.Collect(ch)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
