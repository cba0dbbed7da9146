package observability

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_RegistersCollectors(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	m.Tracking.RecordSample("evaluated")
	m.Tracking.RecordTransition("arrival")
	m.Tracking.RecordTransition("arrival")
	m.Dispatch.RecordDispatch(false)
	m.Dispatch.SetQueueDepth(3)
	m.Dispatch.RecordDelivery("shoutrrr", errors.New("x"), 10*time.Millisecond)
	m.MQTT.UpdateConnectionStatus(true)
	m.Datastore.RecordFallback("safeTrackGeofences", "version")

	assert.InDelta(t, 2, testutil.ToFloat64(m.Tracking.TransitionsTotal.WithLabelValues("arrival")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Dispatch.DispatchTotal.WithLabelValues("failure")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.Dispatch.QueueDepth), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.MQTT.ConnectionStatus), 0)

	server := httptest.NewServer(m.Handler())
	t.Cleanup(server.Close)

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	for _, name := range []string{
		"safetrack_geofence_transitions_total",
		"safetrack_alerts_dispatched_total",
		"safetrack_alert_queue_depth",
		"safetrack_mqtt_connection_status",
		"safetrack_datastore_fallbacks_total",
		"go_goroutines",
	} {
		assert.True(t, strings.Contains(text, name), "missing %s", name)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	t.Parallel()

	var m Metrics
	assert.NotPanics(t, func() {
		m.Tracking.RecordSample("evaluated")
		m.Tracking.SetTracking(true)
		m.Dispatch.RecordPanic()
		m.Dispatch.SetOnline(false)
		m.MQTT.RecordReceived("location")
		m.Datastore.RecordOperation("load", "k", nil, time.Millisecond)
	})
}
