package position

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/safetrack/safetrack/internal/errors"
	"github.com/safetrack/safetrack/internal/geo"
	"github.com/safetrack/safetrack/internal/logger"
	"github.com/safetrack/safetrack/internal/mqtt"
	"github.com/safetrack/safetrack/internal/observability/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func quietLogger() logger.Logger {
	return logger.NewSlogLogger(nil, logger.LogLevelError, time.UTC)
}

func TestParseSample(t *testing.T) {
	t.Parallel()

	s, err := ParseSample([]byte(`{"latitude":60.1699,"longitude":24.9384,"timestamp":1714573800000}`))
	require.NoError(t, err)
	assert.InDelta(t, 60.1699, s.Latitude, 1e-9)
	assert.Equal(t, int64(1714573800000), s.Timestamp.UnixMilli())

	s, err = ParseSample([]byte(`{"latitude":0,"longitude":0}`))
	require.NoError(t, err, "zero coordinates are valid")
	assert.WithinDuration(t, time.Now(), s.Timestamp, time.Minute)

	for _, bad := range []string{`{`, `{"latitude":1}`, `{"latitude":91,"longitude":0}`, `{"latitude":0,"longitude":-181}`} {
		_, err := ParseSample([]byte(bad))
		require.Error(t, err, bad)
		assert.True(t, errors.IsCategory(err, errors.CategoryValidation), bad)
	}

	round, err := ParseSample(EncodeSample(geo.NewSample(1.5, -2.5, time.UnixMilli(1000))))
	require.NoError(t, err)
	assert.Equal(t, geo.Coordinate{Latitude: 1.5, Longitude: -2.5}, round.Coordinate)
}

func TestStatusError(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, StatusError("permission_denied", ""), ErrPermissionDenied)
	require.ErrorIs(t, StatusError(" PERMISSION_DENIED ", "user revoked"), ErrPermissionDenied)
	assert.True(t, errors.IsCategory(StatusError("permission_denied", ""), errors.CategoryPermission))
	require.ErrorIs(t, StatusError("unavailable", "no fix"), ErrPositionUnavailable)
	assert.NoError(t, StatusError("charging", ""))
}

func TestReplaySource(t *testing.T) {
	t.Parallel()

	data := []byte(`# morning walk
{"latitude":60.1699,"longitude":24.9384,"timestamp":1000}

{"latitude":60.1720,"longitude":24.9384,"timestamp":2000}
not json
{"code":"permission_denied","message":"revoked"}
{"latitude":60.1699,"longitude":24.9384,"timestamp":3000}
`)
	src := NewReplayReader(data, 0, quietLogger())
	samples, errs, err := src.Watch(t.Context())
	require.NoError(t, err)

	var got []int64
	var gotErrs []error
	for samples != nil || errs != nil {
		select {
		case s, ok := <-samples:
			if !ok {
				samples = nil
				continue
			}
			got = append(got, s.Timestamp.UnixMilli())
		case e, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			gotErrs = append(gotErrs, e)
		}
	}

	assert.Equal(t, []int64{1000, 2000, 3000}, got)
	require.Len(t, gotErrs, 1)
	require.ErrorIs(t, gotErrs[0], ErrPermissionDenied)
}

func TestReplaySource_StopsOnCancel(t *testing.T) {
	t.Parallel()

	data := []byte("{\"latitude\":1,\"longitude\":1}\n{\"latitude\":2,\"longitude\":2}\n")
	ctx, cancel := context.WithCancel(t.Context())
	samples, _, err := NewReplayReader(data, time.Hour, quietLogger()).Watch(ctx)
	require.NoError(t, err)

	<-samples
	cancel()
	_, open := <-samples
	assert.False(t, open)
}

func TestReplayFile_Missing(t *testing.T) {
	t.Parallel()

	_, _, err := NewReplayFile(filepath.Join(t.TempDir(), "nope.jsonl"), 0, quietLogger()).Watch(t.Context())
	require.Error(t, err)
}

func TestReplayFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "walk.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"latitude":1,"longitude":2}`+"\n"), 0o600))

	samples, _, err := NewReplayFile(path, 0, quietLogger()).Watch(t.Context())
	require.NoError(t, err)
	s := <-samples
	assert.Equal(t, geo.Coordinate{Latitude: 1, Longitude: 2}, s.Coordinate)
}

type fakeSubscriber struct {
	mu       sync.Mutex
	handlers map[string]mqtt.MessageHandler
	failOn   string
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{handlers: map[string]mqtt.MessageHandler{}}
}

func (f *fakeSubscriber) Subscribe(_ context.Context, topic string, h mqtt.MessageHandler) error {
	if topic == f.failOn {
		return errors.NewStd("subscribe refused")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = h
	return nil
}

func (f *fakeSubscriber) Unsubscribe(_ context.Context, topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, topic)
	return nil
}

func (f *fakeSubscriber) deliver(topic, payload string) bool {
	f.mu.Lock()
	h := f.handlers[topic]
	f.mu.Unlock()
	if h == nil {
		return false
	}
	h(topic, []byte(payload))
	return true
}

func (f *fakeSubscriber) topics() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

func TestMQTTSource(t *testing.T) {
	t.Parallel()

	sub := newFakeSubscriber()
	cfg := MQTTConfig{TopicPrefix: "safetrack", DeviceID: "phone"}
	assert.Equal(t, "safetrack/phone/location", cfg.LocationTopic())
	assert.Equal(t, "safetrack/phone/status", cfg.StatusTopic())

	ctx, cancel := context.WithCancel(t.Context())
	samples, errs, err := NewMQTTSource(sub, cfg, nil, quietLogger()).Watch(ctx)
	require.NoError(t, err)

	require.True(t, sub.deliver(cfg.LocationTopic(), `{"latitude":60.1,"longitude":24.9,"timestamp":5000}`))
	require.True(t, sub.deliver(cfg.LocationTopic(), `garbage`))
	require.True(t, sub.deliver(cfg.StatusTopic(), `{"code":"permission_denied"}`))

	s := <-samples
	assert.Equal(t, int64(5000), s.Timestamp.UnixMilli())
	require.ErrorIs(t, <-errs, ErrPermissionDenied)

	cancel()
	for range samples {
	}
	require.Eventually(t, func() bool { return sub.topics() == 0 }, time.Second, 5*time.Millisecond)

	// late messages after shutdown are ignored
	assert.False(t, sub.deliver(cfg.LocationTopic(), `{"latitude":1,"longitude":1}`))
}

func TestMQTTSource_SlowConsumerDropsOldest(t *testing.T) {
	t.Parallel()

	m, err := metrics.NewMQTTMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	sub := newFakeSubscriber()
	cfg := MQTTConfig{TopicPrefix: "p", DeviceID: "d"}

	ctx, cancel := context.WithCancel(t.Context())
	samples, _, err := NewMQTTSource(sub, cfg, m, quietLogger()).Watch(ctx)
	require.NoError(t, err)

	for i := range sampleBuffer + 1 {
		require.True(t, sub.deliver(cfg.LocationTopic(), fmt.Sprintf(`{"latitude":%d,"longitude":1}`, i)))
	}
	assert.InDelta(t, 1, testutil.ToFloat64(m.MessagesReceived.WithLabelValues("dropped")), 0)
	assert.InDelta(t, 1, (<-samples).Latitude, 0, "oldest sample was discarded")

	cancel()
	for range samples {
	}
}

func TestMQTTSource_SubscribeFailure(t *testing.T) {
	t.Parallel()

	sub := newFakeSubscriber()
	cfg := MQTTConfig{TopicPrefix: "p", DeviceID: "d"}
	sub.failOn = cfg.StatusTopic()

	_, _, err := NewMQTTSource(sub, cfg, nil, quietLogger()).Watch(t.Context())
	require.Error(t, err)
	assert.Zero(t, sub.topics(), "location subscription rolled back")
}

func TestMQTTSource_ReportsSilence(t *testing.T) {
	t.Parallel()

	sub := newFakeSubscriber()
	cfg := MQTTConfig{TopicPrefix: "p", DeviceID: "d", SampleTimeout: 30 * time.Millisecond}
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	_, errs, err := NewMQTTSource(sub, cfg, nil, quietLogger()).Watch(ctx)
	require.NoError(t, err)

	select {
	case e := <-errs:
		require.ErrorIs(t, e, ErrPositionUnavailable)
	case <-time.After(2 * time.Second):
		t.Fatal("silence not reported")
	}
}

func TestFeed(t *testing.T) {
	t.Parallel()

	f := NewFeed()
	assert.False(t, f.Push(geo.NewSample(1, 1, time.Now())), "nobody watching")

	ctx, cancel := context.WithCancel(t.Context())
	samples, errs, err := f.Watch(ctx)
	require.NoError(t, err)
	assert.True(t, f.Watching())

	require.True(t, f.Push(geo.NewSample(2, 2, time.Now())))
	require.True(t, f.Fail(ErrPermissionDenied))
	assert.InDelta(t, 2, (<-samples).Latitude, 0)
	require.ErrorIs(t, <-errs, ErrPermissionDenied)

	cancel()
	_, open := <-samples
	assert.False(t, open)
	require.Eventually(t, func() bool { return !f.Watching() }, time.Second, 5*time.Millisecond)
}

func TestFeed_SlowWatcherDropsOldest(t *testing.T) {
	t.Parallel()

	f := NewFeed()
	ctx, cancel := context.WithCancel(t.Context())
	samples, _, err := f.Watch(ctx)
	require.NoError(t, err)

	for i := range sampleBuffer + 2 {
		require.True(t, f.Push(geo.NewSample(float64(i), 1, time.Now())))
	}
	assert.Equal(t, 2, f.Dropped())
	assert.InDelta(t, 2, (<-samples).Latitude, 0)

	cancel()
	for range samples {
	}
}
