package tracking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/safetrack/safetrack/internal/connectivity"
	"github.com/safetrack/safetrack/internal/errors"
	"github.com/safetrack/safetrack/internal/geo"
	"github.com/safetrack/safetrack/internal/geofence"
	"github.com/safetrack/safetrack/internal/logger"
	"github.com/safetrack/safetrack/internal/notification"
	"github.com/safetrack/safetrack/internal/position"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var home = geo.Coordinate{Latitude: 60.1699, Longitude: 24.9384}

type submission struct {
	transition geofence.Transition
	contacts   []notification.Contact
	userName   string
}

type recordingSubmitter struct {
	mu   sync.Mutex
	subs []submission
}

func (r *recordingSubmitter) Submit(t geofence.Transition, contacts []notification.Contact, userName string) []notification.PendingAlert {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, submission{t, contacts, userName})
	return nil
}

func (r *recordingSubmitter) All() []submission {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]submission(nil), r.subs...)
}

type stateLog struct {
	mu     sync.Mutex
	states []State
	causes []error
}

func (s *stateLog) record(state State, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, state)
	s.causes = append(s.causes, cause)
}

func (s *stateLog) States() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]State(nil), s.states...)
}

type fixture struct {
	ctrl      *Controller
	feed      *position.Feed
	store     *geofence.Store
	monitor   *connectivity.Monitor
	submitter *recordingSubmitter
	states    *stateLog
}

func newFixture(t *testing.T, online bool) *fixture {
	t.Helper()

	log := logger.NewSlogLogger(nil, logger.LogLevelError, time.UTC)
	store, err := geofence.NewStore(geofence.DefaultConfig())
	require.NoError(t, err)

	f := &fixture{
		feed:      position.NewFeed(),
		store:     store,
		monitor:   connectivity.NewMonitor(online, log),
		submitter: &recordingSubmitter{},
		states:    &stateLog{},
	}
	t.Cleanup(f.monitor.Close)

	profile := notification.Profile{
		Name:     "Alex",
		Contacts: []notification.Contact{{ID: "c1", Name: "Mom", Relationship: "Mother"}},
	}
	f.ctrl = New(Config{
		Source:        f.feed,
		Detector:      geofence.NewDetector(store, log, nil),
		Dispatcher:    f.submitter,
		Online:        f.monitor,
		Profile:       func() notification.Profile { return profile },
		Logger:        log,
		OnStateChange: f.states.record,
	})
	t.Cleanup(f.ctrl.Stop)
	return f
}

func (f *fixture) addHome(t *testing.T) geofence.Geofence {
	t.Helper()
	g, err := f.store.Add("Home", 200, &home)
	require.NoError(t, err)
	return g
}

func farAway(ts time.Time) geo.Sample {
	return geo.NewSample(home.Latitude+0.05, home.Longitude, ts)
}

func TestController_StartStopIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	assert.Equal(t, Stopped, f.ctrl.State())

	require.NoError(t, f.ctrl.Start(t.Context()))
	require.NoError(t, f.ctrl.Start(t.Context()))
	assert.True(t, f.ctrl.IsTracking())
	assert.True(t, f.feed.Watching())

	f.ctrl.Stop()
	f.ctrl.Stop()
	assert.False(t, f.ctrl.IsTracking())
	assert.Eventually(t, func() bool { return !f.feed.Watching() }, time.Second, 5*time.Millisecond)

	assert.Equal(t, []State{Tracking, Stopped}, f.states.States())
}

func TestController_DepartureSubmitted(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	fence := f.addHome(t)
	require.NoError(t, f.ctrl.Start(t.Context()))

	ts := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	require.True(t, f.feed.Push(farAway(ts)))

	require.Eventually(t, func() bool { return len(f.submitter.All()) == 1 }, time.Second, 5*time.Millisecond)
	sub := f.submitter.All()[0]
	assert.Equal(t, geofence.Departure, sub.transition.Kind)
	assert.Equal(t, fence.ID, sub.transition.Geofence.ID)
	assert.Equal(t, "Alex", sub.userName)
	require.Len(t, sub.contacts, 1)
	assert.Equal(t, "Mom", sub.contacts[0].Name)

	last := f.ctrl.LastKnownLocation()
	require.NotNil(t, last)
	assert.Equal(t, ts, last.Timestamp)

	stored, err := f.store.Get(fence.ID)
	require.NoError(t, err)
	assert.False(t, stored.Inside)
}

func TestController_InsideSampleProducesNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	f.addHome(t)
	require.NoError(t, f.ctrl.Start(t.Context()))

	f.feed.Push(geo.NewSample(home.Latitude, home.Longitude, time.Now()))
	require.Eventually(t, func() bool { return f.ctrl.LastKnownLocation() != nil }, time.Second, 5*time.Millisecond)

	f.ctrl.Stop()
	assert.Empty(t, f.submitter.All())
}

func TestController_OfflineSamplesNotEvaluated(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	fence := f.addHome(t)
	require.NoError(t, f.ctrl.Start(t.Context()))

	f.feed.Push(farAway(time.Now()))
	require.Eventually(t, func() bool { return f.ctrl.LastKnownLocation() != nil }, time.Second, 5*time.Millisecond)

	f.ctrl.Stop()
	assert.Empty(t, f.submitter.All())
	stored, err := f.store.Get(fence.ID)
	require.NoError(t, err)
	assert.True(t, stored.Inside, "containment is untouched while offline")
}

func TestController_PermissionDeniedStops(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	require.NoError(t, f.ctrl.Start(t.Context()))

	denied := position.StatusError(position.StatusPermissionDenied, "user revoked access")
	require.True(t, f.feed.Fail(denied))

	select {
	case err := <-f.ctrl.Errors():
		assert.ErrorIs(t, err, position.ErrPermissionDenied)
		assert.True(t, errors.IsCategory(err, errors.CategoryPermission))
	case <-time.After(time.Second):
		t.Fatal("permission error not surfaced")
	}

	require.Eventually(t, func() bool { return !f.ctrl.IsTracking() }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(f.states.States()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []State{Tracking, Stopped}, f.states.States())

	// restartable after the user grants access again
	require.NoError(t, f.ctrl.Start(t.Context()))
	assert.True(t, f.ctrl.IsTracking())
}

func TestController_TransientErrorKeepsTracking(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	f.addHome(t)
	require.NoError(t, f.ctrl.Start(t.Context()))

	f.feed.Fail(position.ErrPositionUnavailable)
	f.feed.Push(farAway(time.Now()))

	require.Eventually(t, func() bool { return len(f.submitter.All()) == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, f.ctrl.IsTracking())
	select {
	case err := <-f.ctrl.Errors():
		t.Fatalf("unexpected surfaced error: %v", err)
	default:
	}
}

func TestController_SourceEndStops(t *testing.T) {
	t.Parallel()

	log := logger.NewSlogLogger(nil, logger.LogLevelError, time.UTC)
	store, err := geofence.NewStore(geofence.DefaultConfig())
	require.NoError(t, err)
	_, err = store.Add("Home", 200, &home)
	require.NoError(t, err)

	replay := position.NewReplayReader([]byte(
		`{"latitude":60.1699,"longitude":24.9384,"timestamp":1000}`+"\n"+
			`{"latitude":60.2199,"longitude":24.9384,"timestamp":2000}`+"\n"), 0, log)

	monitor := connectivity.NewMonitor(true, log)
	defer monitor.Close()

	sub := &recordingSubmitter{}
	ctrl := New(Config{
		Source:     replay,
		Detector:   geofence.NewDetector(store, log, nil),
		Dispatcher: sub,
		Online:     monitor,
		Logger:     log,
	})
	require.NoError(t, ctrl.Start(t.Context()))

	require.Eventually(t, func() bool { return !ctrl.IsTracking() }, 2*time.Second, 5*time.Millisecond)
	require.Len(t, sub.All(), 1)
	assert.Equal(t, geofence.Departure, sub.All()[0].transition.Kind)
	assert.Equal(t, "User", sub.All()[0].userName, "default profile used without a provider")
}

type failingSource struct{ err error }

func (s failingSource) Watch(context.Context) (<-chan geo.Sample, <-chan error, error) {
	return nil, nil, s.err
}

func TestController_StartFailure(t *testing.T) {
	t.Parallel()

	log := logger.NewSlogLogger(nil, logger.LogLevelError, time.UTC)
	ctrl := New(Config{Source: failingSource{position.ErrPermissionDenied}, Logger: log})

	err := ctrl.Start(t.Context())
	require.Error(t, err)
	assert.ErrorIs(t, err, position.ErrPermissionDenied)
	assert.False(t, ctrl.IsTracking())
}

func TestController_ParentContextCancelEndsLoop(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	ctx, cancel := context.WithCancel(t.Context())
	require.NoError(t, f.ctrl.Start(ctx))

	cancel()
	require.Eventually(t, func() bool { return !f.ctrl.IsTracking() }, time.Second, 5*time.Millisecond)
}

func TestState_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "tracking", Tracking.String())
	assert.Equal(t, "stopped", Stopped.String())
}
