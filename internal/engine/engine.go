// Package engine owns the SafeTrack state: geofences, profile, notification
// log, pending alerts and the tracking controller. A UI or the CLI holds one
// Engine and talks to it through its methods.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/safetrack/safetrack/internal/compose"
	"github.com/safetrack/safetrack/internal/conf"
	"github.com/safetrack/safetrack/internal/connectivity"
	"github.com/safetrack/safetrack/internal/datastore"
	"github.com/safetrack/safetrack/internal/errors"
	"github.com/safetrack/safetrack/internal/geo"
	"github.com/safetrack/safetrack/internal/geofence"
	"github.com/safetrack/safetrack/internal/logger"
	"github.com/safetrack/safetrack/internal/notification"
	"github.com/safetrack/safetrack/internal/observability"
	"github.com/safetrack/safetrack/internal/observability/metrics"
	"github.com/safetrack/safetrack/internal/position"
	"github.com/safetrack/safetrack/internal/tracking"
)

// persistTimeout bounds each record write
const persistTimeout = 5 * time.Second

// Options wires an Engine. Settings, KV and Source are required.
type Options struct {
	Settings *conf.Settings
	KV       datastore.KV
	Source   position.Source

	// Monitor defaults to a monitor in Settings.Connectivity.AssumeOnline state
	Monitor *connectivity.Monitor
	// Composer defaults to the template composer built from Settings.Compose
	Composer   compose.Composer
	Transports []notification.Transport
	Metrics    *observability.Metrics
	Logger     logger.Logger
}

// Engine is the explicitly owned application state
type Engine struct {
	settings *conf.Settings
	kv       datastore.KV
	metrics  *observability.Metrics
	logger   logger.Logger

	store       *geofence.Store
	monitor     *connectivity.Monitor
	ownsMonitor bool
	log         *notification.Log
	queue       *notification.Queue
	dispatcher  *notification.Dispatcher
	controller  *tracking.Controller

	profileMu sync.RWMutex
	profile   notification.Profile

	// fenceMu orders geofence snapshots written to the KV
	fenceMu sync.Mutex

	runCtx    context.Context
	runCancel context.CancelFunc
	closing   atomic.Bool
	closeOnce sync.Once
}

// New restores persisted state and starts the dispatcher. Tracking resumes
// when it was enabled at the last shutdown and Settings.Tracking.ResumeOnStart
// is set.
func New(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Settings == nil || opts.KV == nil || opts.Source == nil {
		return nil, errors.Newf("engine requires settings, a datastore and a position source").
			Component("engine").
			Category(errors.CategoryConfiguration).
			Build()
	}
	log := opts.Logger
	if log == nil {
		log = logger.Global().Module("engine")
	}
	settings := opts.Settings

	store, err := geofence.NewStore(geofence.Config{
		MinRadius: settings.Geofence.MinRadius,
		MaxRadius: settings.Geofence.MaxRadius,
	})
	if err != nil {
		return nil, err
	}

	composer := opts.Composer
	if composer == nil {
		composer, err = compose.NewTemplateComposer(settings.Compose.Arrival, settings.Compose.Departure)
		if err != nil {
			return nil, err
		}
	}

	e := &Engine{
		settings: settings,
		metrics:  opts.Metrics,
		logger:   log,
		store:    store,
		monitor:  opts.Monitor,
		log:      notification.NewLog(settings.Notification.MaxLogEntries, log),
		queue:    notification.NewQueue(),
	}
	e.kv = datastore.Instrument(opts.KV, e.datastoreMetrics())
	if e.monitor == nil {
		e.monitor = connectivity.NewMonitor(settings.Connectivity.AssumeOnline, log)
		e.ownsMonitor = true
	}
	e.runCtx, e.runCancel = context.WithCancel(context.WithoutCancel(ctx))

	restored := e.restore(ctx)

	e.log.SetOnChange(func(entries []notification.Entry) {
		persist(e, logsRecord, entries)
	})
	e.queue.SetPersist(func(alerts []notification.PendingAlert) {
		persist(e, pendingRecord, alerts)
	})

	var breaker *notification.CircuitBreakerConfig
	if cb := settings.Notification.CircuitBreaker; cb.Enabled {
		breaker = &notification.CircuitBreakerConfig{
			MaxFailures:         cb.MaxFailures,
			Timeout:             cb.Timeout,
			HalfOpenMaxRequests: cb.HalfOpenMaxRequests,
		}
	}
	e.dispatcher = notification.NewDispatcher(notification.Config{
		CallTimeout:    settings.Notification.CallTimeout,
		DedupTTL:       settings.Notification.DedupTTL,
		CircuitBreaker: breaker,
		Transports:     opts.Transports,
	}, composer, e.queue, e.log, e.monitor, e.dispatchMetrics(), log)

	var recorder geofence.TransitionRecorder
	if tm := e.trackingMetrics(); tm != nil {
		recorder = tm
	}
	e.controller = tracking.New(tracking.Config{
		Source:        opts.Source,
		Detector:      geofence.NewDetector(store, log, recorder),
		Dispatcher:    e.dispatcher,
		Online:        e.monitor,
		Profile:       e.Profile,
		Metrics:       e.trackingMetrics(),
		Logger:        log,
		OnStateChange: e.onTrackingState,
		OnTransitions: func([]geofence.Transition) { e.persistGeofences() },
	})

	if restored.location.Sample != nil {
		e.controller.SetLastKnownLocation(*restored.location.Sample)
	}
	e.dispatcher.Start()

	if restored.tracking.Enabled && settings.Tracking.ResumeOnStart {
		if err := e.controller.Start(e.runCtx); err != nil {
			e.logger.Warn("could not resume tracking", logger.Error(err))
			persist(e, trackingRecord, TrackingState{Enabled: false})
		}
	}

	e.logger.Info("engine ready",
		logger.Int("geofences", store.Len()),
		logger.Int("log_entries", e.log.Len()),
		logger.Int("pending_alerts", e.queue.Len()),
		logger.Bool("tracking", e.controller.IsTracking()),
		logger.Bool("online", e.monitor.IsOnline()))
	return e, nil
}

type restoredState struct {
	tracking TrackingState
	location LocationState
}

// restore loads every record, falling back to defaults, and returns the
// state the controller needs once it exists
func (e *Engine) restore(ctx context.Context) restoredState {
	profile := load(ctx, e, profileRecord(e.settings.User))
	profile.Normalize()
	e.profile = profile
	// seeded contacts get IDs here; store them so they stay stable
	persist(e, profileRecord(e.settings.User), profile)

	fences := load(ctx, e, geofencesRecord)
	if skipped := e.store.Restore(fences); skipped > 0 {
		e.logger.Warn("skipped invalid persisted geofences", logger.Int("skipped", skipped))
		e.datastoreMetrics().RecordFallback(KeyGeofences, datastore.ReasonInvalid)
	}
	e.trackingMetrics().SetGeofenceCount(e.store.Len())

	entries := load(ctx, e, logsRecord)
	e.log.Restore(entries)
	pending := load(ctx, e, pendingRecord)
	if unrecorded := notification.Unrecorded(pending, entries); len(unrecorded) < len(pending) {
		e.logger.Warn("dropped pending alerts that were already recorded",
			logger.Int("dropped", len(pending)-len(unrecorded)))
		pending = unrecorded
		persist(e, pendingRecord, pending)
	}
	e.queue.Restore(pending)

	return restoredState{
		tracking: load(ctx, e, trackingRecord),
		location: load(ctx, e, locationRecord),
	}
}

func load[T any](ctx context.Context, e *Engine, r datastore.Record[T]) T {
	v, err := r.Load(ctx, e.kv)
	if err != nil {
		reason := datastore.FallbackReason(err)
		e.logger.Warn("persisted record unusable, using defaults",
			logger.String("key", r.Key),
			logger.String("reason", reason),
			logger.Error(err))
		e.datastoreMetrics().RecordFallback(r.Key, reason)
	}
	return v
}

// persist writes v and logs failures; state in memory stays authoritative
func persist[T any](e *Engine, r datastore.Record[T], v T) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := r.Save(ctx, e.kv, v); err != nil {
		e.logger.Warn("failed to persist record",
			logger.String("key", r.Key),
			logger.Error(err))
	}
}

func (e *Engine) persistGeofences() {
	e.fenceMu.Lock()
	defer e.fenceMu.Unlock()
	persist(e, geofencesRecord, e.store.List())
	e.trackingMetrics().SetGeofenceCount(e.store.Len())
}

func (e *Engine) onTrackingState(state tracking.State, cause error) {
	if e.closing.Load() {
		return
	}
	if cause != nil {
		e.logger.Warn("tracking stopped by position source", logger.Error(cause))
	}
	persist(e, trackingRecord, TrackingState{Enabled: state == tracking.Tracking})
}

// Geofences returns the fences in creation order
func (e *Engine) Geofences() []geofence.Geofence {
	return e.store.List()
}

// AddGeofence creates a fence centered on the last known location. Without a
// location it fails with geofence.ErrLocationUnavailable.
func (e *Engine) AddGeofence(name string, radius float64) (geofence.Geofence, error) {
	var center *geo.Coordinate
	if last := e.controller.LastKnownLocation(); last != nil {
		center = &last.Coordinate
	}
	g, err := e.store.Add(name, radius, center)
	if err != nil {
		return geofence.Geofence{}, err
	}
	e.logger.Info("geofence added",
		logger.String("id", g.ID),
		logger.String("name", g.Name),
		logger.Float64("radius", g.Radius))
	e.persistGeofences()
	return g, nil
}

// RemoveGeofence deletes a fence, reporting whether it existed
func (e *Engine) RemoveGeofence(id string) bool {
	if !e.store.Remove(id) {
		return false
	}
	e.logger.Info("geofence removed", logger.String("id", id))
	e.persistGeofences()
	return true
}

// Notifications returns the log, newest first
func (e *Engine) Notifications() []notification.Entry {
	return e.log.List()
}

// SubscribeNotifications streams new log entries until UnsubscribeNotifications
func (e *Engine) SubscribeNotifications() (<-chan notification.Entry, context.Context) {
	return e.log.Subscribe()
}

// UnsubscribeNotifications ends a subscription
func (e *Engine) UnsubscribeNotifications(ch <-chan notification.Entry) {
	e.log.Unsubscribe(ch)
}

// PendingAlerts returns alerts waiting for connectivity, oldest first
func (e *Engine) PendingAlerts() []notification.PendingAlert {
	return e.queue.Snapshot()
}

// LastKnownLocation returns the latest position, or nil if none was observed
func (e *Engine) LastKnownLocation() *geo.Sample {
	return e.controller.LastKnownLocation()
}

// SetLocation records a manually supplied position as the last known location
func (e *Engine) SetLocation(s geo.Sample) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}
	e.controller.SetLastKnownLocation(s)
	persist(e, locationRecord, LocationState{Sample: &s})
	return nil
}

// SetTracking starts or stops tracking and persists the toggle. The
// subscription lives until Stop or Close; ctx only bounds the call.
func (e *Engine) SetTracking(ctx context.Context, enabled bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !enabled {
		e.controller.Stop()
		return nil
	}
	return e.controller.Start(e.runCtx)
}

// IsTracking reports whether tracking is active
func (e *Engine) IsTracking() bool {
	return e.controller.IsTracking()
}

// TrackingErrors surfaces errors that stopped tracking, such as a revoked
// location permission
func (e *Engine) TrackingErrors() <-chan error {
	return e.controller.Errors()
}

// IsOnline reports connectivity
func (e *Engine) IsOnline() bool {
	return e.monitor.IsOnline()
}

// Monitor returns the connectivity monitor so probes and transports can
// report into it
func (e *Engine) Monitor() *connectivity.Monitor {
	return e.monitor
}

// Panic records a panic entry synchronously with the last known location and
// the current contacts
func (e *Engine) Panic() notification.Entry {
	return e.dispatcher.SubmitPanic(e.controller.LastKnownLocation(), e.Profile().Contacts)
}

// Profile returns a copy of the user's profile
func (e *Engine) Profile() notification.Profile {
	e.profileMu.RLock()
	defer e.profileMu.RUnlock()
	p := e.profile
	p.Contacts = append([]notification.Contact(nil), e.profile.Contacts...)
	return p
}

// UpdateProfile validates and stores p. Contacts without an ID get one.
func (e *Engine) UpdateProfile(p notification.Profile) (notification.Profile, error) {
	p.Contacts = append([]notification.Contact(nil), p.Contacts...)
	p.Normalize()
	if err := p.Validate(); err != nil {
		return notification.Profile{}, err
	}

	e.profileMu.Lock()
	e.profile = p
	e.profileMu.Unlock()

	e.logger.Info("profile updated", logger.Int("contacts", len(p.Contacts)))
	persist(e, profileRecord(e.settings.User), p)
	return e.Profile(), nil
}

// Close stops tracking without clearing the persisted toggle, saves the last
// known location, waits for the dispatcher and releases the monitor if the
// engine created it. The KV is left open for its owner.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.closing.Store(true)
		e.controller.Stop()
		if last := e.controller.LastKnownLocation(); last != nil {
			persist(e, locationRecord, LocationState{Sample: last})
		}
		e.dispatcher.Close()
		e.runCancel()
		if e.ownsMonitor {
			e.monitor.Close()
		}
		e.logger.Info("engine closed")
	})
}

func (e *Engine) trackingMetrics() *metrics.TrackingMetrics {
	if e.metrics == nil {
		return nil
	}
	return e.metrics.Tracking
}

func (e *Engine) dispatchMetrics() *metrics.DispatchMetrics {
	if e.metrics == nil {
		return nil
	}
	return e.metrics.Dispatch
}

func (e *Engine) datastoreMetrics() *metrics.DatastoreMetrics {
	if e.metrics == nil {
		return nil
	}
	return e.metrics.Datastore
}
