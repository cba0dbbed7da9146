// Package tracking runs the position stream through geofence evaluation and
// hands transitions to the notification dispatcher.
package tracking

import (
	"context"
	"sync"

	"github.com/safetrack/safetrack/internal/errors"
	"github.com/safetrack/safetrack/internal/geo"
	"github.com/safetrack/safetrack/internal/geofence"
	"github.com/safetrack/safetrack/internal/logger"
	"github.com/safetrack/safetrack/internal/notification"
	"github.com/safetrack/safetrack/internal/observability/metrics"
	"github.com/safetrack/safetrack/internal/position"
)

// State is the controller's run state
type State int

const (
	Stopped State = iota
	Tracking
)

func (s State) String() string {
	if s == Tracking {
		return "tracking"
	}
	return "stopped"
}

// Sample outcomes recorded in metrics
const (
	outcomeEvaluated = "evaluated"
	outcomeOffline   = "skipped_offline"
)

// Evaluator detects transitions for one sample
type Evaluator interface {
	Process(sample geo.Sample) []geofence.Transition
}

// Submitter accepts transitions for notification
type Submitter interface {
	Submit(t geofence.Transition, contacts []notification.Contact, userName string) []notification.PendingAlert
}

// OnlineChecker reports connectivity
type OnlineChecker interface {
	IsOnline() bool
}

// Config wires a Controller
type Config struct {
	Source     position.Source
	Detector   Evaluator
	Dispatcher Submitter
	Online     OnlineChecker
	Profile    func() notification.Profile
	Metrics    *metrics.TrackingMetrics
	Logger     logger.Logger

	// OnStateChange is called after every state change with the cause, nil
	// for requested changes
	OnStateChange func(state State, cause error)
	// OnSample is called with every received sample
	OnSample func(sample geo.Sample)
	// OnTransitions is called after a sample produced transitions
	OnTransitions func(transitions []geofence.Transition)
}

// Controller owns the position subscription. Samples are processed one at a
// time on a single goroutine.
type Controller struct {
	config Config
	logger logger.Logger

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}

	lastMu sync.RWMutex
	last   *geo.Sample

	errs chan error
}

const errorBuffer = 8

// New creates a stopped controller
func New(config Config) *Controller {
	log := config.Logger
	if log == nil {
		log = logger.Global().Module("tracking")
	}
	if config.Profile == nil {
		config.Profile = notification.DefaultProfile
	}
	return &Controller{config: config, logger: log, errs: make(chan error, errorBuffer)}
}

// State returns the current state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsTracking reports whether the controller is tracking
func (c *Controller) IsTracking() bool {
	return c.State() == Tracking
}

// LastKnownLocation returns the latest sample, or nil before the first one
func (c *Controller) LastKnownLocation() *geo.Sample {
	c.lastMu.RLock()
	defer c.lastMu.RUnlock()
	if c.last == nil {
		return nil
	}
	s := *c.last
	return &s
}

// SetLastKnownLocation seeds the last known location, e.g. from a manual fix
func (c *Controller) SetLastKnownLocation(s geo.Sample) {
	c.lastMu.Lock()
	defer c.lastMu.Unlock()
	c.last = &s
}

// Errors surfaces source errors that stopped tracking
func (c *Controller) Errors() <-chan error {
	return c.errs
}

// Start subscribes to the source. Starting while tracking is a no-op.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state == Tracking {
		c.mu.Unlock()
		return nil
	}

	watchCtx, cancel := context.WithCancel(ctx)
	samples, errs, err := c.config.Source.Watch(watchCtx)
	if err != nil {
		cancel()
		c.mu.Unlock()
		c.config.Metrics.RecordSourceError(string(errors.CategoryOf(err)))
		return errors.New(err).
			Component("tracking").
			Category(errors.CategoryOf(err)).
			Context("operation", "start").
			Build()
	}

	done := make(chan struct{})
	c.state = Tracking
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	c.config.Metrics.SetTracking(true)
	c.logger.Info("tracking started")
	c.notifyState(Tracking, nil)

	go c.run(samples, errs, done)
	return nil
}

// Stop cancels the subscription and waits for the loop to exit. Alerts
// already handed to the dispatcher are unaffected. Stopping while stopped is
// a no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.state == Stopped {
		c.mu.Unlock()
		return
	}
	cancel, done := c.cancel, c.done
	c.state = Stopped
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	cancel()
	<-done

	c.config.Metrics.SetTracking(false)
	c.logger.Info("tracking stopped")
	c.notifyState(Stopped, nil)
}

func (c *Controller) run(samples <-chan geo.Sample, errs <-chan error, done chan struct{}) {
	defer close(done)

	for samples != nil || errs != nil {
		select {
		case s, ok := <-samples:
			if !ok {
				samples = nil
				continue
			}
			c.handleSample(s)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if c.handleError(err, done) {
				return
			}
		}
	}

	// source exhausted
	if c.stopFromLoop(done) {
		c.logger.Info("position source ended")
		c.notifyState(Stopped, nil)
	}
}

func (c *Controller) handleSample(s geo.Sample) {
	c.SetLastKnownLocation(s)
	if c.config.OnSample != nil {
		c.config.OnSample(s)
	}

	if !c.config.Online.IsOnline() {
		c.config.Metrics.RecordSample(outcomeOffline)
		c.logger.Debug("offline, sample not evaluated")
		return
	}

	c.config.Metrics.RecordSample(outcomeEvaluated)
	transitions := c.config.Detector.Process(s)
	if len(transitions) == 0 {
		return
	}

	if c.config.OnTransitions != nil {
		c.config.OnTransitions(transitions)
	}
	profile := c.config.Profile()
	for _, t := range transitions {
		c.config.Dispatcher.Submit(t, profile.Contacts, profile.Name)
	}
}

// handleError reports whether the loop must exit
func (c *Controller) handleError(err error, done chan struct{}) bool {
	c.config.Metrics.RecordSourceError(string(errors.CategoryOf(err)))

	if !errors.Is(err, position.ErrPermissionDenied) {
		c.logger.Warn("position source error", logger.Error(err))
		return false
	}

	c.logger.Error("location permission denied, tracking stopped", logger.Error(err))
	if !c.stopFromLoop(done) {
		return true
	}
	select {
	case c.errs <- err:
	default:
		c.logger.Warn("error channel full, dropping permission error")
	}
	c.notifyState(Stopped, err)
	return true
}

// stopFromLoop moves to Stopped unless Stop already did, reporting whether
// this call made the change
func (c *Controller) stopFromLoop(done chan struct{}) bool {
	c.mu.Lock()
	if c.done != done {
		c.mu.Unlock()
		return false
	}
	cancel := c.cancel
	c.state = Stopped
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	cancel()
	c.config.Metrics.SetTracking(false)
	return true
}

func (c *Controller) notifyState(state State, cause error) {
	if c.config.OnStateChange != nil {
		c.config.OnStateChange(state, cause)
	}
}
