package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/safetrack/safetrack/internal/compose"
	"github.com/safetrack/safetrack/internal/errors"
	"github.com/safetrack/safetrack/internal/geo"
	"github.com/safetrack/safetrack/internal/geofence"
	"github.com/safetrack/safetrack/internal/logger"
	"github.com/safetrack/safetrack/internal/observability/metrics"
)

const (
	// DefaultCallTimeout bounds each compose and delivery call
	DefaultCallTimeout = 15 * time.Second
	// DefaultDedupTTL is how long a recorded alert ID is remembered
	DefaultDedupTTL = time.Hour

	panicMessage = "Panic button pressed!"
)

// OnlineSource reports connectivity and its changes
type OnlineSource interface {
	IsOnline() bool
	Subscribe() (<-chan bool, context.Context)
	Unsubscribe(ch <-chan bool)
}

// Config configures a Dispatcher
type Config struct {
	CallTimeout time.Duration
	DedupTTL    time.Duration
	// CircuitBreaker guards the composer; nil disables it
	CircuitBreaker *CircuitBreakerConfig
	Transports     []Transport
}

// Dispatcher turns transitions into one log entry per contact. Alerts wait in
// the queue while offline and a single worker drains them once online.
type Dispatcher struct {
	config     Config
	composer   compose.Composer
	transports []Transport
	queue      *Queue
	log        *Log
	online     OnlineSource
	breaker    *CircuitBreaker
	delivered  *cache.Cache
	metrics    *metrics.DispatchMetrics
	logger     logger.Logger

	drainMu sync.Mutex
	wake    chan struct{}

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	closed  bool
	wg      sync.WaitGroup
}

// NewDispatcher wires a dispatcher. m may be nil.
func NewDispatcher(config Config, composer compose.Composer, queue *Queue, log *Log, online OnlineSource, m *metrics.DispatchMetrics, lg logger.Logger) *Dispatcher {
	if lg == nil {
		lg = logger.Global().Module("notification")
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = DefaultCallTimeout
	}
	if config.DedupTTL <= 0 {
		config.DedupTTL = DefaultDedupTTL
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		config:     config,
		composer:   composer,
		transports: config.Transports,
		queue:      queue,
		log:        log,
		online:     online,
		delivered:  cache.New(config.DedupTTL, config.DedupTTL),
		metrics:    m,
		logger:     lg.Module("dispatch"),
		wake:       make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
	}
	// alerts recorded before a restart stay recorded
	for _, e := range log.List() {
		if e.AlertID != "" {
			d.delivered.Set(e.AlertID, struct{}{}, cache.NoExpiration)
		}
	}
	if config.CircuitBreaker != nil {
		d.breaker = NewCircuitBreaker("composer", *config.CircuitBreaker, m, lg)
	}
	m.SetQueueDepth(queue.Len())
	m.SetOnline(online.IsOnline())
	return d
}

// Queue returns the pending alert queue
func (d *Dispatcher) Queue() *Queue { return d.queue }

// Log returns the notification log
func (d *Dispatcher) Log() *Log { return d.log }

// Start launches the drain worker. It drains whatever was queued while the
// process was down, then on every wake-up and every transition to online.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true

	updates, subCtx := d.online.Subscribe()
	d.wg.Go(func() {
		defer d.online.Unsubscribe(updates)
		d.Drain(d.ctx)
		for {
			select {
			case <-d.ctx.Done():
				return
			case <-subCtx.Done():
				return
			case <-d.wake:
				d.Drain(d.ctx)
			case online := <-updates:
				d.metrics.SetOnline(online)
				if online {
					d.Drain(d.ctx)
				}
			}
		}
	})
	d.logger.Debug("dispatcher started", logger.Int("queued", d.queue.Len()))
}

// Close stops the worker and waits for the alert in flight
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.cancel()
	d.mu.Unlock()

	d.wg.Wait()
	d.delivered.Flush()
}

// Submit queues one alert per contact and wakes the worker when online.
// With no contacts nothing is queued.
func (d *Dispatcher) Submit(t geofence.Transition, contacts []Contact, userName string) []PendingAlert {
	if len(contacts) == 0 {
		d.logger.Debug("no contacts to alert", logger.String("geofence", t.Geofence.Name))
		return nil
	}

	now := time.Now()
	alerts := make([]PendingAlert, 0, len(contacts))
	for _, c := range contacts {
		alerts = append(alerts, PendingAlert{
			ID:         uuid.NewString(),
			Transition: t,
			Contact:    c,
			UserName:   userName,
			EnqueuedAt: now,
		})
	}
	d.queue.Push(alerts...)
	d.metrics.RecordSubmitted(len(alerts))
	d.metrics.SetQueueDepth(d.queue.Len())

	online := d.online.IsOnline()
	d.logger.Info("alerts queued",
		logger.String("geofence", t.Geofence.Name),
		logger.String("kind", string(t.Kind)),
		logger.Int("contacts", len(alerts)),
		logger.Bool("online", online))

	if online {
		select {
		case d.wake <- struct{}{}:
		default:
		}
	}
	return alerts
}

// Drain dispatches queued alerts oldest first while online and returns how
// many were recorded. Cancelling ctx stops it between alerts; the alert in
// flight completes.
func (d *Dispatcher) Drain(ctx context.Context) int {
	d.drainMu.Lock()
	defer d.drainMu.Unlock()

	n := 0
	for ctx.Err() == nil && d.online.IsOnline() {
		alert, ok := d.queue.Peek()
		if !ok {
			break
		}
		if _, seen := d.delivered.Get(alert.ID); seen {
			d.queue.Remove(alert.ID)
			d.metrics.RecordDuplicate()
			continue
		}

		alert.Attempts++
		entry := d.dispatch(ctx, alert)
		d.log.Append(entry)
		d.delivered.SetDefault(alert.ID, struct{}{})
		d.queue.Remove(alert.ID)
		n++
	}
	d.metrics.SetQueueDepth(d.queue.Len())
	return n
}

func (d *Dispatcher) dispatch(ctx context.Context, alert PendingAlert) Entry {
	// in-flight work outlives shutdown, bounded by the call timeout
	base := context.WithoutCancel(ctx)
	kind := KindFor(alert.Transition.Kind)
	log := d.logger.With(
		logger.String("alert_id", alert.ID),
		logger.String("contact", alert.Contact.Name),
		logger.String("geofence", alert.Transition.Geofence.Name))

	req := compose.Request{
		LocationName: alert.Transition.Geofence.Name,
		EventType:    alert.Transition.Kind,
		Time:         alert.Transition.OccurredAt,
		UserName:     alert.UserName,
		Relationship: alert.Contact.Relationship,
	}

	start := time.Now()
	msg, err := d.compose(base, req)
	d.metrics.ObserveCompose(time.Since(start))
	if err == nil {
		err = d.deliver(base, Message{
			AlertID:   alert.ID,
			Kind:      kind,
			Title:     kind.Title(),
			Body:      msg,
			Contact:   alert.Contact,
			Timestamp: alert.Transition.OccurredAt,
		})
	}

	if err != nil {
		reason := failureReason(err, d.config.CallTimeout)
		log.Warn("alert dispatch failed",
			logger.Int("attempts", alert.Attempts),
			logger.Duration("elapsed", time.Since(start)),
			logger.String("reason", reason))
		d.metrics.RecordDispatch(false)

		entry := newEntry(kind, fmt.Sprintf("Error generating alert for %s: %s", alert.Contact.Name, reason))
		entry.ContactID = alert.Contact.ID
		entry.AlertID = alert.ID
		entry.Failed = true
		return entry
	}

	log.Info("alert dispatched", logger.Duration("elapsed", time.Since(start)))
	d.metrics.RecordDispatch(true)
	entry := newEntry(kind, msg)
	entry.ContactID = alert.Contact.ID
	entry.AlertID = alert.ID
	return entry
}

func (d *Dispatcher) compose(base context.Context, req compose.Request) (string, error) {
	ctx, cancel := context.WithTimeout(base, d.config.CallTimeout)
	defer cancel()

	var msg string
	call := func(ctx context.Context) error {
		var err error
		msg, err = d.composer.Compose(ctx, req)
		if err == nil && ctx.Err() != nil {
			err = ctx.Err()
		}
		return err
	}
	if d.breaker != nil {
		return msg, d.breaker.Call(ctx, call)
	}
	return msg, call(ctx)
}

// deliver sends msg over every transport. It fails only when every
// transport failed.
func (d *Dispatcher) deliver(base context.Context, msg Message) error {
	if len(d.transports) == 0 {
		return nil
	}

	var errs []error
	for _, t := range d.transports {
		ctx, cancel := context.WithTimeout(base, d.config.CallTimeout)
		start := time.Now()
		err := t.Send(ctx, msg)
		cancel()
		d.metrics.RecordDelivery(t.Name(), err, time.Since(start))
		if err != nil {
			d.logger.Warn("transport delivery failed",
				logger.String("transport", t.Name()),
				logger.String("alert_id", msg.AlertID),
				logger.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
		}
	}
	if len(errs) == len(d.transports) {
		return errors.Join(errs...)
	}
	return nil
}

func failureReason(err error, timeout time.Duration) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("timed out after %s", timeout)
	case errors.Is(err, ErrCircuitBreakerOpen), errors.Is(err, ErrTooManyRequests):
		return "composition service unavailable"
	default:
		return errors.ScrubMessage(strings.ReplaceAll(err.Error(), "\n", "; "))
	}
}

// PanicMessage builds the panic entry text
func PanicMessage(sample *geo.Sample, contacts []Contact) string {
	var b strings.Builder
	b.WriteString(panicMessage)
	if sample != nil {
		fmt.Fprintf(&b, " Last known location: %.4f, %.4f", sample.Latitude, sample.Longitude)
	}
	if len(contacts) > 0 {
		names := make([]string, len(contacts))
		for i, c := range contacts {
			names[i] = c.Name
		}
		fmt.Fprintf(&b, " Alerting %s.", strings.Join(names, ", "))
	}
	return b.String()
}

// SubmitPanic records exactly one panic entry, independent of connectivity,
// and returns it. When online the text is also pushed to every transport in
// the background.
func (d *Dispatcher) SubmitPanic(sample *geo.Sample, contacts []Contact) Entry {
	entry := d.log.Append(newEntry(KindPanic, PanicMessage(sample, contacts)))
	d.metrics.RecordPanic()
	d.logger.Warn("panic button pressed", logger.Int("contacts", len(contacts)))

	if len(d.transports) == 0 || len(contacts) == 0 || !d.online.IsOnline() {
		return entry
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return entry
	}
	d.wg.Go(func() {
		for _, c := range contacts {
			err := d.deliver(d.ctx, Message{
				AlertID:   entry.ID,
				Kind:      KindPanic,
				Title:     KindPanic.Title(),
				Body:      entry.Message,
				Contact:   c,
				Timestamp: entry.Timestamp,
			})
			if err != nil {
				d.logger.Warn("panic broadcast failed",
					logger.String("contact", c.Name),
					logger.Error(err))
			}
		}
	})
	return entry
}
