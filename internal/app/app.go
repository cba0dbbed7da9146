// Package app assembles a running SafeTrack process from settings: the
// datastore, MQTT connection, message composer, delivery transports, position
// source, engine, connectivity probe and HTTP API.
package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/safetrack/safetrack/internal/api"
	"github.com/safetrack/safetrack/internal/compose"
	"github.com/safetrack/safetrack/internal/conf"
	"github.com/safetrack/safetrack/internal/connectivity"
	"github.com/safetrack/safetrack/internal/datastore"
	"github.com/safetrack/safetrack/internal/engine"
	"github.com/safetrack/safetrack/internal/errors"
	"github.com/safetrack/safetrack/internal/httpclient"
	"github.com/safetrack/safetrack/internal/logger"
	"github.com/safetrack/safetrack/internal/mqtt"
	"github.com/safetrack/safetrack/internal/notification"
	"github.com/safetrack/safetrack/internal/observability"
	"github.com/safetrack/safetrack/internal/position"
)

const (
	initialConnectBackoff = time.Second
	maxConnectBackoff     = time.Minute
)

// Options adjusts how New assembles the process
type Options struct {
	// OneShot builds an engine for a single CLI operation: no MQTT
	// connection, no tracking resume and a manual position feed.
	OneShot bool
	// Source replaces the configured position source
	Source position.Source
	// KV replaces the configured datastore. It is not closed by Close.
	KV     datastore.KV
	Logger logger.Logger
}

// App is an assembled process. Engine is ready for use once New returns;
// Run starts the network-facing parts.
type App struct {
	Settings *conf.Settings
	Engine   *engine.Engine
	Metrics  *observability.Metrics
	// Feed is the manual position feed, nil unless it is the tracking source
	Feed *position.Feed

	kv      datastore.KV
	ownsKV  bool
	client  *httpclient.Client
	mqtt    mqtt.Client
	monitor *connectivity.Monitor
	logger  logger.Logger
}

// New builds every component described by settings and creates the engine.
// Close releases whatever New acquired, including on partial failure.
func New(ctx context.Context, settings *conf.Settings, opts Options) (a *App, err error) {
	if settings == nil {
		return nil, errors.Newf("settings are required").
			Component("app").
			Category(errors.CategoryConfiguration).
			Build()
	}
	log := opts.Logger
	if log == nil {
		log = logger.Global().Module("app")
	}

	a = &App{Settings: settings, logger: log}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	if a.Metrics, err = observability.NewMetrics(); err != nil {
		return a, err
	}
	if err = a.openDatastore(opts); err != nil {
		return a, err
	}

	a.client = httpclient.New(nil)
	a.monitor = connectivity.NewMonitor(settings.Connectivity.AssumeOnline, log.Module("connectivity"))

	if settings.MQTT.Enabled && !opts.OneShot {
		if err = a.newMQTTClient(); err != nil {
			return a, err
		}
	}

	composer, err := compose.New(&settings.Compose, a.client, log.Module("compose"))
	if err != nil {
		return a, err
	}
	transports, err := a.buildTransports()
	if err != nil {
		return a, err
	}

	source := opts.Source
	if source == nil {
		source = a.buildSource(opts.OneShot)
	}
	if feed, ok := source.(*position.Feed); ok {
		a.Feed = feed
	}

	engineSettings := settings
	if opts.OneShot {
		copied := *settings
		copied.Tracking.ResumeOnStart = false
		engineSettings = &copied
	}

	a.Engine, err = engine.New(ctx, engine.Options{
		Settings:   engineSettings,
		KV:         a.kv,
		Source:     source,
		Monitor:    a.monitor,
		Composer:   composer,
		Transports: transports,
		Metrics:    a.Metrics,
		Logger:     log,
	})
	if err != nil {
		return a, err
	}

	log.Info("safetrack assembled",
		logger.String("datastore", settings.Datastore.Type),
		logger.String("source", sourceName(source)),
		logger.Int("transports", len(transports)),
		logger.Bool("mqtt", a.mqtt != nil))
	return a, nil
}

func (a *App) openDatastore(opts Options) error {
	if opts.KV != nil {
		a.kv = opts.KV
		return nil
	}
	switch a.Settings.Datastore.Type {
	case "memory":
		a.kv = datastore.NewMemoryStore()
	default:
		store, err := datastore.OpenSQLite(a.Settings.Datastore.Path, a.logger.Module("datastore"))
		if err != nil {
			return err
		}
		a.kv = store
	}
	a.ownsKV = true
	return nil
}

// newMQTTClient creates the broker client. Without a probe URL the broker
// connection is the connectivity signal.
func (a *App) newMQTTClient() error {
	var onConnection func(bool)
	if a.Settings.Connectivity.ProbeURL == "" {
		onConnection = func(connected bool) { a.monitor.SetOnline(connected) }
	}
	client, err := mqtt.NewClient(mqtt.ConfigFromSettings(&a.Settings.MQTT), onConnection, a.Metrics.MQTT, a.logger.Module("mqtt"))
	if err != nil {
		return err
	}
	a.mqtt = client
	return nil
}

func (a *App) buildTransports() ([]notification.Transport, error) {
	var transports []notification.Transport
	ns := a.Settings.Notification

	if ns.Shoutrrr.Enabled {
		t, err := notification.NewShoutrrrTransport(ns.Shoutrrr.URLs, ns.CallTimeout)
		if err != nil {
			return nil, err
		}
		transports = append(transports, t)
	}
	if ns.MQTT.Enabled && a.mqtt != nil {
		transports = append(transports, notification.NewMQTTTransport(a.mqtt, ns.MQTT.Topic))
	}
	return transports, nil
}

func (a *App) buildSource(oneShot bool) position.Source {
	ts := a.Settings.Tracking
	switch {
	case oneShot:
		return position.NewFeed()
	case ts.Source == "replay":
		return position.NewReplayFile(ts.ReplayFile, ts.ReplayInterval, a.logger.Module("position"))
	case ts.Source == "mqtt" && a.mqtt != nil:
		return position.NewMQTTSource(a.mqtt, position.MQTTConfig{
			TopicPrefix:   a.Settings.MQTT.TopicPrefix,
			DeviceID:      a.Settings.MQTT.DeviceID,
			SampleTimeout: ts.SampleTimeout,
		}, a.Metrics.MQTT, a.logger.Module("position"))
	default:
		return position.NewFeed()
	}
}

func sourceName(s position.Source) string {
	switch s.(type) {
	case *position.Feed:
		return "feed"
	case *position.ReplaySource:
		return "replay"
	case *position.MQTTSource:
		return "mqtt"
	default:
		return "custom"
	}
}

// Run connects to the broker, probes connectivity, serves the API and logs
// tracking errors until ctx is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.mqtt != nil {
		g.Go(func() error { return a.connectMQTT(gctx) })
	}
	if cs := a.Settings.Connectivity; cs.ProbeURL != "" {
		prober := connectivity.NewProber(a.monitor, a.client, connectivity.ProberConfig{
			URL:      cs.ProbeURL,
			Interval: cs.ProbeInterval,
			Timeout:  cs.ProbeTimeout,
		}, a.logger.Module("connectivity"))
		g.Go(func() error { return prober.Run(gctx) })
	}
	if a.Settings.API.Enabled {
		opts := []api.Option{api.WithMetrics(a.Metrics), api.WithLogger(a.logger.Module("api"))}
		if a.Feed != nil {
			opts = append(opts, api.WithFeed(a.Feed))
		}
		server := api.NewServer(api.ConfigFromSettings(&a.Settings.API), a.Engine, opts...)
		g.Go(func() error { return server.Run(gctx) })
	}
	g.Go(func() error {
		a.watchTrackingErrors(gctx)
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// connectMQTT retries the initial connection with backoff. The client
// reconnects on its own once connected.
func (a *App) connectMQTT(ctx context.Context) error {
	backoff := initialConnectBackoff
	for {
		err := a.mqtt.Connect(ctx)
		if err == nil {
			a.logger.Info("connected to MQTT broker")
			return nil
		}
		a.logger.Warn("MQTT connect failed, retrying",
			logger.Error(err),
			logger.Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxConnectBackoff)
	}
}

func (a *App) watchTrackingErrors(ctx context.Context) {
	errs := a.Engine.TrackingErrors()
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errs:
			a.logger.Error("tracking stopped", logger.Error(err),
				logger.String("category", string(errors.CategoryOf(err))))
		}
	}
}

// Close shuts the engine down and releases the broker connection, HTTP
// client and owned datastore. Safe on a partially built App.
func (a *App) Close() {
	if a.Engine != nil {
		a.Engine.Close()
	}
	if a.mqtt != nil {
		a.mqtt.Disconnect()
	}
	if a.client != nil {
		a.client.Close()
	}
	if a.monitor != nil {
		a.monitor.Close()
	}
	if a.kv != nil && a.ownsKV {
		if err := a.kv.Close(); err != nil {
			a.logger.Warn("failed to close datastore", logger.Error(err))
		}
	}
}

// WithEngine assembles a one-shot App, runs fn against its engine and closes
// it again.
func WithEngine(ctx context.Context, settings *conf.Settings, fn func(*engine.Engine) error) error {
	a, err := New(ctx, settings, Options{OneShot: true})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a.Engine)
}
