// Package telemetry sets up opt-in Sentry error reporting.
package telemetry

import (
	"fmt"
	"runtime"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/safetrack/safetrack/internal/buildinfo"
	"github.com/safetrack/safetrack/internal/conf"
	"github.com/safetrack/safetrack/internal/errors"
	"github.com/safetrack/safetrack/internal/logger"
)

// FlushTimeout is how long Flush waits for buffered events at shutdown
const FlushTimeout = 2 * time.Second

// Init configures the Sentry SDK and installs the error reporter when
// telemetry is enabled and a DSN is set. It reports whether reporting is
// active.
func Init(settings *conf.TelemetrySettings, build *buildinfo.Context, log logger.Logger) (bool, error) {
	return initWithTransport(settings, build, nil, log)
}

func initWithTransport(settings *conf.TelemetrySettings, build *buildinfo.Context, transport sentry.Transport, log logger.Logger) (bool, error) {
	if log == nil {
		log = logger.Global().Module("telemetry")
	}
	if !settings.Enabled {
		log.Debug("error telemetry disabled")
		return false, nil
	}
	if settings.DSN == "" {
		log.Warn("error telemetry enabled without a DSN, reporting stays off")
		return false, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.DSN,
		Environment:      settings.Environment,
		Release:          build.Release(),
		SampleRate:       1.0,
		AttachStacktrace: false,
		ServerName:       "",
		Transport:        transport,
		BeforeSend:       applyPrivacyFilters,
	})
	if err != nil {
		return false, fmt.Errorf("sentry initialization failed: %w", err)
	}

	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("os", runtime.GOOS)
		scope.SetTag("arch", runtime.GOARCH)
		scope.SetContext("application", map[string]any{
			"name":    "SafeTrack",
			"version": build.GetVersion(),
		})
	})

	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	log.Info("error telemetry enabled",
		logger.String("environment", settings.Environment),
		logger.String("release", build.Release()))
	return true, nil
}

// applyPrivacyFilters strips identifying data from every event. Positions,
// phone numbers and contact names must never leave the device.
func applyPrivacyFilters(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""
	event.Message = errors.ScrubMessage(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = errors.ScrubMessage(event.Exception[i].Value)
	}

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}
	for k := range event.Extra {
		if k != "error_type" && k != "component" {
			delete(event.Extra, k)
		}
	}
	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}
	return event
}

// Flush sends buffered events; it is a no-op when Sentry was never initialized
func Flush(timeout time.Duration) bool {
	return sentry.Flush(timeout)
}

// Shutdown uninstalls the reporter and flushes pending events
func Shutdown() {
	errors.SetTelemetryReporter(nil)
	Flush(FlushTimeout)
}
