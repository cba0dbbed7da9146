// Package compose turns a geofence transition into the text sent to a contact.
package compose

import (
	"context"
	"strings"
	"time"

	"github.com/safetrack/safetrack/internal/conf"
	"github.com/safetrack/safetrack/internal/errors"
	"github.com/safetrack/safetrack/internal/geofence"
	"github.com/safetrack/safetrack/internal/httpclient"
	"github.com/safetrack/safetrack/internal/logger"
)

// TimeLayout is how Request.Time is rendered for the composition service and templates
const TimeLayout = "3:04:05 PM"

// Request carries the inputs of one composition
type Request struct {
	LocationName string
	EventType    geofence.Kind
	Time         time.Time
	UserName     string
	Relationship string
}

// FormattedTime returns Time in TimeLayout
func (r Request) FormattedTime() string {
	return r.Time.Format(TimeLayout)
}

// Composer produces the message text for a request
type Composer interface {
	Compose(ctx context.Context, req Request) (string, error)
}

// Func adapts a function to Composer
type Func func(ctx context.Context, req Request) (string, error)

// Compose calls f
func (f Func) Compose(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// ErrEmptyMessage is returned when a provider produced no text
var ErrEmptyMessage = errors.Newf("composed message is empty").
	Component("compose").
	Category(errors.CategoryComposition).
	Sentinel().
	Build()

// New builds the composer selected by settings.Provider
func New(settings *conf.ComposeSettings, client *httpclient.Client, log logger.Logger) (Composer, error) {
	switch settings.Provider {
	case "http":
		return NewHTTPComposer(HTTPConfig{
			Endpoint:  settings.Endpoint,
			APIKey:    settings.APIKey,
			RateLimit: settings.RateLimit,
			Burst:     settings.Burst,
			CacheTTL:  settings.CacheTTL,
		}, client, log)
	case "template", "":
		return NewTemplateComposer(settings.Arrival, settings.Departure)
	default:
		return nil, errors.Newf("unknown compose provider %q", settings.Provider).
			Component("compose").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

func compositionError(err error, req Request, provider string) error {
	return errors.New(err).
		Component("compose").
		Category(errors.CategoryComposition).
		Context("provider", provider).
		Context("event_type", string(req.EventType)).
		Build()
}

func checkMessage(msg string) (string, error) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return "", ErrEmptyMessage
	}
	return msg, nil
}
