package compose

import (
	"context"
	"strings"
	"text/template"

	"github.com/safetrack/safetrack/internal/errors"
	"github.com/safetrack/safetrack/internal/geofence"
)

// TemplateComposer renders messages locally with text/template.
// Templates see LocationName, EventType, Time, UserName and Relationship.
type TemplateComposer struct {
	arrival   *template.Template
	departure *template.Template
}

type templateData struct {
	LocationName string
	EventType    string
	Time         string
	UserName     string
	Relationship string
}

// NewTemplateComposer parses the arrival and departure templates
func NewTemplateComposer(arrival, departure string) (*TemplateComposer, error) {
	a, err := template.New("arrival").Option("missingkey=error").Parse(arrival)
	if err != nil {
		return nil, errors.New(err).
			Component("compose").
			Category(errors.CategoryConfiguration).
			Context("template", "arrival").
			Build()
	}
	d, err := template.New("departure").Option("missingkey=error").Parse(departure)
	if err != nil {
		return nil, errors.New(err).
			Component("compose").
			Category(errors.CategoryConfiguration).
			Context("template", "departure").
			Build()
	}
	return &TemplateComposer{arrival: a, departure: d}, nil
}

// Compose renders the template matching req.EventType
func (c *TemplateComposer) Compose(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", compositionError(err, req, "template")
	}

	var tmpl *template.Template
	switch req.EventType {
	case geofence.Arrival:
		tmpl = c.arrival
	case geofence.Departure:
		tmpl = c.departure
	default:
		return "", compositionError(errors.NewStd("unknown event type "+string(req.EventType)), req, "template")
	}

	var b strings.Builder
	err := tmpl.Execute(&b, templateData{
		LocationName: req.LocationName,
		EventType:    string(req.EventType),
		Time:         req.FormattedTime(),
		UserName:     req.UserName,
		Relationship: req.Relationship,
	})
	if err != nil {
		return "", compositionError(err, req, "template")
	}
	return checkMessage(b.String())
}
