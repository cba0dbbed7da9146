// Package notification records alerts for geofence transitions and panic
// presses, and delivers them to the user's contacts when online.
package notification

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/safetrack/safetrack/internal/errors"
	"github.com/safetrack/safetrack/internal/geofence"
)

// Kind identifies what produced a log entry
type Kind string

const (
	KindPanic         Kind = "panic"
	KindGeofenceEntry Kind = "geofence_entry"
	KindGeofenceExit  Kind = "geofence_exit"
)

// KindFor maps a transition kind to the log entry kind
func KindFor(k geofence.Kind) Kind {
	if k == geofence.Arrival {
		return KindGeofenceEntry
	}
	return KindGeofenceExit
}

// Title returns the display title, e.g. "Geofence Entry"
func (k Kind) Title() string {
	// cases.Caser is stateful, one per call
	return cases.Title(language.English).String(strings.ReplaceAll(string(k), "_", " "))
}

// Entry is one immutable line of the notification log
type Entry struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	ContactID string    `json:"contactId,omitempty"`
	// AlertID links a geofence entry to the pending alert it recorded
	AlertID string `json:"alertId,omitempty"`
	Failed  bool   `json:"failed,omitempty"`
}

func newEntry(kind Kind, message string) Entry {
	return Entry{
		ID:        uuid.NewString(),
		Kind:      kind,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Contact is someone who receives alerts
type Contact struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Relationship string `json:"relationship"`
	Phone        string `json:"phone"`
}

// Profile is the user's name and contact list
type Profile struct {
	Name     string    `json:"name"`
	Contacts []Contact `json:"contacts"`
}

// DefaultProfile returns the profile used before the user has saved one
func DefaultProfile() Profile {
	return Profile{Name: "User", Contacts: []Contact{}}
}

// Normalize trims fields and assigns IDs to contacts that lack one
func (p *Profile) Normalize() {
	p.Name = strings.TrimSpace(p.Name)
	if p.Contacts == nil {
		p.Contacts = []Contact{}
	}
	for i := range p.Contacts {
		c := &p.Contacts[i]
		c.Name = strings.TrimSpace(c.Name)
		c.Relationship = strings.TrimSpace(c.Relationship)
		c.Phone = strings.TrimSpace(c.Phone)
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
	}
}

// Validate checks the profile can be used for alerts
func (p Profile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.Newf("profile name is required").
			Component("notification").
			Category(errors.CategoryValidation).
			Build()
	}
	seen := make(map[string]bool, len(p.Contacts))
	for i, c := range p.Contacts {
		if strings.TrimSpace(c.Name) == "" {
			return errors.Newf("contact %d has no name", i).
				Component("notification").
				Category(errors.CategoryValidation).
				Build()
		}
		if c.ID != "" && seen[c.ID] {
			return errors.Newf("duplicate contact id %q", c.ID).
				Component("notification").
				Category(errors.CategoryValidation).
				Build()
		}
		seen[c.ID] = true
	}
	return nil
}

// PendingAlert is one transition waiting to be sent to one contact
type PendingAlert struct {
	ID         string              `json:"id"`
	Transition geofence.Transition `json:"transition"`
	Contact    Contact             `json:"contact"`
	UserName   string              `json:"userName"`
	Attempts   int                 `json:"attempts"`
	EnqueuedAt time.Time           `json:"enqueuedAt"`
}
