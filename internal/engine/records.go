package engine

import (
	"github.com/safetrack/safetrack/internal/conf"
	"github.com/safetrack/safetrack/internal/datastore"
	"github.com/safetrack/safetrack/internal/errors"
	"github.com/safetrack/safetrack/internal/geo"
	"github.com/safetrack/safetrack/internal/geofence"
	"github.com/safetrack/safetrack/internal/notification"
)

// Persisted record keys
const (
	KeyProfile       = "safeTrackProfile"
	KeyGeofences     = "safeTrackGeofences"
	KeyLogs          = "safeTrackLogs"
	KeyTracking      = "safeTrackTracking"
	KeyPendingAlerts = "safeTrackPendingAlerts"
	KeyLocation      = "safeTrackLocation"
)

const recordVersion = 1

// TrackingState is the persisted tracking toggle
type TrackingState struct {
	Enabled bool `json:"enabled"`
}

// LocationState is the persisted last known location
type LocationState struct {
	Sample *geo.Sample `json:"sample,omitempty"`
}

func profileRecord(user conf.UserSettings) datastore.Record[notification.Profile] {
	return datastore.Record[notification.Profile]{
		Key:     KeyProfile,
		Version: recordVersion,
		Default: func() notification.Profile { return profileFromSettings(user) },
		Validate: func(p notification.Profile) error {
			return p.Validate()
		},
	}
}

// profileFromSettings seeds the profile from the configured user
func profileFromSettings(user conf.UserSettings) notification.Profile {
	p := notification.DefaultProfile()
	if user.Name != "" {
		p.Name = user.Name
	}
	for _, c := range user.Contacts {
		p.Contacts = append(p.Contacts, notification.Contact{
			Name:         c.Name,
			Relationship: c.Relationship,
			Phone:        c.Phone,
		})
	}
	p.Normalize()
	return p
}

var geofencesRecord = datastore.Record[[]geofence.Geofence]{
	Key:     KeyGeofences,
	Version: recordVersion,
	Default: func() []geofence.Geofence { return []geofence.Geofence{} },
}

var logsRecord = datastore.Record[[]notification.Entry]{
	Key:     KeyLogs,
	Version: recordVersion,
	Default: func() []notification.Entry { return []notification.Entry{} },
	Validate: func(entries []notification.Entry) error {
		for i, e := range entries {
			if e.ID == "" || e.Kind == "" {
				return errors.Newf("log entry %d is incomplete", i).
					Component("engine").
					Category(errors.CategoryValidation).
					Build()
			}
		}
		return nil
	},
}

var trackingRecord = datastore.Record[TrackingState]{
	Key:     KeyTracking,
	Version: recordVersion,
	Default: func() TrackingState { return TrackingState{} },
}

var pendingRecord = datastore.Record[[]notification.PendingAlert]{
	Key:     KeyPendingAlerts,
	Version: recordVersion,
	Default: func() []notification.PendingAlert { return []notification.PendingAlert{} },
	Validate: func(alerts []notification.PendingAlert) error {
		for i, a := range alerts {
			if a.ID == "" || a.Contact.Name == "" {
				return errors.Newf("pending alert %d is incomplete", i).
					Component("engine").
					Category(errors.CategoryValidation).
					Build()
			}
		}
		return nil
	},
}

var locationRecord = datastore.Record[LocationState]{
	Key:     KeyLocation,
	Version: recordVersion,
	Default: func() LocationState { return LocationState{} },
	Validate: func(l LocationState) error {
		if l.Sample == nil {
			return nil
		}
		return l.Sample.Validate()
	},
}
