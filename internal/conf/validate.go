package conf

import (
	"fmt"
	"net/url"
	"strings"
	"text/template"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %s", strings.Join(ve.Errors, "; "))
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	for _, validate := range []func(*Settings) error{
		validateUserSettings,
		validateGeofenceSettings,
		validateTrackingSettings,
		validateComposeSettings,
		validateNotificationSettings,
		validateMQTTSettings,
		validateDatastoreSettings,
	} {
		if err := validate(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateUserSettings(s *Settings) error {
	for i, c := range s.User.Contacts {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("user.contacts[%d]: name is required", i)
		}
	}
	return nil
}

func validateGeofenceSettings(s *Settings) error {
	g := s.Geofence
	if g.MinRadius <= 0 {
		return fmt.Errorf("geofence.minradius must be positive")
	}
	if g.MaxRadius < g.MinRadius {
		return fmt.Errorf("geofence.maxradius (%v) must not be below geofence.minradius (%v)", g.MaxRadius, g.MinRadius)
	}
	if g.DefaultRadius < g.MinRadius || g.DefaultRadius > g.MaxRadius {
		return fmt.Errorf("geofence.defaultradius (%v) must be within [%v, %v]", g.DefaultRadius, g.MinRadius, g.MaxRadius)
	}
	return nil
}

func validateTrackingSettings(s *Settings) error {
	switch s.Tracking.Source {
	case "mqtt":
	case "replay":
		if s.Tracking.ReplayFile == "" {
			return fmt.Errorf("tracking.replayfile is required for the replay source")
		}
	default:
		return fmt.Errorf("tracking.source must be mqtt or replay, got %q", s.Tracking.Source)
	}
	return nil
}

func validateComposeSettings(s *Settings) error {
	c := s.Compose
	switch c.Provider {
	case "http":
		u, err := url.Parse(c.Endpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("compose.endpoint must be an absolute URL for the http provider")
		}
		if c.RateLimit <= 0 {
			return fmt.Errorf("compose.ratelimit must be positive")
		}
	case "template":
		for name, text := range map[string]string{"arrival": c.Arrival, "departure": c.Departure} {
			if _, err := template.New(name).Parse(text); err != nil {
				return fmt.Errorf("compose.%s: %w", name, err)
			}
		}
	default:
		return fmt.Errorf("compose.provider must be http or template, got %q", c.Provider)
	}
	return nil
}

func validateNotificationSettings(s *Settings) error {
	n := s.Notification
	if n.CallTimeout <= 0 {
		return fmt.Errorf("notification.calltimeout must be positive")
	}
	if n.MaxLogEntries <= 0 {
		return fmt.Errorf("notification.maxlogentries must be positive")
	}
	if n.CircuitBreaker.Enabled {
		if n.CircuitBreaker.MaxFailures <= 0 || n.CircuitBreaker.HalfOpenMaxRequests <= 0 || n.CircuitBreaker.Timeout <= 0 {
			return fmt.Errorf("notification.circuitbreaker values must be positive")
		}
	}
	if n.Shoutrrr.Enabled {
		if len(n.Shoutrrr.URLs) == 0 {
			return fmt.Errorf("notification.shoutrrr.urls must not be empty when enabled")
		}
		for i, u := range n.Shoutrrr.URLs {
			if _, err := template.New("url").Parse(u); err != nil {
				return fmt.Errorf("notification.shoutrrr.urls[%d]: %w", i, err)
			}
		}
	}
	if n.MQTT.Enabled && !s.MQTT.Enabled {
		return fmt.Errorf("notification.mqtt requires mqtt.enabled")
	}
	return nil
}

func validateMQTTSettings(s *Settings) error {
	m := s.MQTT
	if !m.Enabled {
		if s.Tracking.Source == "mqtt" {
			return fmt.Errorf("tracking.source mqtt requires mqtt.enabled")
		}
		return nil
	}
	if m.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	if m.QoS < 0 || m.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	if m.TopicPrefix == "" || m.DeviceID == "" {
		return fmt.Errorf("mqtt.topicprefix and mqtt.deviceid are required")
	}
	return nil
}

func validateDatastoreSettings(s *Settings) error {
	switch s.Datastore.Type {
	case "memory":
	case "sqlite":
		if s.Datastore.Path == "" {
			return fmt.Errorf("datastore.path is required for sqlite")
		}
	default:
		return fmt.Errorf("datastore.type must be sqlite or memory, got %q", s.Datastore.Type)
	}
	return nil
}
