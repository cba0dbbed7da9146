package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// envBinding maps an environment variable to a config key
type envBinding struct {
	ConfigKey string
	EnvVar    string
	Validate  func(string) error
}

func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "SAFETRACK_DEBUG", validateEnvBool},
		{"user.name", "SAFETRACK_USER_NAME", nil},

		{"geofence.minradius", "SAFETRACK_GEOFENCE_MINRADIUS", validateEnvPositiveFloat},
		{"geofence.maxradius", "SAFETRACK_GEOFENCE_MAXRADIUS", validateEnvPositiveFloat},

		{"tracking.source", "SAFETRACK_TRACKING_SOURCE", nil},
		{"tracking.replayfile", "SAFETRACK_TRACKING_REPLAYFILE", nil},

		{"connectivity.probeurl", "SAFETRACK_CONNECTIVITY_PROBEURL", validateEnvURL},

		{"compose.provider", "SAFETRACK_COMPOSE_PROVIDER", nil},
		{"compose.endpoint", "SAFETRACK_COMPOSE_ENDPOINT", validateEnvURL},
		{"compose.apikey", "SAFETRACK_COMPOSE_APIKEY", nil},

		{"mqtt.enabled", "SAFETRACK_MQTT_ENABLED", validateEnvBool},
		{"mqtt.broker", "SAFETRACK_MQTT_BROKER", validateEnvURL},
		{"mqtt.username", "SAFETRACK_MQTT_USERNAME", nil},
		{"mqtt.password", "SAFETRACK_MQTT_PASSWORD", nil},

		{"datastore.type", "SAFETRACK_DATASTORE_TYPE", nil},
		{"datastore.path", "SAFETRACK_DATASTORE_PATH", nil},

		{"api.listen", "SAFETRACK_API_LISTEN", nil},

		{"telemetry.enabled", "SAFETRACK_TELEMETRY_ENABLED", validateEnvBool},
		{"telemetry.dsn", "SAFETRACK_TELEMETRY_DSN", nil},
	}
}

// bindEnvVars binds environment variables to viper and validates any that are set
func bindEnvVars() error {
	var warnings []string
	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", binding.EnvVar, err))
			continue
		}
		if binding.Validate == nil {
			continue
		}
		if value := os.Getenv(binding.EnvVar); value != "" {
			if err := binding.Validate(value); err != nil {
				warnings = append(warnings, fmt.Sprintf("invalid %s value %q: %v", binding.EnvVar, value, err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateEnvPositiveFloat(value string) error {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("must be a number")
	}
	if f <= 0 {
		return fmt.Errorf("must be positive")
	}
	return nil
}

func validateEnvURL(value string) error {
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("must be an absolute URL")
	}
	return nil
}
