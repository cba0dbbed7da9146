// Package conf loads and validates SafeTrack settings using viper.
package conf

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/safetrack/safetrack/internal/errors"
	"github.com/safetrack/safetrack/internal/logger"
)

// Settings contains all configuration options for SafeTrack
type Settings struct {
	Debug bool // true to enable debug mode

	User         UserSettings         // profile seeded when no profile has been stored
	Geofence     GeofenceSettings     // geofence radius bounds
	Tracking     TrackingSettings     // position source
	Connectivity ConnectivitySettings // reachability probe
	Compose      ComposeSettings      // alert message composition
	Notification NotificationSettings // dispatch and delivery
	MQTT         MQTTSettings         // MQTT broker connection
	Datastore    DatastoreSettings    // persisted state
	API          APISettings          // HTTP API
	Logging      logger.LoggingConfig // logging outputs
	Telemetry    TelemetrySettings    // error reporting
}

// UserSettings seeds the profile on first start
type UserSettings struct {
	Name     string            // name used in alert messages
	Contacts []ContactSettings // emergency contacts
}

// ContactSettings describes one emergency contact
type ContactSettings struct {
	Name         string
	Relationship string
	Phone        string
}

// GeofenceSettings bounds geofence radii in meters
type GeofenceSettings struct {
	MinRadius     float64
	MaxRadius     float64
	DefaultRadius float64 // radius used by the CLI when none is given
}

// TrackingSettings selects the position source
type TrackingSettings struct {
	Source         string        // "mqtt" or "replay"
	ReplayFile     string        // JSON lines file for the replay source
	ReplayInterval time.Duration // delay between replayed samples
	SampleTimeout  time.Duration // max silence before the source reports position unavailable
	ResumeOnStart  bool          // resume tracking if it was active at shutdown
}

// ConnectivitySettings configures the reachability probe
type ConnectivitySettings struct {
	ProbeURL      string        // URL probed with HEAD requests, empty disables probing
	ProbeInterval time.Duration // time between probes
	ProbeTimeout  time.Duration // per-probe timeout
	AssumeOnline  bool          // initial state before the first probe
}

// ComposeSettings configures the message composer
type ComposeSettings struct {
	Provider  string        // "http" or "template"
	Endpoint  string        // composition service URL for the http provider
	APIKey    string        // bearer token for the composition service
	RateLimit float64       // requests per second
	Burst     int           // rate limiter burst
	CacheTTL  time.Duration // how long identical requests reuse a composed message
	Arrival   string        // text/template for arrivals (template provider)
	Departure string        // text/template for departures (template provider)
}

// NotificationSettings configures alert dispatch
type NotificationSettings struct {
	CallTimeout    time.Duration // bound on each compose or delivery call
	MaxLogEntries  int           // notification log capacity
	DedupTTL       time.Duration // how long delivered alert IDs are remembered
	CircuitBreaker CircuitBreakerSettings
	Shoutrrr       ShoutrrrSettings
	MQTT           MQTTAlertSettings
}

// CircuitBreakerSettings configures the breaker guarding the composer
type CircuitBreakerSettings struct {
	Enabled             bool
	MaxFailures         int
	Timeout             time.Duration
	HalfOpenMaxRequests int
}

// ShoutrrrSettings configures shoutrrr delivery. URLs are text/templates
// rendered per contact, e.g. "twilio://sid:token@+15550000000/{{.Phone}}".
type ShoutrrrSettings struct {
	Enabled bool
	URLs    []string
}

// MQTTAlertSettings configures publishing composed alerts over MQTT
type MQTTAlertSettings struct {
	Enabled bool
	Topic   string
}

// MQTTSettings contains settings for the MQTT broker connection
type MQTTSettings struct {
	Enabled        bool
	Broker         string // e.g. tcp://localhost:1883
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string // location and status topics live under <prefix>/<device>
	DeviceID       string
	QoS            int
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// DatastoreSettings selects where state is persisted
type DatastoreSettings struct {
	Type string // "sqlite" or "memory"
	Path string // sqlite database path
}

// APISettings configures the HTTP API
type APISettings struct {
	Enabled bool
	Listen  string
}

// TelemetrySettings configures Sentry error reporting
type TelemetrySettings struct {
	Enabled     bool
	DSN         string
	Environment string
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables. configFile
// may be empty to search the default locations; a missing file is not an
// error and leaves the defaults in place.
func Load(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal").
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settings, nil
}

func initViper(configFile string) error {
	setDefaultConfig()

	if err := bindEnvVars(); err != nil {
		return err
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		for _, path := range DefaultConfigPaths() {
			viper.AddConfigPath(path)
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		if configFile != "" && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	return nil
}

// DefaultConfigPaths returns the directories searched for config.yaml
func DefaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "safetrack"))
	}
	return append(paths, "/etc/safetrack")
}

// GetSettings returns the settings from the last successful Load
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Defaults returns settings populated only from defaults
func Defaults() *Settings {
	v := viper.New()
	applyDefaults(v)
	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		panic(fmt.Sprintf("conf: defaults do not unmarshal: %v", err))
	}
	return settings
}

// SaveYAML writes settings to configPath atomically
func SaveYAML(configPath string, settings *Settings) error {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempName := tempFile.Name()
	defer os.Remove(tempName)

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}
	if err := os.Rename(tempName, configPath); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}
	return nil
}
