package conf

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaultConfig sets default values on the global viper instance
func setDefaultConfig() {
	applyDefaults(viper.GetViper())
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("user.name", "User")
	v.SetDefault("user.contacts", []map[string]string{})

	v.SetDefault("geofence.minradius", 50.0)
	v.SetDefault("geofence.maxradius", 10000.0)
	v.SetDefault("geofence.defaultradius", 200.0)

	v.SetDefault("tracking.source", "mqtt")
	v.SetDefault("tracking.replayfile", "")
	v.SetDefault("tracking.replayinterval", time.Second)
	v.SetDefault("tracking.sampletimeout", 10*time.Second)
	v.SetDefault("tracking.resumeonstart", true)

	v.SetDefault("connectivity.probeurl", "")
	v.SetDefault("connectivity.probeinterval", 30*time.Second)
	v.SetDefault("connectivity.probetimeout", 5*time.Second)
	v.SetDefault("connectivity.assumeonline", true)

	v.SetDefault("compose.provider", "template")
	v.SetDefault("compose.endpoint", "")
	v.SetDefault("compose.apikey", "")
	v.SetDefault("compose.ratelimit", 2.0)
	v.SetDefault("compose.burst", 4)
	v.SetDefault("compose.cachettl", 5*time.Minute)
	v.SetDefault("compose.arrival", "{{.UserName}} has arrived at {{.LocationName}} at {{.Time}}.")
	v.SetDefault("compose.departure", "{{.UserName}} has left {{.LocationName}} at {{.Time}}.")

	v.SetDefault("notification.calltimeout", 15*time.Second)
	v.SetDefault("notification.maxlogentries", 500)
	v.SetDefault("notification.dedupttl", time.Hour)
	v.SetDefault("notification.circuitbreaker.enabled", true)
	v.SetDefault("notification.circuitbreaker.maxfailures", 5)
	v.SetDefault("notification.circuitbreaker.timeout", 30*time.Second)
	v.SetDefault("notification.circuitbreaker.halfopenmaxrequests", 1)
	v.SetDefault("notification.shoutrrr.enabled", false)
	v.SetDefault("notification.shoutrrr.urls", []string{})
	v.SetDefault("notification.mqtt.enabled", false)
	v.SetDefault("notification.mqtt.topic", "safetrack/alerts")

	v.SetDefault("mqtt.enabled", true)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.clientid", "safetrack")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topicprefix", "safetrack")
	v.SetDefault("mqtt.deviceid", "phone")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.connecttimeout", 30*time.Second)
	v.SetDefault("mqtt.publishtimeout", 10*time.Second)

	v.SetDefault("datastore.type", "sqlite")
	v.SetDefault("datastore.path", "safetrack.db")

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen", "127.0.0.1:8080")

	v.SetDefault("logging.defaultlevel", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.fileoutput.enabled", false)
	v.SetDefault("logging.fileoutput.path", "logs/safetrack.log")
	v.SetDefault("logging.fileoutput.level", "debug")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.dsn", "")
	v.SetDefault("telemetry.environment", "production")
}
