// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "vinyl-go")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "logs/vinyl.log")

	viper.SetDefault("realtime.audio.source", "sysdefault")
	viper.SetDefault("realtime.audio.silencethreshold", 0.01)
	viper.SetDefault("realtime.audio.silenceduration", 2*time.Second)
	viper.SetDefault("realtime.audio.minrecordingduration", 30*time.Second)
	viper.SetDefault("realtime.audio.maxrecordingduration", 120*time.Second)

	viper.SetDefault("realtime.recognition.minconfidence", 0.6)
	viper.SetDefault("realtime.recognition.order", []string{"audd", "acrcloud"})
	viper.SetDefault("realtime.recognition.ratelimitcooldown", 60*time.Second)
	viper.SetDefault("realtime.recognition.queuesize", 5)
	viper.SetDefault("realtime.recognition.overflowpolicy", "drop_oldest")
	viper.SetDefault("realtime.recognition.audd.enabled", true)
	viper.SetDefault("realtime.recognition.audd.timeout", 30*time.Second)
	viper.SetDefault("realtime.recognition.audd.apiurl", "")
	viper.SetDefault("realtime.recognition.acrcloud.enabled", false)
	viper.SetDefault("realtime.recognition.acrcloud.timeout", 30*time.Second)
	viper.SetDefault("realtime.recognition.acrcloud.apiurl", "")

	viper.SetDefault("realtime.duplicates.enabled", true)
	viper.SetDefault("realtime.duplicates.timewindow", 15*time.Minute)
	viper.SetDefault("realtime.duplicates.cachesize", 1000)
	viper.SetDefault("realtime.duplicates.refreshonhit", false)

	viper.SetDefault("realtime.scrobbler.lastfm.enabled", false)
	viper.SetDefault("realtime.scrobbler.lastfm.minplaytime", 30*time.Second)
	viper.SetDefault("realtime.scrobbler.lastfm.maxqueuesize", 1000)
	viper.SetDefault("realtime.scrobbler.lastfm.retryinterval", 5*time.Minute)
	viper.SetDefault("realtime.scrobbler.lastfm.maxretryinterval", time.Hour)
	viper.SetDefault("realtime.scrobbler.lastfm.maxretries", 5)

	viper.SetDefault("realtime.mqtt.enabled", false)
	viper.SetDefault("realtime.mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("realtime.mqtt.topic", "vinyl/scrobbles")
	viper.SetDefault("realtime.mqtt.username", "")
	viper.SetDefault("realtime.mqtt.password", "")

	viper.SetDefault("realtime.telemetry.enabled", false)
	viper.SetDefault("realtime.telemetry.listen", "0.0.0.0:8090")

	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.port", "8080")

	viper.SetDefault("output.sqlite.path", "vinyl.db")
}
