// config.go: settings struct and functions to load and save the settings
// for the vinyl recognition daemon.
package conf

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

//go:embed config.yaml
var configFiles embed.FS

// Fixed capture format. The segmenter and the recognition providers both
// assume 16-bit little-endian PCM.
const (
	SampleRate  = 44100
	NumChannels = 2
	BitDepth    = 16
)

// Recognition queue backpressure policies.
const (
	OverflowDropOldest   = "drop_oldest"
	OverflowRejectNewest = "reject_newest"
)

// AudioSettings contains settings for audio capture and segmentation.
type AudioSettings struct {
	Source               string        // audio capture device name or ID
	SilenceThreshold     float64       // normalized RMS below which input counts as silence (0.0-1.0)
	SilenceDuration      time.Duration // continuous silence required to close a segment
	MinRecordingDuration time.Duration // segments shorter than this are discarded
	MaxRecordingDuration time.Duration // segments are force-closed at this length
}

// ProviderSettings contains per-provider recognition configuration.
// Credentials are loaded from the environment, never from the YAML file.
type ProviderSettings struct {
	Enabled bool
	Timeout time.Duration // per-request timeout
	APIURL  string        // endpoint override, empty for provider default
}

// RecognitionSettings contains settings for the recognition orchestrator.
type RecognitionSettings struct {
	MinConfidence     float64          // minimum confidence for an accepted match
	Order             []string         // provider priority order
	RateLimitCooldown time.Duration    // how long a rate-limited provider is suppressed
	QueueSize         int              // bounded segment queue between segmenter and recognizer
	OverflowPolicy    string           // "drop_oldest" or "reject_newest"
	AudD              ProviderSettings // AudD commercial API
	ACRCloud          ProviderSettings // ACRCloud fallback
}

// DuplicateSettings contains settings for duplicate suppression.
type DuplicateSettings struct {
	Enabled      bool
	TimeWindow   time.Duration // suppression window per fingerprint
	CacheSize    int           // maximum cached fingerprints, oldest evicted first
	RefreshOnHit bool          // true extends the window on each suppressed sighting
}

// LastfmSettings contains settings for the Last.fm scrobbler.
type LastfmSettings struct {
	Enabled          bool
	MinPlayTime      time.Duration // plays shorter than this are not scrobbled
	MaxQueueSize     int           // bound on pending queue entries
	RetryInterval    time.Duration // delivery loop wake interval and initial backoff
	MaxRetryInterval time.Duration // backoff cap
	MaxRetries       int           // attempts before an entry is abandoned
}

// ScrobblerSettings groups scrobbling targets.
type ScrobblerSettings struct {
	Lastfm LastfmSettings
}

// MQTTSettings contains settings for MQTT integration.
type MQTTSettings struct {
	Enabled  bool   // true to enable MQTT publishing of confirmed scrobbles
	Broker   string // MQTT broker (tcp://host:port)
	Topic    string // MQTT topic
	Username string // MQTT username
	Password string // MQTT password
}

// TelemetrySettings contains settings for the Prometheus endpoint.
type TelemetrySettings struct {
	Enabled bool   // true to enable Prometheus compatible telemetry endpoint
	Listen  string // IP address and port to listen on
}

// RealtimeSettings contains all settings related to realtime monitoring.
type RealtimeSettings struct {
	Audio       AudioSettings
	Recognition RecognitionSettings
	Duplicates  DuplicateSettings
	Scrobbler   ScrobblerSettings
	MQTT        MQTTSettings
	Telemetry   TelemetrySettings
}

// WebServerSettings contains settings for the HTTP API server.
type WebServerSettings struct {
	Enabled bool
	Port    string
}

// OutputSettings contains settings for the persistent store.
type OutputSettings struct {
	SQLite struct {
		Path string // path to the SQLite database file
	}
}

// Secrets holds credentials loaded from the environment.
type Secrets struct {
	AudDAPIKey        string
	ACRCloudHost      string
	ACRCloudAccessKey string
	ACRCloudSecret    string
	LastfmAPIKey      string
	LastfmAPISecret   string
	LastfmSessionKey  string
}

// Settings is the root configuration structure.
type Settings struct {
	Debug bool

	Main struct {
		Name string // node name, used to identify this station
		Log  struct {
			Enabled bool
			Path    string
		}
	}

	Realtime  RealtimeSettings
	WebServer WebServerSettings
	Output    OutputSettings

	Secrets Secrets `yaml:"-"` // never serialized
}

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file, applies defaults and environment
// secrets, validates the result, and stores it as the process-wide settings.
func Load() (*Settings, error) {
	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	loadSecrets(&settings.Secrets)

	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}

	settingsMutex.Lock()
	settingsInstance = settings
	settingsMutex.Unlock()
	return settings, nil
}

// Setting returns the current settings instance, loading them on first use.
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			if _, err := Load(); err != nil {
				panic(fmt.Sprintf("error loading settings: %v", err))
			}
		}
	})
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

func initViper() error {
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}
	viper.SetConfigName("config")

	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !asConfigFileNotFound(err, &notFound) {
			return fmt.Errorf("fatal error reading config file: %w", err)
		}
		return createDefaultConfig(configPaths[0])
	}
	return nil
}

func asConfigFileNotFound(err error, target *viper.ConfigFileNotFoundError) bool {
	nf, ok := err.(viper.ConfigFileNotFoundError)
	if ok {
		*target = nf
	}
	return ok
}

// createDefaultConfig writes the embedded default config file and loads it.
func createDefaultConfig(configDir string) error {
	configPath := filepath.Join(configDir, "config.yaml")

	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	defaultConfig, err := configFiles.ReadFile("config.yaml")
	if err != nil {
		return fmt.Errorf("error reading embedded default config: %w", err)
	}

	if err := os.WriteFile(configPath, defaultConfig, 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("Created default config file at:", configPath)
	return viper.ReadInConfig()
}

// loadSecrets pulls credentials from the environment. Keys follow the
// conventional provider prefixes so existing deployments keep working.
func loadSecrets(s *Secrets) {
	s.AudDAPIKey = os.Getenv("AUDD_API_KEY")
	s.ACRCloudHost = os.Getenv("ACRCLOUD_HOST")
	s.ACRCloudAccessKey = os.Getenv("ACRCLOUD_ACCESS_KEY")
	s.ACRCloudSecret = os.Getenv("ACRCLOUD_ACCESS_SECRET")
	s.LastfmAPIKey = os.Getenv("LASTFM_API_KEY")
	s.LastfmAPISecret = os.Getenv("LASTFM_API_SECRET")
	s.LastfmSessionKey = os.Getenv("LASTFM_SESSION_KEY")
}

// GetDefaultConfigPaths returns the list of directories searched for
// config.yaml, most specific first.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("error fetching user home directory: %w", err)
	}

	if configDir, err := os.UserConfigDir(); err == nil {
		return []string{
			filepath.Join(configDir, "vinyl-go"),
			filepath.Join(homeDir, ".config", "vinyl-go"),
			".",
		}, nil
	}

	return []string{filepath.Join(homeDir, ".config", "vinyl-go"), "."}, nil
}

// GetBasePath expands a possibly relative path against the config directory
// and ensures it exists.
func GetBasePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	basePath := filepath.Dir(viper.ConfigFileUsed())
	if basePath == "" || basePath == "." {
		basePath, _ = os.Getwd()
	}
	full := filepath.Join(basePath, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return path
	}
	return full
}

// SaveSettings writes the current settings back to the config file in YAML
// form. Secrets are excluded by the yaml:"-" tag.
func SaveSettings(settings *Settings) error {
	configPath := viper.ConfigFileUsed()
	if configPath == "" {
		paths, err := GetDefaultConfigPaths()
		if err != nil {
			return err
		}
		configPath = filepath.Join(paths[0], "config.yaml")
	}

	out, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to yaml: %w", err)
	}

	if err := os.WriteFile(configPath, out, 0o644); err != nil {
		return fmt.Errorf("error writing settings to %s: %w", configPath, err)
	}
	return nil
}
