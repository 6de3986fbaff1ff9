package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that reads YAML values like "59s" or "3m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config represents the complete application configuration
type Config struct {
	// Channels lists the broadcaster logins to track, in priority order
	Channels  []string        `yaml:"channels"`
	Auth      AuthConfig      `yaml:"auth"`
	PubSub    PubSubConfig    `yaml:"pubsub"`
	GQL       GQLConfig       `yaml:"gql"`
	Watcher   WatcherConfig   `yaml:"watcher"`
	Engine    EngineConfig    `yaml:"engine"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// AuthConfig contains account credential settings
type AuthConfig struct {
	Token       string `yaml:"token"`
	ClientID    string `yaml:"client_id"`
	UserAgent   string `yaml:"user_agent"`
	ValidateURL string `yaml:"validate_url"`
}

// PubSubConfig contains push connection settings
type PubSubConfig struct {
	URL              string   `yaml:"url"`
	PingInterval     Duration `yaml:"ping_interval"`
	PingTimeout      Duration `yaml:"ping_timeout"`
	MaxTopics        int      `yaml:"max_topics"`
	SendBuffer       int      `yaml:"send_buffer"`
	ReconnectMinWait Duration `yaml:"reconnect_min_wait"`
	ReconnectMaxWait Duration `yaml:"reconnect_max_wait"`
}

// GQLConfig contains GraphQL and watch endpoint settings
type GQLConfig struct {
	URL      string   `yaml:"url"`
	WatchURL string   `yaml:"watch_url"`
	Timeout  Duration `yaml:"timeout"`
}

// WatcherConfig contains watch scheduler settings
type WatcherConfig struct {
	WatchInterval   Duration `yaml:"watch_interval"`
	BonusCheckEvery int      `yaml:"bonus_check_every"`
	OnlineDelay     Duration `yaml:"online_delay"`
	RefreshSpacing  Duration `yaml:"refresh_spacing"`
	RetryLong       Duration `yaml:"retry_long"`
}

// EngineConfig contains engine lifecycle settings
type EngineConfig struct {
	BootstrapRetry Duration `yaml:"bootstrap_retry"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Addr         string   `yaml:"addr"`
	ReadTimeout  Duration `yaml:"read_timeout"`
	WriteTimeout Duration `yaml:"write_timeout"`
	IdleTimeout  Duration `yaml:"idle_timeout"`
}

// StorageConfig contains storage settings
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"`
	IncludeCaller bool   `yaml:"include_caller"`
}

// MetricsConfig contains metrics settings
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TelemetryConfig contains OpenTelemetry settings
type TelemetryConfig struct {
	Enabled       bool    `yaml:"enabled"`
	ServiceName   string  `yaml:"service_name"`
	Endpoint      string  `yaml:"endpoint"`
	SamplingRatio float64 `yaml:"sampling_ratio"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Channels: []string{},
		Auth: AuthConfig{
			ClientID:    "kimne78kx3ncx6brgo4mv6wki5h1ko",
			UserAgent:   "Twitch Drops App",
			ValidateURL: "https://id.twitch.tv/oauth2/validate",
		},
		PubSub: PubSubConfig{
			URL:              "wss://pubsub-edge.twitch.tv/v1",
			PingInterval:     Duration(3 * time.Minute),
			PingTimeout:      Duration(10 * time.Second),
			MaxTopics:        50,
			SendBuffer:       32,
			ReconnectMinWait: Duration(time.Second),
			ReconnectMaxWait: Duration(3 * time.Minute),
		},
		GQL: GQLConfig{
			URL:      "https://gql.twitch.tv/gql",
			WatchURL: "https://spade.twitch.tv/track",
			Timeout:  Duration(15 * time.Second),
		},
		Watcher: WatcherConfig{
			WatchInterval:   Duration(59 * time.Second),
			BonusCheckEvery: 30,
			OnlineDelay:     Duration(10 * time.Second),
			RefreshSpacing:  Duration(500 * time.Millisecond),
			RetryLong:       Duration(2 * time.Minute),
		},
		Engine: EngineConfig{
			BootstrapRetry: Duration(5 * time.Second),
		},
		Server: ServerConfig{
			Addr:         ":8420",
			ReadTimeout:  Duration(10 * time.Second),
			WriteTimeout: Duration(10 * time.Second),
			IdleTimeout:  Duration(60 * time.Second),
		},
		Storage: StorageConfig{
			DataDir: "./data",
		},
		Logging: LoggingConfig{
			Level:         "info",
			Format:        "console",
			IncludeCaller: false,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Telemetry: TelemetryConfig{
			Enabled:       false,
			ServiceName:   "dropwatch",
			Endpoint:      "localhost:4317",
			SamplingRatio: 0.1,
		},
	}
}

// LoadConfigFromFile loads configuration from a YAML file
func LoadConfigFromFile(filePath string) (*Config, error) {
	// Start with default configuration
	config := DefaultConfig()

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("file", filePath).Msg("Configuration file not found, using defaults")
			return config, nil
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return config, nil
}

// LoadConfig loads configuration from file, environment variables, and flags
func LoadConfig(configFile string, dataDir string, serverAddr string, logLevel string) (*Config, error) {
	var config *Config
	var err error

	if configFile != "" {
		config, err = LoadConfigFromFile(configFile)
		if err != nil {
			return nil, err
		}
	} else {
		config = DefaultConfig()
	}

	// Override with environment variables
	applyEnvOverrides(config)

	// Override with command line flags (highest priority)
	if dataDir != "" {
		absDataDir, err := filepath.Abs(dataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path for data directory: %w", err)
		}
		config.Storage.DataDir = absDataDir
	}

	if serverAddr != "" {
		config.Server.Addr = serverAddr
	}

	if logLevel != "" {
		config.Logging.Level = logLevel
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(config *Config) {
	// The auth token deliberately has no prefix; it is the one secret
	// and matches what the rest of the tooling around it uses.
	if token := os.Getenv("TWITCH_AUTH_TOKEN"); token != "" {
		config.Auth.Token = token
	}

	if channels := os.Getenv("DROPWATCH_CHANNELS"); channels != "" {
		config.Channels = splitList(channels)
	}

	// Server config overrides
	if addr := os.Getenv("DROPWATCH_SERVER_ADDR"); addr != "" {
		config.Server.Addr = addr
	}

	// Storage config overrides
	if dataDir := os.Getenv("DROPWATCH_STORAGE_DATA_DIR"); dataDir != "" {
		config.Storage.DataDir = dataDir
	}

	// PubSub config overrides
	if url := os.Getenv("DROPWATCH_PUBSUB_URL"); url != "" {
		config.PubSub.URL = url
	}
	if maxTopicsStr := os.Getenv("DROPWATCH_PUBSUB_MAX_TOPICS"); maxTopicsStr != "" {
		if val, err := strconv.Atoi(maxTopicsStr); err == nil {
			config.PubSub.MaxTopics = val
		}
	}

	// Watcher config overrides
	if intervalStr := os.Getenv("DROPWATCH_WATCH_INTERVAL"); intervalStr != "" {
		if val, err := time.ParseDuration(intervalStr); err == nil {
			config.Watcher.WatchInterval = Duration(val)
		}
	}

	// Logging config overrides
	if level := os.Getenv("DROPWATCH_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("DROPWATCH_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
}

// splitList splits a comma separated environment value into clean entries.
func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
