package config

import (
	"time"

	"dropwatch/internal/api"
	"dropwatch/internal/logging"
	"dropwatch/internal/pubsub"
	"dropwatch/internal/store"
	"dropwatch/internal/telemetry"
	"dropwatch/internal/twitch"
	"dropwatch/internal/watcher"
)

// ToPubSubConfig converts to connection manager config
func (c *Config) ToPubSubConfig() pubsub.Config {
	return pubsub.Config{
		URL:              c.PubSub.URL,
		PingInterval:     c.PubSub.PingInterval.Std(),
		PingTimeout:      c.PubSub.PingTimeout.Std(),
		MaxTopics:        c.PubSub.MaxTopics,
		SendBuffer:       c.PubSub.SendBuffer,
		ReconnectMinWait: c.PubSub.ReconnectMinWait.Std(),
		ReconnectMaxWait: c.PubSub.ReconnectMaxWait.Std(),
	}
}

// ToTwitchConfig converts to Twitch client config
func (c *Config) ToTwitchConfig() twitch.Config {
	return twitch.Config{
		GQLURL:      c.GQL.URL,
		ValidateURL: c.Auth.ValidateURL,
		WatchURL:    c.GQL.WatchURL,
		ClientID:    c.Auth.ClientID,
		UserAgent:   c.Auth.UserAgent,
		Timeout:     c.GQL.Timeout.Std(),
	}
}

// ToWatcherConfig converts to watch scheduler config
func (c *Config) ToWatcherConfig() watcher.Config {
	return watcher.Config{
		WatchInterval:   c.Watcher.WatchInterval.Std(),
		BonusCheckEvery: c.Watcher.BonusCheckEvery,
		OnlineDelay:     c.Watcher.OnlineDelay.Std(),
		RefreshSpacing:  c.Watcher.RefreshSpacing.Std(),
		RetryLong:       c.Watcher.RetryLong.Std(),
	}
}

// ToStoreConfig converts to store config
func (c *Config) ToStoreConfig() store.Config {
	return store.Config{
		DataDir: c.Storage.DataDir,
	}
}

// ToAPIConfig converts to API config
func (c *Config) ToAPIConfig() api.Config {
	return api.Config{
		Addr:           c.Server.Addr,
		ReadTimeout:    c.Server.ReadTimeout.Std(),
		WriteTimeout:   c.Server.WriteTimeout.Std(),
		IdleTimeout:    c.Server.IdleTimeout.Std(),
		MetricsEnabled: c.Metrics.Enabled,
	}
}

// ToLoggingConfig converts to logging config
func (c *Config) ToLoggingConfig() logging.Config {
	var format logging.LogFormat
	switch c.Logging.Format {
	case "json":
		format = logging.FormatJSON
	default:
		format = logging.FormatConsole
	}

	return logging.Config{
		Level:             c.Logging.Level,
		Format:            format,
		IncludeCaller:     c.Logging.IncludeCaller,
		IncludeStacktrace: true,
	}
}

// ToTelemetryConfig converts to telemetry config
func (c *Config) ToTelemetryConfig() telemetry.Config {
	return telemetry.Config{
		Enabled:       c.Telemetry.Enabled,
		ServiceName:   c.Telemetry.ServiceName,
		Endpoint:      c.Telemetry.Endpoint,
		SamplingRatio: c.Telemetry.SamplingRatio,
		Timeout:       5 * time.Second,
	}
}
