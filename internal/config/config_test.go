package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.NotNil(t, cfg)

	assert.Equal(t, ":8420", cfg.Server.Addr)
	assert.Equal(t, "./data", cfg.Storage.DataDir)
	assert.Equal(t, "wss://pubsub-edge.twitch.tv/v1", cfg.PubSub.URL)
	assert.Equal(t, 50, cfg.PubSub.MaxTopics)
	assert.Equal(t, 3*time.Minute, cfg.PubSub.PingInterval.Std())
	assert.Equal(t, 10*time.Second, cfg.PubSub.PingTimeout.Std())
	assert.Equal(t, 59*time.Second, cfg.Watcher.WatchInterval.Std())
	assert.Equal(t, 30, cfg.Watcher.BonusCheckEvery)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Empty(t, cfg.Channels)
}

func TestLoadConfigFromFile(t *testing.T) {
	testConfig := `channels:
  - streamer_a
  - streamer_b
server:
  addr: ":9090"
pubsub:
  max_topics: 10
  ping_interval: 1m
watcher:
  watch_interval: 30s
logging:
  level: "debug"
`
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "config.yaml")

	err := os.WriteFile(configFile, []byte(testConfig), 0644)
	require.NoError(t, err)

	cfg, err := LoadConfigFromFile(configFile)
	require.NoError(t, err)

	assert.Equal(t, []string{"streamer_a", "streamer_b"}, cfg.Channels)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 10, cfg.PubSub.MaxTopics)
	assert.Equal(t, time.Minute, cfg.PubSub.PingInterval.Std())
	assert.Equal(t, 30*time.Second, cfg.Watcher.WatchInterval.Std())
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Untouched sections keep their defaults.
	assert.Equal(t, "./data", cfg.Storage.DataDir)
	assert.Equal(t, 10*time.Second, cfg.PubSub.PingTimeout.Std())
}

func TestLoadConfigFromMissingFile(t *testing.T) {
	cfg, err := LoadConfigFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigFromInvalidFile(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("{not yaml"), 0644))

	_, err := LoadConfigFromFile(configFile)
	assert.Error(t, err)
}

func TestInvalidDuration(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("pubsub:\n  ping_interval: soon\n"), 0644))

	_, err := LoadConfigFromFile(configFile)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TWITCH_AUTH_TOKEN", "oauth-token")
	t.Setenv("DROPWATCH_CHANNELS", "one, two ,three")
	t.Setenv("DROPWATCH_SERVER_ADDR", ":7000")
	t.Setenv("DROPWATCH_PUBSUB_MAX_TOPICS", "25")
	t.Setenv("DROPWATCH_WATCH_INTERVAL", "45s")
	t.Setenv("DROPWATCH_LOG_LEVEL", "warn")

	cfg, err := LoadConfig("", "", "", "")
	require.NoError(t, err)

	assert.Equal(t, "oauth-token", cfg.Auth.Token)
	assert.Equal(t, []string{"one", "two", "three"}, cfg.Channels)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, 25, cfg.PubSub.MaxTopics)
	assert.Equal(t, 45*time.Second, cfg.Watcher.WatchInterval.Std())
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestFlagOverridesBeatEnv(t *testing.T) {
	t.Setenv("DROPWATCH_SERVER_ADDR", ":7000")
	t.Setenv("DROPWATCH_LOG_LEVEL", "warn")

	cfg, err := LoadConfig("", t.TempDir(), ":6000", "debug")
	require.NoError(t, err)

	assert.Equal(t, ":6000", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, filepath.IsAbs(cfg.Storage.DataDir))
}
