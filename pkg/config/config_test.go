package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, ":8080", cfg.Signal.Address)
	assert.Equal(t, 30*time.Second, cfg.Signal.PingInterval)
	assert.False(t, cfg.Auth.Required)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Signal.Address, cfg.Signal.Address)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
signal:
  address: ":9000"
  ping_interval: 10s
room:
  max_peers: 4
logging:
  level: debug
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Signal.Address)
	assert.Equal(t, 10*time.Second, cfg.Signal.PingInterval)
	assert.Equal(t, 4, cfg.Room.MaxPeers)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Untouched sections keep defaults.
	assert.Equal(t, 60*time.Second, cfg.Signal.PongTimeout)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Signal.Address = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Room.MaxPeers = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Auth.Required = true
	assert.Error(t, cfg.Validate(), "auth without secret must fail")

	cfg = DefaultConfig()
	cfg.WebRTC.PortRange.Min = 5000
	assert.Error(t, cfg.Validate(), "half-open port range must fail")

	cfg = DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.MessagesPerSecond = 0
	assert.Error(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HUDDLENET_SIGNAL_ADDRESS", ":7777")
	t.Setenv("HUDDLENET_LOG_LEVEL", "warn")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.Signal.Address)
	assert.Equal(t, "warn", cfg.Logging.Level)
}
