package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiredVariables(t *testing.T) {
	t.Setenv("SERVER_URL", "")
	t.Setenv("DEVICE_ID", "")

	_, err := Load()
	require.Error(t, err)

	t.Setenv("SERVER_URL", "https://api.example.com")
	_, err = Load()
	require.Error(t, err, "DEVICE_ID still missing")

	t.Setenv("DEVICE_ID", "device-1")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com", cfg.ServerURL)
	assert.Equal(t, "device-1", cfg.DeviceID)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SERVER_URL", "https://api.example.com")
	t.Setenv("DEVICE_ID", "device-1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, "./data/fieldsync.db", cfg.DatabasePath)
	assert.Equal(t, "./data/photos", cfg.PhotoDir)
	assert.Equal(t, "127.0.0.1:7411", cfg.ListenAddr)
	assert.Equal(t, "https://api.example.com/health", cfg.ProbeURL)
	assert.Equal(t, 30*time.Second, cfg.ProbeInterval)
	assert.Equal(t, 2*time.Second, cfg.DebounceWindow)
	assert.True(t, cfg.AutoSyncOnReconnect)
	assert.Equal(t, 7, cfg.RetentionDays)
	assert.False(t, cfg.Debug)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SERVER_URL", "https://api.example.com")
	t.Setenv("DEVICE_ID", "device-1")
	t.Setenv("DATA_DIR", "/var/lib/fieldsync")
	t.Setenv("PROBE_INTERVAL", "10s")
	t.Setenv("DEBOUNCE_WINDOW", "500ms")
	t.Setenv("AUTO_SYNC_ON_RECONNECT", "false")
	t.Setenv("RETENTION_DAYS", "14")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/fieldsync/fieldsync.db", cfg.DatabasePath)
	assert.Equal(t, 10*time.Second, cfg.ProbeInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.DebounceWindow)
	assert.False(t, cfg.AutoSyncOnReconnect)
	assert.Equal(t, 14, cfg.RetentionDays)
}

func TestInvalidNumericFallsBack(t *testing.T) {
	t.Setenv("SERVER_URL", "https://api.example.com")
	t.Setenv("DEVICE_ID", "device-1")
	t.Setenv("RETENTION_DAYS", "a week")
	t.Setenv("PROBE_INTERVAL", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.RetentionDays)
	assert.Equal(t, 30*time.Second, cfg.ProbeInterval)
}
