package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guitarbeat/actual-ical/internal/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ACTUAL_SERVER_URL", "ACTUAL_PASSWORD", "ACTUAL_SYNC_ID",
		"ACTUAL_SYNC_PASSWORD", "ACTUAL_CACHE_DIR", "ACTUAL_TIMEZONE",
		"ACTUAL_CLEAR_CACHE", "LISTEN", "PORT", "CHECK_CRON", "LOG_LEVEL",
		"BASIC_AUTH_USERNAME", "BASIC_AUTH_PASSWORD",
	} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:3000", cfg.Listen)
	assert.Equal(t, ".actual-cache", cfg.CacheDir)
	assert.Equal(t, "UTC", cfg.Timezone)
	assert.True(t, cfg.ClearCacheOnError)
	assert.Equal(t, 60*time.Second, cfg.RequestTimeout())
	assert.Nil(t, cfg.BasicAuth)
}

func TestLoadYAMLFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server_url: https://actual.example.com
password: hunter2
sync_id: 9f2c
timezone: Europe/Paris
clear_cache_on_error: false
basic_auth:
  username: feed
  password: secret
`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://actual.example.com", cfg.ServerURL)
	assert.Equal(t, "Europe/Paris", cfg.Timezone)
	assert.False(t, cfg.ClearCacheOnError)
	// Absent keys keep their defaults.
	assert.Equal(t, ".actual-cache", cfg.CacheDir)
	require.NotNil(t, cfg.BasicAuth)
	assert.Equal(t, "feed", cfg.BasicAuth.Username)

	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "UTC", cfg.Timezone)
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server_url: https://file.example.com\n"), 0o600))

	t.Setenv("ACTUAL_SERVER_URL", "https://env.example.com")
	t.Setenv("ACTUAL_PASSWORD", "pw")
	t.Setenv("ACTUAL_SYNC_ID", "sid")
	t.Setenv("ACTUAL_CLEAR_CACHE", "false")
	t.Setenv("PORT", "8080")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.com", cfg.ServerURL)
	assert.False(t, cfg.ClearCacheOnError)
	assert.Equal(t, "0.0.0.0:8080", cfg.Listen)
	require.NoError(t, cfg.Validate())
}

func TestValidateRequiresBackendSettings(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load("")
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ACTUAL_SERVER_URL")

	cfg.ServerURL = "https://actual.example.com"
	assert.ErrorContains(t, cfg.Validate(), "ACTUAL_PASSWORD")

	cfg.Password = "pw"
	assert.ErrorContains(t, cfg.Validate(), "ACTUAL_SYNC_ID")

	cfg.SyncID = "sid"
	assert.NoError(t, cfg.Validate())

	cfg.Timezone = "Not/AZone"
	assert.ErrorContains(t, cfg.Validate(), "timezone")
}
