package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the feed endpoints.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration. Values come from an
// optional YAML file with environment variables taking precedence; see
// ApplyEnv for the variable names.
type Config struct {
	// Listen is the HTTP listen address for the feed server.
	Listen string `yaml:"listen" json:"listen"`

	// ServerURL is the base URL of the Actual sync server.
	ServerURL string `yaml:"server_url" json:"server_url"`

	// Password is the main password used to log into the server.
	Password string `yaml:"password" json:"password"`

	// SyncID identifies which remote budget file to pull.
	SyncID string `yaml:"sync_id" json:"sync_id"`

	// SyncPassword unlocks end-to-end encrypted budget files, when set.
	SyncPassword string `yaml:"sync_password" json:"sync_password"`

	// CacheDir is where the downloaded budget database lives between
	// requests. It is destroyed and recreated on migration failures.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// Timezone is the IANA timezone attached to generated occurrences.
	Timezone string `yaml:"timezone" json:"timezone"`

	// ClearCacheOnError controls whether a migration-classified fetch
	// failure may clear the cache directory and retry once.
	ClearCacheOnError bool `yaml:"clear_cache_on_error" json:"clear_cache_on_error"`

	// CheckCron is a cron expression for the periodic backend connectivity
	// probe. Empty disables the probe.
	CheckCron string `yaml:"check_cron" json:"check_cron"`

	// RequestTimeoutSec bounds a single feed request end to end, including
	// the budget download. A timeout surfaces as a network failure.
	RequestTimeoutSec int `yaml:"request_timeout_sec" json:"request_timeout_sec"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:            "0.0.0.0:3000",
		CacheDir:          ".actual-cache",
		Timezone:          "UTC",
		ClearCacheOnError: true,
		CheckCron:         "@hourly",
		RequestTimeoutSec: 60,
		LogLevel:          "info",
	}
}

// Normalize fills in missing/zero values with defaults so partially-filled
// configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "0.0.0.0:3000"
	}
	if c.CacheDir == "" {
		c.CacheDir = ".actual-cache"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.RequestTimeoutSec <= 0 {
		c.RequestTimeoutSec = 60
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate reports the first missing required value. The server URL,
// password and sync id have no usable defaults.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return errors.New("server URL is not configured (ACTUAL_SERVER_URL)")
	}
	if c.Password == "" {
		return errors.New("server password is not configured (ACTUAL_PASSWORD)")
	}
	if c.SyncID == "" {
		return errors.New("sync id is not configured (ACTUAL_SYNC_ID)")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// RequestTimeout returns the per-request deadline as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// Load reads configuration from the given YAML path and then applies
// environment overrides.
//
// Behavior:
//   - path == "": defaults + environment only
//   - file missing: defaults + environment (no file is created)
//   - file present: YAML is unmarshalled over the defaults, so absent keys
//     keep their default values
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist):
			// fall through to env-only configuration
		default:
			return nil, err
		}
	}

	cfg.ApplyEnv()
	cfg.Normalize()
	return cfg, nil
}

// ApplyEnv overrides config values from the process environment.
func (c *Config) ApplyEnv() {
	setString(&c.ServerURL, "ACTUAL_SERVER_URL")
	setString(&c.Password, "ACTUAL_PASSWORD")
	setString(&c.SyncID, "ACTUAL_SYNC_ID")
	setString(&c.SyncPassword, "ACTUAL_SYNC_PASSWORD")
	setString(&c.CacheDir, "ACTUAL_CACHE_DIR")
	setString(&c.Timezone, "ACTUAL_TIMEZONE")
	setString(&c.CheckCron, "CHECK_CRON")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.Listen, "LISTEN")

	// PORT is honored for platforms that only hand out a port number.
	if v, ok := os.LookupEnv("PORT"); ok && v != "" {
		c.Listen = "0.0.0.0:" + v
	}

	if v, ok := os.LookupEnv("ACTUAL_CLEAR_CACHE"); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.ClearCacheOnError = b
		}
	}

	user, uok := os.LookupEnv("BASIC_AUTH_USERNAME")
	pass, pok := os.LookupEnv("BASIC_AUTH_PASSWORD")
	if uok && pok && user != "" && pass != "" {
		c.BasicAuth = &BasicAuthConfig{Username: user, Password: pass}
	}
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}
