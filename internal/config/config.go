// Package config loads signalbridge configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all signalbridge configuration. Every field is populated
// by Load: defaults are applied first, then Validate runs once, so the
// rest of the program can read any field without additional nil/empty
// checks.
type Config struct {
	SignalEndpoint         string // host:port of the Signal gateway, no scheme
	RegisteredAccount      string
	WebhookURL             string
	AuthToken              string
	AuthorizationWhitelist []string // trimmed; membership test lowercases at call time

	GroupCacheSize int

	Timescale TimescaleConfig

	LogLevel string
}

// TimescaleConfig defines the archive writer's database connection and
// batching parameters.
type TimescaleConfig struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string

	BatchSize           int
	BatchTimeoutSeconds int
}

// DSN returns a lib/pq connection string for this configuration.
func (t TimescaleConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		t.Host, t.Port, t.Database, t.Username, t.Password)
}

// BatchTimeout returns the configured batch flush timeout as a
// time.Duration.
func (t TimescaleConfig) BatchTimeout() time.Duration {
	return time.Duration(t.BatchTimeoutSeconds) * time.Second
}

// envLookup abstracts os.LookupEnv so an overlay file or a test can
// supply values through the same path without mutating the real
// environment.
type envLookup func(key string) (string, bool)

// Load reads configuration from the environment. A `.env` file in the
// working directory is loaded first (best-effort; a missing file is
// not an error) via godotenv. If SIGNALBRIDGE_CONFIG_FILE names a YAML
// file, its keys seed values the environment then overrides —
// environment variables always win over the file.
func Load() (*Config, error) {
	_ = godotenv.Load() // best-effort; missing .env is normal outside containers

	overlay := map[string]string{}
	if path := os.Getenv("SIGNALBRIDGE_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config overlay %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &overlay); err != nil {
			return nil, fmt.Errorf("parse config overlay %s: %w", path, err)
		}
	}

	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		if v, ok := overlay[strings.ToLower(key)]; ok {
			return v, true
		}
		return "", false
	}

	return load(lookup)
}

// load builds a Config from an arbitrary lookup function, applying
// defaults first and validating last. Split out from Load so tests can
// supply an in-memory lookup instead of touching the real environment.
func load(lookup envLookup) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.readEnv(lookup)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
// Called before readEnv, so env/overlay values always take precedence.
func (c *Config) applyDefaults() {
	c.GroupCacheSize = 1000
	c.LogLevel = "info"

	c.Timescale = TimescaleConfig{
		Host:                "localhost",
		Port:                5432,
		Database:            "signalbus",
		Username:            "postgres",
		BatchSize:           100,
		BatchTimeoutSeconds: 5,
	}
}

// readEnv reads every recognized key via lookup, overwriting defaults
// where present.
func (c *Config) readEnv(lookup envLookup) {
	if v, ok := lookup("SIGNAL_ENDPOINT"); ok {
		c.SignalEndpoint = v
	}
	if v, ok := lookup("REGISTERED_ACCOUNT"); ok {
		c.RegisteredAccount = v
	}
	if v, ok := lookup("WEBHOOK_URL"); ok {
		c.WebhookURL = v
	}
	if v, ok := lookup("AUTH_TOKEN"); ok {
		c.AuthToken = v
	}
	if v, ok := lookup("AUTHORIZATION_WHITELIST"); ok {
		c.AuthorizationWhitelist = splitTrimmed(v)
	}
	if v, ok := lookup("GROUP_CACHE_SIZE"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.GroupCacheSize = n
		}
	}
	if v, ok := lookup("TIMESCALE_HOST"); ok {
		c.Timescale.Host = v
	}
	if v, ok := lookup("TIMESCALE_PORT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Timescale.Port = n
		}
	}
	if v, ok := lookup("TIMESCALE_DATABASE"); ok {
		c.Timescale.Database = v
	}
	if v, ok := lookup("TIMESCALE_USERNAME"); ok {
		c.Timescale.Username = v
	}
	if v, ok := lookup("TIMESCALE_PASSWORD"); ok {
		c.Timescale.Password = v
	}
	if v, ok := lookup("TIMESCALE_BATCH_SIZE"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Timescale.BatchSize = n
		}
	}
	if v, ok := lookup("TIMESCALE_BATCH_TIMEOUT_SECONDS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Timescale.BatchTimeoutSeconds = n
		}
	}
	if v, ok := lookup("LOG_LEVEL"); ok {
		c.LogLevel = v
	}
}

// splitTrimmed splits a comma-separated list and trims whitespace from
// each element, dropping any that are empty after trimming.
func splitTrimmed(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks that the configuration is internally consistent and
// that every required key was supplied. It runs after defaults and
// readEnv, so it can assume the struct is fully populated except for
// required fields that were never set.
func (c *Config) Validate() error {
	var missing []string
	if c.SignalEndpoint == "" {
		missing = append(missing, "SIGNAL_ENDPOINT")
	}
	if c.RegisteredAccount == "" {
		missing = append(missing, "REGISTERED_ACCOUNT")
	}
	if c.WebhookURL == "" {
		missing = append(missing, "WEBHOOK_URL")
	}
	if c.AuthToken == "" {
		missing = append(missing, "AUTH_TOKEN")
	}
	if c.Timescale.Password == "" {
		missing = append(missing, "TIMESCALE_PASSWORD")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	// An empty allow-list is valid configuration (deny-all); the
	// startup warning for that case is logged by the caller, not here.

	if c.GroupCacheSize < 1 {
		return fmt.Errorf("GROUP_CACHE_SIZE %d must be positive", c.GroupCacheSize)
	}
	if c.Timescale.Port < 1 || c.Timescale.Port > 65535 {
		return fmt.Errorf("TIMESCALE_PORT %d out of range (1-65535)", c.Timescale.Port)
	}
	if c.Timescale.BatchSize < 1 {
		return fmt.Errorf("TIMESCALE_BATCH_SIZE %d must be positive", c.Timescale.BatchSize)
	}
	if c.Timescale.BatchTimeoutSeconds < 1 {
		return fmt.Errorf("TIMESCALE_BATCH_TIMEOUT_SECONDS %d must be positive", c.Timescale.BatchTimeoutSeconds)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}

	return nil
}
