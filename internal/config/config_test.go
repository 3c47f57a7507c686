package config

import (
	"strings"
	"testing"
)

func fakeLookup(env map[string]string) envLookup {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func requiredEnv() map[string]string {
	return map[string]string{
		"SIGNAL_ENDPOINT":    "signal-cli:8080",
		"REGISTERED_ACCOUNT": "+15550000",
		"WEBHOOK_URL":        "https://assistant.example/webhook",
		"AUTH_TOKEN":         "s3cret",
		"TIMESCALE_PASSWORD": "dbpass",
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(fakeLookup(requiredEnv()))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.GroupCacheSize != 1000 {
		t.Errorf("GroupCacheSize = %d, want 1000", cfg.GroupCacheSize)
	}
	if cfg.Timescale.Host != "localhost" {
		t.Errorf("Timescale.Host = %q, want localhost", cfg.Timescale.Host)
	}
	if cfg.Timescale.Port != 5432 {
		t.Errorf("Timescale.Port = %d, want 5432", cfg.Timescale.Port)
	}
	if cfg.Timescale.Database != "signalbus" {
		t.Errorf("Timescale.Database = %q, want signalbus", cfg.Timescale.Database)
	}
	if cfg.Timescale.BatchSize != 100 {
		t.Errorf("Timescale.BatchSize = %d, want 100", cfg.Timescale.BatchSize)
	}
	if cfg.Timescale.BatchTimeoutSeconds != 5 {
		t.Errorf("Timescale.BatchTimeoutSeconds = %d, want 5", cfg.Timescale.BatchTimeoutSeconds)
	}
	if len(cfg.AuthorizationWhitelist) != 0 {
		t.Errorf("AuthorizationWhitelist = %v, want empty", cfg.AuthorizationWhitelist)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	cases := []struct {
		name string
		drop string
	}{
		{"endpoint", "SIGNAL_ENDPOINT"},
		{"account", "REGISTERED_ACCOUNT"},
		{"webhook", "WEBHOOK_URL"},
		{"token", "AUTH_TOKEN"},
		{"db password", "TIMESCALE_PASSWORD"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := requiredEnv()
			delete(env, tc.drop)

			_, err := load(fakeLookup(env))
			if err == nil {
				t.Fatalf("load with %s missing: expected error", tc.drop)
			}
			if !strings.Contains(err.Error(), tc.drop) {
				t.Errorf("error %q does not mention %s", err, tc.drop)
			}
		})
	}
}

func TestLoad_AuthorizationWhitelistParsing(t *testing.T) {
	env := requiredEnv()
	env["AUTHORIZATION_WHITELIST"] = " +15550001, +15550002 ,,+15550003"

	cfg, err := load(fakeLookup(env))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	want := []string{"+15550001", "+15550002", "+15550003"}
	if len(cfg.AuthorizationWhitelist) != len(want) {
		t.Fatalf("AuthorizationWhitelist = %v, want %v", cfg.AuthorizationWhitelist, want)
	}
	for i, w := range want {
		if cfg.AuthorizationWhitelist[i] != w {
			t.Errorf("AuthorizationWhitelist[%d] = %q, want %q", i, cfg.AuthorizationWhitelist[i], w)
		}
	}
}

func TestLoad_Overrides(t *testing.T) {
	env := requiredEnv()
	env["GROUP_CACHE_SIZE"] = "42"
	env["TIMESCALE_BATCH_SIZE"] = "250"
	env["TIMESCALE_BATCH_TIMEOUT_SECONDS"] = "10"
	env["LOG_LEVEL"] = "trace"

	cfg, err := load(fakeLookup(env))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.GroupCacheSize != 42 {
		t.Errorf("GroupCacheSize = %d, want 42", cfg.GroupCacheSize)
	}
	if cfg.Timescale.BatchSize != 250 {
		t.Errorf("Timescale.BatchSize = %d, want 250", cfg.Timescale.BatchSize)
	}
	if cfg.Timescale.BatchTimeout().Seconds() != 10 {
		t.Errorf("Timescale.BatchTimeout() = %v, want 10s", cfg.Timescale.BatchTimeout())
	}
	if cfg.LogLevel != "trace" {
		t.Errorf("LogLevel = %q, want trace", cfg.LogLevel)
	}
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	env := requiredEnv()
	env["LOG_LEVEL"] = "verbose"

	if _, err := load(fakeLookup(env)); err == nil {
		t.Fatal("load with invalid LOG_LEVEL: expected error")
	}
}

func TestLoad_InvalidGroupCacheSize(t *testing.T) {
	env := requiredEnv()
	env["GROUP_CACHE_SIZE"] = "0"

	if _, err := load(fakeLookup(env)); err == nil {
		t.Fatal("load with GROUP_CACHE_SIZE=0: expected error")
	}
}

func TestTimescaleConfig_DSN(t *testing.T) {
	tc := TimescaleConfig{
		Host:     "db.internal",
		Port:     5433,
		Database: "signalbus",
		Username: "bridge",
		Password: "hunter2",
	}

	dsn := tc.DSN()
	for _, want := range []string{"host=db.internal", "port=5433", "dbname=signalbus", "user=bridge", "password=hunter2"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("DSN() = %q, missing %q", dsn, want)
		}
	}
}
