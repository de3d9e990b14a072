package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setEnv(t *testing.T, key, val string) {
	t.Helper()
	t.Setenv(key, val)
}

func clearRequired(t *testing.T) {
	t.Helper()
	os.Unsetenv("TOKEN_SIGNING_SECRET")
	os.Unsetenv("TOKEN_SIGNING_SECRET_FILE")
	os.Unsetenv("REMOTE_URL")
	os.Unsetenv("RULE_ENGINE_URL")
	os.Unsetenv("DRY_RUN")
}

func TestLoadMissingSecret(t *testing.T) {
	clearRequired(t)
	setEnv(t, "REMOTE_URL", "https://api.example.com")
	setEnv(t, "RULE_ENGINE_URL", "http://127.0.0.1:7070")

	_, err := Load()
	if err == nil {
		t.Error("expected error when TOKEN_SIGNING_SECRET missing")
	}
}

func TestLoadMinimalValid(t *testing.T) {
	clearRequired(t)
	setEnv(t, "TOKEN_SIGNING_SECRET", "s3cr3t")
	setEnv(t, "REMOTE_URL", "https://api.example.com")
	setEnv(t, "RULE_ENGINE_URL", "http://127.0.0.1:7070")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RemoteURL != "https://api.example.com" {
		t.Errorf("RemoteURL: got %q", cfg.RemoteURL)
	}
	if cfg.TokenSigningSecret != "s3cr3t" {
		t.Errorf("TokenSigningSecret: got %q", cfg.TokenSigningSecret)
	}
	// Defaults applied
	if cfg.RuleCap != 5000 {
		t.Errorf("RuleCap default: got %d, want 5000", cfg.RuleCap)
	}
	if cfg.RuleIDStart != 20000 {
		t.Errorf("RuleIDStart default: got %d, want 20000", cfg.RuleIDStart)
	}
	if cfg.SessionMinMinutes != 5 {
		t.Errorf("SessionMinMinutes default: got %d, want 5", cfg.SessionMinMinutes)
	}
	if cfg.TickInterval != time.Second {
		t.Errorf("TickInterval default: got %s", cfg.TickInterval)
	}
}

func TestDryRunSkipsRuleEngineURL(t *testing.T) {
	clearRequired(t)
	setEnv(t, "TOKEN_SIGNING_SECRET", "s3cr3t")
	setEnv(t, "REMOTE_URL", "https://api.example.com")
	setEnv(t, "DRY_RUN", "true")

	if _, err := Load(); err != nil {
		t.Fatalf("Load with DRY_RUN: %v", err)
	}
}

func TestFileSecretInjection(t *testing.T) {
	clearRequired(t)
	dir := t.TempDir()
	secretFile := filepath.Join(dir, "secret.txt")
	if err := os.WriteFile(secretFile, []byte("  secret-from-file  \n"), 0600); err != nil {
		t.Fatal(err)
	}

	setEnv(t, "TOKEN_SIGNING_SECRET_FILE", secretFile)
	setEnv(t, "REMOTE_URL", "https://api.example.com")
	setEnv(t, "RULE_ENGINE_URL", "http://127.0.0.1:7070")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load with file secret: %v", err)
	}
	if cfg.TokenSigningSecret != "secret-from-file" {
		t.Errorf("TokenSigningSecret from file: got %q", cfg.TokenSigningSecret)
	}
}

func TestQuoteStripping(t *testing.T) {
	clearRequired(t)
	setEnv(t, "TOKEN_SIGNING_SECRET", `"quoted-secret"`)
	setEnv(t, "REMOTE_URL", `'https://api.example.com'`)
	setEnv(t, "RULE_ENGINE_URL", "http://127.0.0.1:7070")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TokenSigningSecret != "quoted-secret" {
		t.Errorf("quotes not stripped: got %q", cfg.TokenSigningSecret)
	}
	if cfg.RemoteURL != "https://api.example.com" {
		t.Errorf("quotes not stripped: got %q", cfg.RemoteURL)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		return &Config{
			TokenSigningSecret: "s",
			RemoteURL:          "https://api.example.com",
			RuleEngineURL:      "http://127.0.0.1:7070",
			RuleCap:            5000,
			RuleIDStart:        20000,
			SessionMinMinutes:  5,
			TokenTTL:           time.Hour,
			TickInterval:       time.Second,
			FlushInterval:      30 * time.Second,
			HeartbeatInterval:  25 * time.Second,
			WakeAlarmInterval:  time.Minute,
			PoolWorkers:        2,
			PoolQueueDepth:     1024,
			LogLevel:           "info",
			LogFormat:          "json",
		}
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"rule cap zero", func(c *Config) { c.RuleCap = 0 }},
		{"flush < tick", func(c *Config) { c.FlushInterval = 100 * time.Millisecond }},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }},
		{"pool workers zero", func(c *Config) { c.PoolWorkers = 0 }},
		{"bad remote scheme", func(c *Config) { c.RemoteURL = "ftp://x" }},
		{"token ttl zero", func(c *Config) { c.TokenTTL = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	if err := base().Validate(); err != nil {
		t.Errorf("base config should validate: %v", err)
	}
}

func TestStripEnvQuotes(t *testing.T) {
	cases := []struct{ in, want string }{
		{`"x"`, "x"},
		{`'x'`, "x"},
		{`"x'`, `"x'`},
		{`x`, "x"},
		{`"`, `"`},
		{``, ``},
	}
	for _, c := range cases {
		if got := stripEnvQuotes(c.in); got != c.want {
			t.Errorf("stripEnvQuotes(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
