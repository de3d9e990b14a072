package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds all application configuration.
type Config struct {
	// Remote category/blocklist service
	RemoteURL         string        `koanf:"remote_url"`
	RemoteHTTPTimeout time.Duration `koanf:"remote_http_timeout"`
	RemoteAPIDebug    bool          `koanf:"remote_api_debug"`
	RemoteVerifyTLS   bool          `koanf:"remote_verify_tls"`
	RemoteCACert      string        `koanf:"remote_ca_cert"`
	SyncInterval      time.Duration `koanf:"sync_interval"`

	// Session token scheme
	TokenSigningSecret string        `koanf:"token_signing_secret"`
	TokenSubject       string        `koanf:"token_subject"`
	TokenTTL           time.Duration `koanf:"token_ttl"`

	// Host rule engine
	RuleEngineURL         string        `koanf:"rule_engine_url"`
	RuleEngineHTTPTimeout time.Duration `koanf:"rule_engine_http_timeout"`
	RuleIDStart           int           `koanf:"rule_id_start"`
	RuleCap               int           `koanf:"rule_cap"`
	BlockRedirectURL      string        `koanf:"block_redirect_url"`

	// Session behavior
	SessionMinMinutes int `koanf:"session_min_minutes"`

	// Time tracking
	TickInterval  time.Duration `koanf:"tick_interval"`
	FlushInterval time.Duration `koanf:"flush_interval"`

	// Wake/recovery
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
	WakeAlarmInterval time.Duration `koanf:"wake_alarm_interval"`

	// Worker pool (outward deny-list propagation)
	PoolWorkers    int           `koanf:"pool_workers"`
	PoolQueueDepth int           `koanf:"pool_queue_depth"`
	PoolMaxRetries int           `koanf:"pool_max_retries"`
	PoolRetryBase  time.Duration `koanf:"pool_retry_base"`

	// Storage
	DataDir string `koanf:"data_dir"`

	// Operational
	DryRun         bool   `koanf:"dry_run"`
	LogLevel       string `koanf:"log_level"`
	LogFormat      string `koanf:"log_format"`
	MetricsEnabled bool   `koanf:"metrics_enabled"`
	MetricsAddr    string `koanf:"metrics_addr"`
	APIAddr        string `koanf:"api_addr"`
	HealthAddr     string `koanf:"health_addr"`
}

// sanitise removes a single layer of matching surrounding quotes from all
// string fields. This normalises values from Docker --env-file which does
// not strip shell quoting.
func (c *Config) sanitise() {
	c.RemoteURL = stripEnvQuotes(c.RemoteURL)
	c.RemoteCACert = stripEnvQuotes(c.RemoteCACert)
	c.TokenSigningSecret = stripEnvQuotes(c.TokenSigningSecret)
	c.TokenSubject = stripEnvQuotes(c.TokenSubject)
	c.RuleEngineURL = stripEnvQuotes(c.RuleEngineURL)
	c.BlockRedirectURL = stripEnvQuotes(c.BlockRedirectURL)
	c.DataDir = stripEnvQuotes(c.DataDir)
	c.LogLevel = stripEnvQuotes(c.LogLevel)
	c.LogFormat = stripEnvQuotes(c.LogFormat)
	c.MetricsAddr = stripEnvQuotes(c.MetricsAddr)
	c.APIAddr = stripEnvQuotes(c.APIAddr)
	c.HealthAddr = stripEnvQuotes(c.HealthAddr)
}

// defaults sets sensible default values.
func defaults() map[string]interface{} {
	return map[string]interface{}{
		"remote_http_timeout":      "15s",
		"remote_verify_tls":        true,
		"sync_interval":            "5m",
		"token_subject":            "controller",
		"token_ttl":                "1h",
		"rule_engine_http_timeout": "10s",
		"rule_id_start":            20000,
		"rule_cap":                 5000,
		"block_redirect_url":       "https://localhost/blocked",
		"session_min_minutes":      5,
		"tick_interval":            "1s",
		"flush_interval":           "30s",
		"heartbeat_interval":       "25s",
		"wake_alarm_interval":      "1m",
		"pool_workers":             2,
		"pool_queue_depth":         1024,
		"pool_max_retries":         3,
		"pool_retry_base":          "1s",
		"data_dir":                 "/data",
		"log_level":                "info",
		"log_format":               "json",
		"metrics_enabled":          true,
		"metrics_addr":             ":9090",
		"api_addr":                 ":8080",
		"health_addr":              ":8081",
	}
}

// stripEnvQuotes removes a single layer of matching surrounding single or
// double quotes from s. Only symmetric pairs are stripped: 'x' → x, "x" → x.
// Unpaired or mismatched quotes are left as-is.
func stripEnvQuotes(s string) string {
	if len(s) < 2 {
		return s
	}
	if (s[0] == '\'' && s[len(s)-1] == '\'') ||
		(s[0] == '"' && s[len(s)-1] == '"') {
		return s[1 : len(s)-1]
	}
	return s
}

// Load reads configuration from environment variables, applying _FILE secret injection.
func Load() (*Config, error) {
	// Use "." as delimiter so that env vars with "_" in their names are
	// treated as flat keys, not nested paths. E.g. REMOTE_URL → "remote_url"
	// maps to struct tag koanf:"remote_url" without any nesting.
	k := koanf.New(".")

	defs := defaults()
	if err := k.Load(&rawProvider{data: defs}, nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(s)
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	if err := injectFileSecrets(k); err != nil {
		return nil, fmt.Errorf("inject file secrets: %w", err)
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.sanitise()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and semantic constraints.
//
// A missing TOKEN_SIGNING_SECRET is a hard startup failure: the token scheme
// must refuse to issue or verify anything without it, and failing here keeps
// the condition loud rather than letting the daemon run unauthenticated.
func (c *Config) Validate() error {
	if c.TokenSigningSecret == "" {
		return fmt.Errorf("TOKEN_SIGNING_SECRET is required")
	}
	if c.RemoteURL == "" {
		return fmt.Errorf("REMOTE_URL is required")
	}
	if !strings.HasPrefix(c.RemoteURL, "http://") && !strings.HasPrefix(c.RemoteURL, "https://") {
		return fmt.Errorf("REMOTE_URL must start with http:// or https://; got %q", c.RemoteURL)
	}
	if !c.DryRun && c.RuleEngineURL == "" {
		return fmt.Errorf("RULE_ENGINE_URL is required unless DRY_RUN=true")
	}

	if c.RuleCap < 1 {
		return fmt.Errorf("RULE_CAP must be >= 1; got %d", c.RuleCap)
	}
	if c.RuleIDStart < 1 {
		return fmt.Errorf("RULE_ID_START must be >= 1; got %d", c.RuleIDStart)
	}
	if c.SessionMinMinutes < 1 {
		return fmt.Errorf("SESSION_MIN_MINUTES must be >= 1; got %d", c.SessionMinMinutes)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be > 0; got %s", c.TokenTTL)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("TICK_INTERVAL must be > 0; got %s", c.TickInterval)
	}
	if c.FlushInterval < c.TickInterval {
		return fmt.Errorf("FLUSH_INTERVAL must be >= TICK_INTERVAL; got %s < %s", c.FlushInterval, c.TickInterval)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("HEARTBEAT_INTERVAL must be > 0; got %s", c.HeartbeatInterval)
	}
	if c.WakeAlarmInterval <= 0 {
		return fmt.Errorf("WAKE_ALARM_INTERVAL must be > 0; got %s", c.WakeAlarmInterval)
	}

	if c.PoolWorkers < 1 || c.PoolWorkers > 64 {
		return fmt.Errorf("POOL_WORKERS must be 1–64; got %d", c.PoolWorkers)
	}
	if c.PoolQueueDepth < 1 {
		return fmt.Errorf("POOL_QUEUE_DEPTH must be >= 1; got %d", c.PoolQueueDepth)
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of trace,debug,info,warn,error,fatal,panic; got %q", c.LogLevel)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("LOG_FORMAT must be json or text; got %q", c.LogFormat)
	}

	return nil
}

// injectFileSecrets reads _FILE env vars and injects their file contents.
var fileSecretKeys = []string{
	"token_signing_secret",
}

func injectFileSecrets(k *koanf.Koanf) error {
	for _, key := range fileSecretKeys {
		fileKey := key + "_file"
		filePath := k.String(fileKey)
		if filePath == "" {
			envKey := strings.ToUpper(key) + "_FILE"
			filePath = os.Getenv(envKey)
		}
		if filePath == "" {
			continue
		}
		filePath = stripEnvQuotes(filePath)
		content, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("reading secret file for %s (%s): %w", key, filePath, err)
		}
		val := strings.TrimSpace(string(content))
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("setting %s from file: %w", key, err)
		}
	}
	return nil
}

// rawProvider implements koanf.Provider for a map[string]interface{}.
type rawProvider struct {
	data map[string]interface{}
}

// Read returns the config map directly (no Parser needed).
func (r *rawProvider) Read() (map[string]interface{}, error) {
	return r.data, nil
}

// ReadBytes is not used by rawProvider; koanf calls Read() when no Parser is given.
func (r *rawProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("rawProvider does not support ReadBytes")
}
