// Callstream - Radio Scanner Live Feed Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callstream

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, first match wins.
var DefaultConfigPaths = []string{
	"callstream.yaml",
	"callstream.yml",
	"/etc/callstream/config.yaml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// sliceConfigPaths are accepted as comma-separated strings from the environment.
var sliceConfigPaths = []string{
	"api.cors_origins",
}

func defaultConfig() *Config {
	return &Config{
		Feed: FeedConfig{
			URL:       "http://localhost:3000",
			Path:      "live",
			Transport: TransportWebSocket,
			NATSURL:   "nats://127.0.0.1:4222",
		},
		Transport: TransportConfig{
			HandshakeTimeout: 10 * time.Second,
			PingInterval:     30 * time.Second,
			ReconnectMin:     1 * time.Second,
			ReconnectMax:     32 * time.Second,
			InvokeTimeout:    10 * time.Second,
			BreakerFailures:  5,
			BreakerTimeout:   30 * time.Second,
		},
		Pool: PoolConfig{
			GracePeriod: 5 * time.Second,
		},
		Subscriptions: SubscriptionsConfig{
			Store: StoreBadger,
			Path:  "data/subscriptions",
		},
		Calls: CallsConfig{
			Capacity:      200,
			RecencyWindow: 2 * time.Minute,
			PageSize:      50,
			BacklogRate:   2,
			FetchTimeout:  15 * time.Second,
		},
		Playback: PlaybackConfig{
			ProbeTimeout: 2 * time.Second,
			Volume:       80,
			SampleRate:   44100,
			CacheSize:    32,
			CacheTTL:     10 * time.Minute,
			AutoStart:    false,
		},
		API: APIConfig{
			Enabled:         true,
			Listen:          "127.0.0.1:3857",
			CORSOrigins:     []string{"http://localhost:3857"},
			RateLimit:       120,
			RateLimitWindow: time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
	}
}

// Load builds the configuration from three layers, lowest priority first:
// struct defaults, the YAML config file (if found), environment variables.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lowercased) to koanf paths.
// Unmapped variables are ignored.
var envMappings = map[string]string{
	"feed_url":       "feed.url",
	"feed_token":     "feed.token",
	"feed_path":      "feed.path",
	"feed_transport": "feed.transport",
	"nats_url":       "feed.nats_url",

	"handshake_timeout":        "transport.handshake_timeout",
	"ping_interval":            "transport.ping_interval",
	"reconnect_min":            "transport.reconnect_min",
	"reconnect_max":            "transport.reconnect_max",
	"invoke_timeout":           "transport.invoke_timeout",
	"circuit_breaker_failures": "transport.breaker_failures",
	"circuit_breaker_timeout":  "transport.breaker_timeout",

	"pool_grace_period": "pool.grace_period",

	"subscription_store":      "subscriptions.store",
	"subscription_store_path": "subscriptions.path",

	"calls_capacity":       "calls.capacity",
	"calls_recency_window": "calls.recency_window",
	"calls_page_size":      "calls.page_size",
	"calls_backlog_rate":   "calls.backlog_rate",
	"calls_fetch_timeout":  "calls.fetch_timeout",

	"playback_probe_timeout": "playback.probe_timeout",
	"playback_volume":        "playback.volume",
	"playback_sample_rate":   "playback.sample_rate",
	"playback_cache_size":    "playback.cache_size",
	"playback_cache_ttl":     "playback.cache_ttl",
	"playback_auto_start":    "playback.auto_start",

	"api_enabled":          "api.enabled",
	"api_listen":           "api.listen",
	"cors_origins":         "api.cors_origins",
	"rate_limit_requests":  "api.rate_limit",
	"rate_limit_window":    "api.rate_limit_window",
	"api_shutdown_timeout": "api.shutdown_timeout",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	"supervisor_threshold": "supervisor.failure_threshold",
	"supervisor_backoff":   "supervisor.failure_backoff",
	"supervisor_shutdown":  "supervisor.shutdown_timeout",
}

func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
