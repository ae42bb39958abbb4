// Callstream - Radio Scanner Live Feed Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callstream

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// isolate points CONFIG_PATH at a file that does not exist and runs from an
// empty directory so no stray callstream.yaml is picked up.
func isolate(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv(ConfigPathEnvVar, filepath.Join(dir, "missing.yaml"))
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Pool.GracePeriod != 5*time.Second {
		t.Errorf("Pool.GracePeriod = %v, want 5s", cfg.Pool.GracePeriod)
	}
	if cfg.Calls.Capacity != 200 {
		t.Errorf("Calls.Capacity = %d, want 200", cfg.Calls.Capacity)
	}
	if cfg.Calls.RecencyWindow != 2*time.Minute {
		t.Errorf("Calls.RecencyWindow = %v, want 2m", cfg.Calls.RecencyWindow)
	}
	if cfg.Feed.Transport != TransportWebSocket {
		t.Errorf("Feed.Transport = %q, want websocket", cfg.Feed.Transport)
	}
	if cfg.Playback.Volume != 80 {
		t.Errorf("Playback.Volume = %d, want 80", cfg.Playback.Volume)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Transport.ReconnectMax != 32*time.Second {
		t.Errorf("Transport.ReconnectMax = %v, want 32s", cfg.Transport.ReconnectMax)
	}
	if cfg.Subscriptions.Store != StoreBadger {
		t.Errorf("Subscriptions.Store = %q, want badger", cfg.Subscriptions.Store)
	}
}

func TestLoadFromFile(t *testing.T) {
	isolate(t)

	path := filepath.Join(t.TempDir(), "callstream.yaml")
	content := `
feed:
  url: https://scanner.example.org
  path: county
calls:
  capacity: 50
  recency_window: 45s
playback:
  volume: 30
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Feed.URL != "https://scanner.example.org" {
		t.Errorf("Feed.URL = %q", cfg.Feed.URL)
	}
	if cfg.Feed.Path != "county" {
		t.Errorf("Feed.Path = %q", cfg.Feed.Path)
	}
	if cfg.Calls.Capacity != 50 {
		t.Errorf("Calls.Capacity = %d, want 50", cfg.Calls.Capacity)
	}
	if cfg.Calls.RecencyWindow != 45*time.Second {
		t.Errorf("Calls.RecencyWindow = %v, want 45s", cfg.Calls.RecencyWindow)
	}
	if cfg.Playback.Volume != 30 {
		t.Errorf("Playback.Volume = %d, want 30", cfg.Playback.Volume)
	}
	// untouched sections keep defaults
	if cfg.Pool.GracePeriod != 5*time.Second {
		t.Errorf("Pool.GracePeriod = %v, want 5s", cfg.Pool.GracePeriod)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	isolate(t)

	path := filepath.Join(t.TempDir(), "callstream.yaml")
	if err := os.WriteFile(path, []byte("calls:\n  capacity: 50\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("CALLS_CAPACITY", "75")
	t.Setenv("POOL_GRACE_PERIOD", "250ms")
	t.Setenv("CORS_ORIGINS", "http://a.test, http://b.test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Calls.Capacity != 75 {
		t.Errorf("Calls.Capacity = %d, want 75", cfg.Calls.Capacity)
	}
	if cfg.Pool.GracePeriod != 250*time.Millisecond {
		t.Errorf("Pool.GracePeriod = %v, want 250ms", cfg.Pool.GracePeriod)
	}
	if len(cfg.API.CORSOrigins) != 2 || cfg.API.CORSOrigins[1] != "http://b.test" {
		t.Errorf("API.CORSOrigins = %v", cfg.API.CORSOrigins)
	}
}

func TestEnvTransformFunc(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"FEED_URL", "feed.url"},
		{"FEED_TRANSPORT", "feed.transport"},
		{"NATS_URL", "feed.nats_url"},
		{"PLAYBACK_PROBE_TIMEOUT", "playback.probe_timeout"},
		{"LOG_LEVEL", "logging.level"},
		{"HOME", ""},
		{"PATH", ""},
	}
	for _, tt := range tests {
		if got := envTransformFunc(tt.in); got != tt.want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidateRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad transport", func(c *Config) { c.Feed.Transport = "grpc" }, "one of"},
		{"ws scheme in feed url", func(c *Config) { c.Feed.URL = "ws://host" }, "http or https"},
		{"nats without url", func(c *Config) {
			c.Feed.Transport = TransportNATS
			c.Feed.NATSURL = ""
		}, "nats_url"},
		{"zero capacity", func(c *Config) { c.Calls.Capacity = 0 }, "at least 1"},
		{"volume over 100", func(c *Config) { c.Playback.Volume = 150 }, "at most 100"},
		{"backoff inverted", func(c *Config) { c.Transport.ReconnectMin = time.Minute }, "must not exceed"},
		{"badger without path", func(c *Config) { c.Subscriptions.Path = "" }, "subscriptions.path"},
		{"zero probe timeout", func(c *Config) { c.Playback.ProbeTimeout = 0 }, "ProbeTimeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateMemoryStoreNeedsNoPath(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.Subscriptions.Store = StoreMemory
	cfg.Subscriptions.Path = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("memory store should not need a path: %v", err)
	}
}
