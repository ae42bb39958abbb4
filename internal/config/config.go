// Callstream - Radio Scanner Live Feed Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callstream

// Package config loads Callstream configuration from defaults, an optional
// YAML file and environment variables using koanf, then validates it.
package config

import "time"

// Transport kinds accepted in feed.transport.
const (
	TransportWebSocket = "websocket"
	TransportNATS      = "nats"
)

// Subscription store kinds accepted in subscriptions.store.
const (
	StoreBadger = "badger"
	StoreMemory = "memory"
)

// Config holds all application configuration.
type Config struct {
	Feed          FeedConfig          `koanf:"feed"`
	Transport     TransportConfig     `koanf:"transport"`
	Pool          PoolConfig          `koanf:"pool"`
	Subscriptions SubscriptionsConfig `koanf:"subscriptions"`
	Calls         CallsConfig         `koanf:"calls"`
	Playback      PlaybackConfig      `koanf:"playback"`
	API           APIConfig           `koanf:"api"`
	Logging       LoggingConfig       `koanf:"logging"`
	Supervisor    SupervisorConfig    `koanf:"supervisor"`
}

// FeedConfig identifies the live feed server and the push channel to join.
type FeedConfig struct {
	// URL is the HTTP(S) base of the feed server. The websocket URL and the
	// backlog/audio endpoints are derived from it.
	URL       string `koanf:"url" validate:"required,url"`
	Token     string `koanf:"token"`
	Path      string `koanf:"path" validate:"required"`
	Transport string `koanf:"transport" validate:"oneof=websocket nats"`
	NATSURL   string `koanf:"nats_url"`
}

// TransportConfig tunes the push transport.
type TransportConfig struct {
	HandshakeTimeout time.Duration `koanf:"handshake_timeout" validate:"gt=0"`
	PingInterval     time.Duration `koanf:"ping_interval" validate:"gt=0"`
	ReconnectMin     time.Duration `koanf:"reconnect_min" validate:"gt=0"`
	ReconnectMax     time.Duration `koanf:"reconnect_max" validate:"gt=0"`
	InvokeTimeout    time.Duration `koanf:"invoke_timeout" validate:"gt=0"`

	// BreakerFailures is the consecutive invoke failure count that opens the circuit.
	BreakerFailures uint32        `koanf:"breaker_failures" validate:"min=1"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout" validate:"gt=0"`
}

// PoolConfig controls connection reuse.
type PoolConfig struct {
	// GracePeriod is how long an unreferenced connection stays open waiting
	// for a re-acquire before it is torn down.
	GracePeriod time.Duration `koanf:"grace_period" validate:"gte=0"`
}

// SubscriptionsConfig selects where the live talkgroup set is persisted.
type SubscriptionsConfig struct {
	Store string `koanf:"store" validate:"oneof=badger memory"`
	Path  string `koanf:"path"`
}

// CallsConfig sizes the call list and its backlog seed.
type CallsConfig struct {
	Capacity      int           `koanf:"capacity" validate:"min=1"`
	RecencyWindow time.Duration `koanf:"recency_window" validate:"gt=0"`
	PageSize      int           `koanf:"page_size" validate:"min=1"`

	// BacklogRate is the maximum number of backlog requests per second.
	BacklogRate  float64       `koanf:"backlog_rate" validate:"gt=0"`
	FetchTimeout time.Duration `koanf:"fetch_timeout" validate:"gt=0"`
}

// PlaybackConfig controls the audio scheduler.
type PlaybackConfig struct {
	ProbeTimeout time.Duration `koanf:"probe_timeout" validate:"gt=0"`
	Volume       int           `koanf:"volume" validate:"min=0,max=100"`
	SampleRate   int           `koanf:"sample_rate" validate:"min=8000"`
	CacheSize    int           `koanf:"cache_size" validate:"min=0"`
	CacheTTL     time.Duration `koanf:"cache_ttl" validate:"gte=0"`

	// AutoStart requests playback on startup; the permission probe still applies.
	AutoStart bool `koanf:"auto_start"`
}

// APIConfig configures the local control API.
type APIConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Listen          string        `koanf:"listen" validate:"required_if=Enabled true"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimit       int           `koanf:"rate_limit" validate:"min=0"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// SupervisorConfig tunes the suture tree.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold" validate:"gt=0"`
	FailureBackoff   time.Duration `koanf:"failure_backoff" validate:"gt=0"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}
