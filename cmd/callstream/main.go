// Callstream - Radio Scanner Live Feed Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callstream

// Package main is the entry point for the Callstream live feed client.
//
// Callstream joins a scanner feed server's push channel, keeps the live
// talkgroup set in sync with the server, maintains a bounded recency-ordered
// call list and plays new calls through the local audio device.
//
// # Application Architecture
//
// Components are built in this order:
//
//  1. Configuration: defaults, optional YAML file, CALLSTREAM_* environment (koanf v2)
//  2. Transport: websocket or NATS dialer behind a refcounted connection pool
//  3. Subscriptions: reconciler backed by BadgerDB or memory
//  4. Calls: aggregator seeded from the HTTP backlog
//  5. Playback: scheduler over the beep audio platform
//  6. Session: ties the above to one feed path
//  7. UI hub and local HTTP API
//
// Long-running pieces run under a suture supervisor tree and stop on
// SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/callstream/internal/api"
	"github.com/tomtom215/callstream/internal/audio"
	"github.com/tomtom215/callstream/internal/callstream"
	"github.com/tomtom215/callstream/internal/channel"
	"github.com/tomtom215/callstream/internal/config"
	"github.com/tomtom215/callstream/internal/livefeed"
	"github.com/tomtom215/callstream/internal/logging"
	"github.com/tomtom215/callstream/internal/playback"
	"github.com/tomtom215/callstream/internal/subscription"
	"github.com/tomtom215/callstream/internal/supervisor"
	"github.com/tomtom215/callstream/internal/supervisor/services"
	"github.com/tomtom215/callstream/internal/transport/natsbus"
	"github.com/tomtom215/callstream/internal/transport/wsclient"
	"github.com/tomtom215/callstream/internal/uihub"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("version", version).
		Str("feed_url", cfg.Feed.URL).
		Str("path", cfg.Feed.Path).
		Str("transport", cfg.Feed.Transport).
		Str("store", cfg.Subscriptions.Store).
		Msg("Starting Callstream")

	if err := run(cfg); err != nil {
		logging.Fatal().Err(err).Msg("Callstream exited with error")
	}
	logging.Info().Msg("Callstream stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := channel.NewPool(newDialer(cfg), channel.PoolConfig{
		GracePeriod: cfg.Pool.GracePeriod,
		DialTimeout: cfg.Transport.HandshakeTimeout,
	})
	defer func() {
		if err := pool.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing connection pool")
		}
	}()

	store, err := subscription.OpenStore(cfg.Subscriptions.Store, cfg.Subscriptions.Path)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing subscription store")
		}
	}()

	reconciler, err := subscription.NewReconciler(ctx, pool, cfg.Feed.Path, store)
	if err != nil {
		return err
	}

	aggregator := callstream.NewAggregator(callstream.Config{
		Capacity:      cfg.Calls.Capacity,
		RecencyWindow: cfg.Calls.RecencyWindow,
	}, callstream.NewHTTPBacklog(callstream.BacklogConfigFrom(cfg)))

	platform := audio.NewBeepPlatform(audio.SystemSpeaker(), audio.ConfigFrom(cfg))
	scheduler := playback.NewScheduler(platform, playback.FeedResolver{BaseURL: cfg.Feed.URL}, playback.Config{
		ProbeTimeout: cfg.Playback.ProbeTimeout,
		Volume:       cfg.Playback.Volume,
	})

	session := livefeed.New(livefeed.ConfigFrom(cfg), pool, reconciler, aggregator, scheduler)
	defer session.Close()

	hub := uihub.NewHub()
	detach := uihub.Attach(hub, session)
	defer detach()

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfigFrom(cfg))
	if err != nil {
		return err
	}
	tree.AddTransportService(services.NewSessionService(session))
	tree.AddUIService(services.NewUIHubService(hub))

	if cfg.API.Enabled {
		handler := api.NewHandler(session, hub.ClientCount, version)
		router := api.NewRouter(handler,
			api.NewChiMiddleware(api.ChiMiddlewareConfigFrom(cfg)),
			uihub.Handler(hub, cfg.API.CORSOrigins))
		server := &http.Server{
			Addr:              cfg.API.Listen,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		}
		tree.AddAPIService(services.NewHTTPServerService(server, cfg.API.ShutdownTimeout))
	} else {
		logging.Info().Msg("Local API disabled")
	}

	errCh := tree.ServeBackground(ctx)
	<-ctx.Done()
	logging.Info().Msg("Shutdown signal received")

	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		logging.Warn().Int("count", len(report)).Msg("Services did not stop within timeout")
	}
	return nil
}

// newDialer picks the push transport named in feed.transport.
func newDialer(cfg *config.Config) channel.Dialer {
	if cfg.Feed.Transport == config.TransportNATS {
		logging.Info().Str("nats_url", cfg.Feed.NATSURL).Msg("Using NATS transport")
		return natsbus.NewDialer(natsbus.ConfigFrom(cfg))
	}
	return wsclient.NewDialer(wsclient.ConfigFrom(cfg))
}
