// Callstream - Radio Scanner Live Feed Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callstream

/*
Package supervisor runs Callstream's long-lived services under suture v4.

# Overview

	RootSupervisor ("callstream")
	├── TransportSupervisor ("transport-layer")
	│   └── SessionService ("live-feed-session")
	├── UISupervisor ("ui-layer")
	│   └── UIHubService ("ui-hub")
	└── APISupervisor ("api-layer")
	    └── HTTPServerService ("http-server")

Each layer counts failures independently. A session that cannot reach the
feed server fails its Serve, is restarted with suture's backoff, and never
takes the API or the UI hub down with it.

# Usage

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfigFrom(cfg))
	if err != nil {
	    return err
	}
	tree.AddTransportService(services.NewSessionService(session))
	tree.AddUIService(services.NewUIHubService(hub))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.API.ShutdownTimeout))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
	    logging.Error().Err(err).Msg("Supervisor stopped")
	}

Supervisor events (starts, failures, backoff) are logged through
sutureslog with the zerolog-backed slog handler from the logging package.
*/
package supervisor
