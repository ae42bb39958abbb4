// Callstream - Radio Scanner Live Feed Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callstream

/*
Package services adapts Callstream components to suture.Service.

Each wrapper turns a component's own lifecycle (Start/Stop, RunWithContext,
ListenAndServe) into Serve(ctx) and names itself through fmt.Stringer for
supervisor logs:

  - SessionService: a live-feed session; Start failures are returned so the
    supervisor retries with backoff
  - UIHubService: the UI websocket hub
  - HTTPServerService: the local API server with graceful shutdown

The wrappers depend on small interfaces, not on the component packages, so
they are tested with hand-written fakes.
*/
package services
