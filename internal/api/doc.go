// Callstream - Radio Scanner Live Feed Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callstream

/*
Package api provides the local control API for a running Callstream client.

The API is a thin HTTP layer over a live-feed session. It exposes the call
list, the playback queue, the player and the live talkgroup set, and upgrades
/api/v1/ws to the UI hub for push updates.

Routes:

	GET    /api/v1/health
	GET    /metrics
	GET    /api/v1/calls
	POST   /api/v1/calls/{id}/play
	GET    /api/v1/queue
	DELETE /api/v1/queue
	POST   /api/v1/queue/{id}
	POST   /api/v1/queue/{id}/front
	DELETE /api/v1/queue/{id}
	GET    /api/v1/player
	POST   /api/v1/player/toggle
	POST   /api/v1/player/skip
	PUT    /api/v1/player/volume
	GET    /api/v1/talkgroups
	PUT    /api/v1/talkgroups/{id}
	DELETE /api/v1/talkgroups/{id}
	POST   /api/v1/talkgroups/{id}/toggle
	GET    /api/v1/ws

Every JSON response uses the models.APIResponse envelope. Errors carry a
machine-readable code:

	{"status":"error","data":null,"metadata":{...},"error":{"code":"NOT_FOUND","message":"call not found"}}

Middleware:

  - X-Request-ID propagation into the logging context
  - CORS (go-chi/cors)
  - Per-IP rate limiting (go-chi/httprate)
  - Security headers
  - Request latency metrics

The API binds to loopback by default and has no authentication: it controls
a local player, not a shared service.
*/
package api
