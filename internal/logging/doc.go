// Callstream - Radio Scanner Live Feed Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callstream

// Package logging provides the zerolog-based structured logger used by every
// Callstream component.
//
// # Quick Start
//
//	logging.Init(logging.Config{Level: "info", Format: "json"})
//
//	logging.Info().Str("path", "/live").Msg("Channel acquired")
//	logging.Error().Err(err).Int64("talkgroup_id", id).Msg("Subscribe failed")
//
// Components create a tagged child logger once at construction:
//
//	log := logging.WithComponent("scheduler")
//	log.Debug().Str("call_id", id).Msg("Dequeued")
//
// # Adapters
//
// Two adapters route third-party logging through the same zerolog sink:
//
//   - SlogHandler / NewSlogLogger for sutureslog supervisor events
//   - WatermillAdapter for the watermill NATS subscriber
//
// # Context
//
// Ctx(ctx) attaches correlation_id and request_id values placed on the
// context by the HTTP middleware or by the session when handling a push event.
//
// Always terminate log chains with .Msg() or .Send(); an unterminated event is
// never written.
package logging
