// Callstream - Radio Scanner Live Feed Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callstream

package services

import (
	"context"
	"fmt"

	"github.com/tomtom215/callstream/internal/logging"
)

// Session is the Start/Stop lifecycle of *livefeed.Session.
type Session interface {
	Start(ctx context.Context) error
	Stop()
}

// SessionService keeps a live-feed session started. Once connected, the
// transport reconnects on its own, so only the initial acquire can fail
// Serve; the supervisor backs off and retries it.
type SessionService struct {
	session Session
	name    string
}

// NewSessionService wraps session.
func NewSessionService(session Session) *SessionService {
	return &SessionService{session: session, name: "live-feed-session"}
}

// Serve implements suture.Service.
func (s *SessionService) Serve(ctx context.Context) error {
	if err := s.session.Start(ctx); err != nil {
		logging.Warn().Err(err).Msg("Live feed session failed to start")
		return fmt.Errorf("start session: %w", err)
	}
	<-ctx.Done()
	s.session.Stop()
	return ctx.Err()
}

func (s *SessionService) String() string { return s.name }
