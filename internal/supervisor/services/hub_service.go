// Callstream - Radio Scanner Live Feed Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callstream

package services

import "context"

// ContextHub is satisfied by *uihub.Hub.
type ContextHub interface {
	RunWithContext(ctx context.Context) error
}

// UIHubService runs the UI hub. RunWithContext already has the Serve shape;
// the wrapper only names it.
type UIHubService struct {
	hub  ContextHub
	name string
}

// NewUIHubService wraps hub.
func NewUIHubService(hub ContextHub) *UIHubService {
	return &UIHubService{hub: hub, name: "ui-hub"}
}

// Serve implements suture.Service.
func (u *UIHubService) Serve(ctx context.Context) error {
	return u.hub.RunWithContext(ctx)
}

func (u *UIHubService) String() string { return u.name }
