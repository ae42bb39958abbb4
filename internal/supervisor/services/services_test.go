// Callstream - Radio Scanner Live Feed Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callstream

package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

type fakeHub struct{ runs atomic.Int32 }

func (f *fakeHub) RunWithContext(ctx context.Context) error {
	f.runs.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

type fakeSession struct {
	startErr error
	starts   atomic.Int32
	stops    atomic.Int32
}

func (f *fakeSession) Start(context.Context) error {
	f.starts.Add(1)
	return f.startErr
}

func (f *fakeSession) Stop() { f.stops.Add(1) }

func TestUIHubService(t *testing.T) {
	t.Parallel()

	hub := &fakeHub{}
	svc := NewUIHubService(hub)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := svc.Serve(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() = %v", err)
	}
	if hub.runs.Load() != 1 || svc.String() != "ui-hub" {
		t.Errorf("runs = %d, name = %q", hub.runs.Load(), svc.String())
	}
}

func TestSessionService(t *testing.T) {
	t.Parallel()

	t.Run("stops on cancel", func(t *testing.T) {
		t.Parallel()
		sess := &fakeSession{}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := NewSessionService(sess).Serve(ctx); !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v", err)
		}
		if sess.starts.Load() != 1 || sess.stops.Load() != 1 {
			t.Errorf("starts = %d, stops = %d", sess.starts.Load(), sess.stops.Load())
		}
	})

	t.Run("start failure is returned", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("connection refused")
		sess := &fakeSession{startErr: boom}
		if err := NewSessionService(sess).Serve(context.Background()); !errors.Is(err, boom) {
			t.Errorf("Serve() = %v, want %v", err, boom)
		}
		if sess.stops.Load() != 0 {
			t.Error("a session that never started must not be stopped")
		}
	})
}
