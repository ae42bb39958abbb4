// Callstream - Radio Scanner Live Feed Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callstream

package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/tomtom215/callstream/internal/config"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTreeDefaults(t *testing.T) {
	t.Parallel()

	tree, err := NewSupervisorTree(quietLogger(), TreeConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if tree.config != DefaultTreeConfig() {
		t.Errorf("config = %+v, want defaults", tree.config)
	}
	if tree.Root() == nil {
		t.Error("root supervisor is nil")
	}
}

func TestTreeConfigFrom(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Supervisor: config.SupervisorConfig{
		FailureThreshold: 3,
		FailureBackoff:   time.Second,
		ShutdownTimeout:  2 * time.Second,
	}}
	tc := TreeConfigFrom(cfg)
	if tc.FailureThreshold != 3 || tc.FailureBackoff != time.Second || tc.ShutdownTimeout != 2*time.Second {
		t.Errorf("TreeConfigFrom() = %+v", tc)
	}
	if tc.FailureDecay != DefaultTreeConfig().FailureDecay {
		t.Errorf("FailureDecay = %v, want default", tc.FailureDecay)
	}
}

func TestTreeRunsEveryLayer(t *testing.T) {
	t.Parallel()

	tree, _ := NewSupervisorTree(quietLogger(), TreeConfig{ShutdownTimeout: time.Second})
	transport := newMockService("session", 0)
	ui := newMockService("hub", 0)
	api := newMockService("http", 0)
	tree.AddTransportService(transport)
	tree.AddUIService(ui)
	tree.AddAPIService(api)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)
	waitFor(t, func() bool {
		return transport.starts.Load() == 1 && ui.starts.Load() == 1 && api.starts.Load() == 1
	})

	cancel()
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("tree stopped with %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tree did not shut down")
	}
	for _, svc := range []*mockService{transport, ui, api} {
		if svc.stops.Load() != 1 {
			t.Errorf("%s stopped %d times", svc.name, svc.stops.Load())
		}
	}
	if report, err := tree.UnstoppedServiceReport(); err != nil || len(report) != 0 {
		t.Errorf("unstopped services = %v, %v", report, err)
	}
}

func TestFailingTransportIsolated(t *testing.T) {
	t.Parallel()

	tree, _ := NewSupervisorTree(quietLogger(), TreeConfig{
		FailureThreshold: 10,
		FailureBackoff:   10 * time.Millisecond,
		ShutdownTimeout:  time.Second,
	})
	flaky := newMockService("session", 2)
	api := newMockService("http", 0)
	tree.AddTransportService(flaky)
	tree.AddAPIService(api)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tree.ServeBackground(ctx)

	waitFor(t, func() bool { return flaky.starts.Load() >= 3 })
	if n := api.starts.Load(); n != 1 {
		t.Errorf("api restarted alongside the transport: %d starts", n)
	}
}
