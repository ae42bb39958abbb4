// Callstream - Radio Scanner Live Feed Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callstream

package subscription

import (
	"context"
	"errors"
	"io"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/callstream/internal/channel"
	"github.com/tomtom215/callstream/internal/channel/channeltest"
	"github.com/tomtom215/callstream/internal/logging"
)

func init() {
	logging.SetLogger(logging.NewTestLogger(io.Discard))
}

const path = "live"

type harness struct {
	pool       *channel.Pool
	dialer     *channeltest.Dialer
	store      *MemoryStore
	reconciler *Reconciler

	mu      sync.Mutex
	changes []Change
}

func newHarness(t *testing.T, seed ...int64) *harness {
	t.Helper()
	h := &harness{
		dialer: channeltest.NewDialer(),
		store:  NewMemoryStore(),
	}
	h.pool = channel.NewPool(h.dialer, channel.PoolConfig{GracePeriod: time.Minute})
	t.Cleanup(func() { _ = h.pool.Close() })

	if len(seed) > 0 {
		if err := h.store.Save(context.Background(), seed); err != nil {
			t.Fatal(err)
		}
	}
	r, err := NewReconciler(context.Background(), h.pool, path, h.store)
	if err != nil {
		t.Fatal(err)
	}
	r.Watch(func(c Change) {
		h.mu.Lock()
		h.changes = append(h.changes, c)
		h.mu.Unlock()
	})
	h.reconciler = r
	return h
}

// connect establishes the pooled connection and returns the fake behind it.
func (h *harness) connect(t *testing.T) *channeltest.Conn {
	t.Helper()
	if _, err := h.pool.Acquire(context.Background(), path); err != nil {
		t.Fatal(err)
	}
	conns := h.dialer.Conns()
	return conns[len(conns)-1]
}

func (h *harness) lastChange(t *testing.T) Change {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.changes) == 0 {
		t.Fatal("no change reported")
	}
	return h.changes[len(h.changes)-1]
}

func (h *harness) saved(t *testing.T) []int64 {
	t.Helper()
	ids, err := h.store.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return ids
}

func TestSubscribeWhileDisconnectedThenConfirmed(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	if err := h.reconciler.Subscribe(ctx, 42); err != nil {
		t.Fatalf("Subscribe() while disconnected = %v, want nil", err)
	}
	if !h.reconciler.IsSubscribed(42) {
		t.Error("IsSubscribed(42) should be true immediately")
	}
	if !h.reconciler.IsPending(42) {
		t.Error("IsPending(42) should be true until confirmed")
	}
	if got := h.saved(t); !reflect.DeepEqual(got, []int64{42}) {
		t.Errorf("persisted %v, want [42]", got)
	}

	conn := h.connect(t)
	if err := h.reconciler.ResubscribeAll(ctx); err != nil {
		t.Fatal(err)
	}
	calls := conn.InvocationsOf(channel.MethodSubscribeTalkgroup)
	if len(calls) != 1 || calls[0][0] != int64(42) {
		t.Fatalf("subscribe invocations = %v, want one for 42", calls)
	}

	h.reconciler.ReconcileConfirmation(ctx, 42, true)
	if h.reconciler.IsPending(42) {
		t.Error("IsPending(42) should be false after confirmation")
	}
	if !h.reconciler.IsSubscribed(42) {
		t.Error("IsSubscribed(42) should stay true after confirmation")
	}
}

func TestSubscribeConnectedInvokes(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	conn := h.connect(t)

	if err := h.reconciler.Subscribe(context.Background(), 7); err != nil {
		t.Fatal(err)
	}
	if got := conn.InvocationsOf(channel.MethodSubscribeTalkgroup); len(got) != 1 {
		t.Fatalf("invocations = %v", got)
	}
	c := h.lastChange(t)
	if c.TalkgroupID != 7 || !c.Subscribed || !c.Pending || c.Err != nil {
		t.Errorf("change = %+v", c)
	}
}

func TestLatestIntentWins(t *testing.T) {
	t.Parallel()

	type step struct {
		name string
		do   func(ctx context.Context, r *Reconciler)
	}
	sub := step{"subscribe", func(ctx context.Context, r *Reconciler) { _ = r.Subscribe(ctx, 5) }}
	unsub := step{"unsubscribe", func(ctx context.Context, r *Reconciler) { _ = r.Unsubscribe(ctx, 5) }}
	grant := step{"grant", func(ctx context.Context, r *Reconciler) { r.ReconcileConfirmation(ctx, 5, true) }}
	deny := step{"deny", func(ctx context.Context, r *Reconciler) { r.ReconcileConfirmation(ctx, 5, false) }}

	tests := []struct {
		seed       []int64
		steps      []step
		wantMember bool
		wantDenied bool
	}{
		// the answer to the earlier subscribe must not resurrect the id
		{steps: []step{sub, unsub, grant}, wantMember: false},
		{steps: []step{sub, unsub, deny}, wantMember: false},
		// the second answer belongs to the unsubscribe
		{steps: []step{sub, unsub, grant, deny}, wantMember: true, wantDenied: true},
		{steps: []step{sub, unsub, deny, grant}, wantMember: false},
		{seed: []int64{5}, steps: []step{unsub, sub, deny}, wantMember: true},
		{seed: []int64{5}, steps: []step{unsub, sub, grant, deny}, wantMember: false, wantDenied: true},
	}

	for _, tt := range tests {
		var name string
		for i, st := range tt.steps {
			if i > 0 {
				name += ","
			}
			name += st.name
		}
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, tt.seed...)
			h.connect(t)
			ctx := context.Background()
			for _, st := range tt.steps[:2] {
				st.do(ctx, h.reconciler)
			}
			if got := h.reconciler.IsSubscribed(5); got != (tt.steps[1].name == "subscribe") {
				t.Fatalf("IsSubscribed(5) before answers = %v", got)
			}
			if !h.reconciler.IsPending(5) {
				t.Fatal("latest request should be pending")
			}

			for _, st := range tt.steps[2:] {
				st.do(ctx, h.reconciler)
			}
			if got := h.reconciler.IsSubscribed(5); got != tt.wantMember {
				t.Errorf("IsSubscribed(5) = %v, want %v", got, tt.wantMember)
			}
			if h.reconciler.IsPending(5) {
				t.Error("any answer clears pending")
			}
			if saved := h.saved(t); tt.wantMember != (len(saved) == 1 && saved[0] == 5) {
				t.Errorf("persisted %v, want member=%v", saved, tt.wantMember)
			}
			if got := errors.Is(h.lastChange(t).Err, ErrDenied); got != tt.wantDenied {
				t.Errorf("last change denied = %v, want %v", got, tt.wantDenied)
			}
		})
	}
}

func TestResubscribeForgetsEarlierRequests(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.connect(t)
	ctx := context.Background()

	_ = h.reconciler.Subscribe(ctx, 5)
	_ = h.reconciler.Unsubscribe(ctx, 5)
	_ = h.reconciler.Subscribe(ctx, 5)

	// after a reconnect only the replayed subscribe is outstanding
	if err := h.reconciler.ResubscribeAll(ctx); err != nil {
		t.Fatal(err)
	}
	h.reconciler.ReconcileConfirmation(ctx, 5, false)
	if h.reconciler.IsSubscribed(5) {
		t.Error("denial of the replayed subscribe should drop the id")
	}
}

func TestDenialRevertsIntent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		seed       []int64
		mutate     func(r *Reconciler) error
		wantMember bool
	}{
		{
			name:       "denied subscribe",
			mutate:     func(r *Reconciler) error { return r.Subscribe(context.Background(), 9) },
			wantMember: false,
		},
		{
			name:       "denied unsubscribe",
			seed:       []int64{9},
			mutate:     func(r *Reconciler) error { return r.Unsubscribe(context.Background(), 9) },
			wantMember: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, tt.seed...)
			h.connect(t)
			if err := tt.mutate(h.reconciler); err != nil {
				t.Fatal(err)
			}
			h.reconciler.ReconcileConfirmation(context.Background(), 9, false)

			if got := h.reconciler.IsSubscribed(9); got != tt.wantMember {
				t.Errorf("IsSubscribed(9) = %v, want %v", got, tt.wantMember)
			}
			if h.reconciler.IsPending(9) {
				t.Error("denial clears pending")
			}
			if c := h.lastChange(t); !errors.Is(c.Err, ErrDenied) {
				t.Errorf("change error = %v, want ErrDenied", c.Err)
			}
			saved := h.saved(t)
			if tt.wantMember != (len(saved) == 1 && saved[0] == 9) {
				t.Errorf("persisted %v after revert", saved)
			}
		})
	}
}

func TestUnsolicitedDenialDropsMembership(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3)
	h.reconciler.ReconcileConfirmation(context.Background(), 3, false)
	if h.reconciler.IsSubscribed(3) {
		t.Error("server denial of a held subscription should drop it")
	}

	h.reconciler.ReconcileConfirmation(context.Background(), 4, true)
	if h.reconciler.IsSubscribed(4) || h.reconciler.IsPending(4) {
		t.Error("unsolicited grant must not add membership")
	}
}

func TestRemoteFailureKeepsDesire(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	conn := h.connect(t)
	boom := errors.New("server exploded")
	conn.FailInvoke(channel.MethodSubscribeTalkgroup, boom)

	err := h.reconciler.Subscribe(context.Background(), 11)
	if !errors.Is(err, boom) {
		t.Fatalf("Subscribe() = %v, want wrapped remote error", err)
	}
	if !h.reconciler.IsSubscribed(11) {
		t.Error("optimistic state must not be reverted on failure")
	}
	if h.reconciler.IsPending(11) {
		t.Error("a failed request is no longer pending")
	}
	if c := h.lastChange(t); !errors.Is(c.Err, boom) || !c.Subscribed {
		t.Errorf("change = %+v", c)
	}
}

func TestDisconnectedConnDefersRequest(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	conn := h.connect(t)
	conn.SetState(channel.StateReconnecting)

	if err := h.reconciler.Subscribe(context.Background(), 12); err != nil {
		t.Fatalf("Subscribe() = %v, want deferred", err)
	}
	if !h.reconciler.IsPending(12) {
		t.Error("deferred request stays pending")
	}
}

func TestResubscribeAll(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 30, 10, 20)
	conn := h.connect(t)
	ctx := context.Background()

	// a pending unsubscribe is moot once the server has forgotten everything
	conn.SetState(channel.StateReconnecting)
	_ = h.reconciler.Unsubscribe(ctx, 20)
	conn.SetState(channel.StateConnected)

	if err := h.reconciler.ResubscribeAll(ctx); err != nil {
		t.Fatal(err)
	}
	var got []int64
	for _, args := range conn.InvocationsOf(channel.MethodSubscribeTalkgroup) {
		got = append(got, args[0].(int64))
	}
	if !reflect.DeepEqual(got, []int64{10, 30}) {
		t.Errorf("resubscribed %v, want [10 30]", got)
	}
	state := h.reconciler.Snapshot()
	if !reflect.DeepEqual(state.Pending, []int64{10, 30}) {
		t.Errorf("pending = %v, want [10 30]", state.Pending)
	}
}

func TestResubscribeAllReportsFailures(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1, 2)
	conn := h.connect(t)
	conn.FailInvoke(channel.MethodSubscribeTalkgroup, errors.New("nope"))

	if err := h.reconciler.ResubscribeAll(context.Background()); err == nil {
		t.Fatal("expected joined error")
	}
	if h.reconciler.IsPending(1) || h.reconciler.IsPending(2) {
		t.Error("failed requests are not pending")
	}
	if !h.reconciler.IsSubscribed(1) || !h.reconciler.IsSubscribed(2) {
		t.Error("desire kept")
	}
}

func TestToggle(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	on, err := h.reconciler.Toggle(ctx, 8)
	if err != nil || !on {
		t.Fatalf("Toggle() = %v, %v; want true, nil", on, err)
	}
	on, err = h.reconciler.Toggle(ctx, 8)
	if err != nil || on {
		t.Fatalf("Toggle() = %v, %v; want false, nil", on, err)
	}
	if h.reconciler.IsSubscribed(8) {
		t.Error("toggled twice should be unsubscribed")
	}
}

func TestStateSurvivesRestart(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	_ = h.reconciler.Subscribe(ctx, 100)
	_ = h.reconciler.Subscribe(ctx, 50)

	r2, err := NewReconciler(ctx, h.pool, path, h.store)
	if err != nil {
		t.Fatal(err)
	}
	if got := r2.Snapshot().Subscribed; !reflect.DeepEqual(got, []int64{50, 100}) {
		t.Errorf("reloaded %v, want [50 100]", got)
	}
	if r2.IsPending(50) {
		t.Error("pending is not persisted")
	}
}

type failingStore struct{ MemoryStore }

func (f *failingStore) Save(context.Context, []int64) error {
	return ErrStore
}

func TestPersistFailureStillApplies(t *testing.T) {
	t.Parallel()

	pool := channel.NewPool(channeltest.NewDialer(), channel.PoolConfig{GracePeriod: time.Minute})
	defer pool.Close()
	r, err := NewReconciler(context.Background(), pool, path, &failingStore{})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Subscribe(context.Background(), 1); !errors.Is(err, ErrStore) {
		t.Errorf("Subscribe() = %v, want ErrStore", err)
	}
	if !r.IsSubscribed(1) {
		t.Error("local state applies even when persistence fails")
	}
}
