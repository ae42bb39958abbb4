// Callstream - Radio Scanner Live Feed Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callstream

package uihub

import (
	"errors"
	"testing"

	"github.com/tomtom215/callstream/internal/callstream"
	"github.com/tomtom215/callstream/internal/channel"
	"github.com/tomtom215/callstream/internal/livefeed"
	"github.com/tomtom215/callstream/internal/models"
	"github.com/tomtom215/callstream/internal/observer"
	"github.com/tomtom215/callstream/internal/playback"
	"github.com/tomtom215/callstream/internal/subscription"
)

var (
	_ Source = (*livefeed.Session)(nil)
	_ Source = (*fakeSource)(nil)
)

type fakeSource struct {
	calls   observer.Registry[callstream.Update]
	arrived observer.Registry[*models.CallRecord]
	queue   observer.Registry[[]*models.CallRecord]
	state   observer.Registry[playback.PlayerState]
	current observer.Registry[*models.CallRecord]
	subs    observer.Registry[subscription.Change]
	conn    observer.Registry[channel.ConnectionChanged]
}

func (f *fakeSource) Calls() []*models.CallRecord { return []*models.CallRecord{{ID: "a"}} }
func (f *fakeSource) Queue() []*models.CallRecord { return nil }
func (f *fakeSource) Current() *models.CallRecord { return nil }

func (f *fakeSource) PlayerState() playback.PlayerState       { return playback.StatePlaying }
func (f *fakeSource) Volume() int                             { return 70 }
func (f *fakeSource) AutoplayPermission() playback.Permission { return playback.PermissionGranted }
func (f *fakeSource) Subscriptions() subscription.State {
	return subscription.State{Subscribed: []int64{1}, Pending: []int64{2}}
}
func (f *fakeSource) ConnectionState() channel.State { return channel.StateConnected }

func (f *fakeSource) WatchCalls(fn func(callstream.Update)) func() { return f.calls.Subscribe(fn) }
func (f *fakeSource) WatchArrivals(fn func(*models.CallRecord)) func() {
	return f.arrived.Subscribe(fn)
}
func (f *fakeSource) WatchQueue(fn func([]*models.CallRecord)) func() { return f.queue.Subscribe(fn) }
func (f *fakeSource) WatchPlayerState(fn func(playback.PlayerState)) func() {
	return f.state.Subscribe(fn)
}
func (f *fakeSource) WatchCurrent(fn func(*models.CallRecord)) func() {
	return f.current.Subscribe(fn)
}
func (f *fakeSource) WatchSubscriptions(fn func(subscription.Change)) func() {
	return f.subs.Subscribe(fn)
}
func (f *fakeSource) WatchConnection(fn func(channel.ConnectionChanged)) func() {
	return f.conn.Subscribe(fn)
}

// drain reads every queued broadcast without running the hub.
func drain(h *Hub) []Message {
	var out []Message
	for {
		select {
		case m := <-h.broadcast:
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestAttachForwardsEveryObserver(t *testing.T) {
	t.Parallel()

	h := NewHub()
	src := &fakeSource{}
	detach := Attach(h, src)

	call := &models.CallRecord{ID: "a"}
	src.calls.Notify(callstream.Update{Kind: callstream.KindArrival, Call: call})
	src.arrived.Notify(call)
	src.queue.Notify([]*models.CallRecord{call})
	src.state.Notify(playback.StatePlaying)
	src.current.Notify(call)
	src.subs.Notify(subscription.Change{TalkgroupID: 9, Err: errors.New("denied")})
	src.conn.Notify(channel.ConnectionChanged{State: channel.StateReconnecting, Err: errors.New("eof")})

	got := drain(h)
	want := []string{
		MessageTypeCalls, MessageTypeCallArrived, MessageTypeQueue, MessageTypePlayerState,
		MessageTypeCurrent, MessageTypeSubscriptions, MessageTypeConnection,
	}
	if len(got) != len(want) {
		t.Fatalf("got %d messages, want %d", len(got), len(want))
	}
	for i, typ := range want {
		if got[i].Type != typ {
			t.Errorf("message %d = %q, want %q", i, got[i].Type, typ)
		}
	}
	if d := got[0].Data.(CallsData); d.Kind != "arrival" || d.Call != call {
		t.Errorf("calls data = %+v", d)
	}
	if d := got[3].Data.(PlayerData); d.Volume != 70 || d.Permission != playback.PermissionGranted.String() {
		t.Errorf("player data = %+v", d)
	}
	if d := got[5].Data.(SubscriptionsData); d.Error != "denied" || d.Change.TalkgroupID != 9 || len(d.Pending) != 1 {
		t.Errorf("subscriptions data = %+v", d)
	}
	if d := got[6].Data.(ConnectionData); d.Error != "eof" {
		t.Errorf("connection data = %+v", d)
	}

	detach()
	src.queue.Notify(nil)
	if n := len(drain(h)); n != 0 {
		t.Errorf("%d messages after detach", n)
	}
}

func TestSnapshotCoversState(t *testing.T) {
	t.Parallel()

	msgs := Snapshot(&fakeSource{})
	seen := map[string]bool{}
	for _, m := range msgs {
		seen[m.Type] = true
	}
	for _, typ := range []string{
		MessageTypeConnection, MessageTypeSubscriptions, MessageTypeCalls,
		MessageTypeQueue, MessageTypeCurrent, MessageTypePlayerState,
	} {
		if !seen[typ] {
			t.Errorf("snapshot missing %q", typ)
		}
	}
}
