// Callstream - Radio Scanner Live Feed Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callstream

package uihub

import (
	"github.com/tomtom215/callstream/internal/callstream"
	"github.com/tomtom215/callstream/internal/channel"
	"github.com/tomtom215/callstream/internal/models"
	"github.com/tomtom215/callstream/internal/playback"
	"github.com/tomtom215/callstream/internal/subscription"
)

// Source is the live-feed state the hub mirrors. *livefeed.Session
// satisfies it.
type Source interface {
	Calls() []*models.CallRecord
	Queue() []*models.CallRecord
	Current() *models.CallRecord
	PlayerState() playback.PlayerState
	Volume() int
	AutoplayPermission() playback.Permission
	Subscriptions() subscription.State
	ConnectionState() channel.State

	WatchCalls(fn func(callstream.Update)) func()
	WatchArrivals(fn func(*models.CallRecord)) func()
	WatchQueue(fn func([]*models.CallRecord)) func()
	WatchPlayerState(fn func(playback.PlayerState)) func()
	WatchCurrent(fn func(*models.CallRecord)) func()
	WatchSubscriptions(fn func(subscription.Change)) func()
	WatchConnection(fn func(channel.ConnectionChanged)) func()
}

// CallsData is the payload of a calls message.
type CallsData struct {
	Kind  string               `json:"kind"`
	Call  *models.CallRecord   `json:"call,omitempty"`
	Calls []*models.CallRecord `json:"calls"`
}

// PlayerData is the payload of a player_state message.
type PlayerData struct {
	State      string `json:"state"`
	Volume     int    `json:"volume"`
	Permission string `json:"permission"`
}

// SubscriptionsData is the payload of a subscriptions message. Change is
// set when the message follows a single talkgroup change.
type SubscriptionsData struct {
	subscription.State
	Change *subscription.Change `json:"change,omitempty"`
	Error  string               `json:"error,omitempty"`
}

// ConnectionData is the payload of a connection message.
type ConnectionData struct {
	State       string `json:"state"`
	Reconnected bool   `json:"reconnected,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Attach mirrors src into h and installs a greeting that sends new clients
// the full current state. The returned func detaches every observer.
func Attach(h *Hub, src Source) (detach func()) {
	h.SetGreeting(func() []Message { return Snapshot(src) })

	player := func() PlayerData {
		return PlayerData{
			State:      src.PlayerState().String(),
			Volume:     src.Volume(),
			Permission: src.AutoplayPermission().String(),
		}
	}

	unsubs := []func(){
		src.WatchCalls(func(u callstream.Update) {
			h.Broadcast(MessageTypeCalls, CallsData{Kind: u.Kind.String(), Call: u.Call, Calls: u.Calls})
		}),
		src.WatchArrivals(func(c *models.CallRecord) {
			h.Broadcast(MessageTypeCallArrived, c)
		}),
		src.WatchQueue(func(q []*models.CallRecord) {
			h.Broadcast(MessageTypeQueue, q)
		}),
		src.WatchPlayerState(func(playback.PlayerState) {
			h.Broadcast(MessageTypePlayerState, player())
		}),
		src.WatchCurrent(func(c *models.CallRecord) {
			h.Broadcast(MessageTypeCurrent, c)
		}),
		src.WatchSubscriptions(func(c subscription.Change) {
			data := SubscriptionsData{State: src.Subscriptions(), Change: &c}
			if c.Err != nil {
				data.Error = c.Err.Error()
			}
			h.Broadcast(MessageTypeSubscriptions, data)
		}),
		src.WatchConnection(func(c channel.ConnectionChanged) {
			h.Broadcast(MessageTypeConnection, connectionData(c))
		}),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

// Snapshot returns one message per state type, describing src now.
func Snapshot(src Source) []Message {
	return []Message{
		{Type: MessageTypeConnection, Data: connectionData(channel.ConnectionChanged{State: src.ConnectionState()})},
		{Type: MessageTypeSubscriptions, Data: SubscriptionsData{State: src.Subscriptions()}},
		{Type: MessageTypeCalls, Data: CallsData{Kind: "snapshot", Calls: src.Calls()}},
		{Type: MessageTypeQueue, Data: src.Queue()},
		{Type: MessageTypeCurrent, Data: src.Current()},
		{Type: MessageTypePlayerState, Data: PlayerData{
			State:      src.PlayerState().String(),
			Volume:     src.Volume(),
			Permission: src.AutoplayPermission().String(),
		}},
	}
}

func connectionData(c channel.ConnectionChanged) ConnectionData {
	d := ConnectionData{State: c.State.String(), Reconnected: c.Reconnected}
	if c.Err != nil {
		d.Error = c.Err.Error()
	}
	return d
}
