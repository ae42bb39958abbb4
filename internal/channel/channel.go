// Callstream - Radio Scanner Live Feed Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callstream

// Package channel defines the push channel capability consumed by the live
// feed core and the reference-counted Pool that shares one connection per
// channel path.
//
// A transport (websocket, NATS) supplies a Dialer. The Pool hands out the
// resulting Conn to any number of holders:
//
//	conn, err := pool.Acquire(ctx, "live")
//	if err != nil {
//	    return err
//	}
//	defer pool.Release("live")
//
//	unsubscribe := conn.OnEvent(func(ev channel.Event) { ... })
//	defer unsubscribe()
//	err = conn.Invoke(ctx, channel.MethodSubscribeCalls)
//
// Reconnection after an established connection drops is the transport's job;
// the Pool tracks reference lifetime only.
package channel

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/callstream/internal/models"
)

// Remote methods understood by the feed server.
const (
	MethodSubscribeTalkgroup   = "subscribe-talkgroup"
	MethodUnsubscribeTalkgroup = "unsubscribe-talkgroup"
	MethodSubscribeCalls       = "subscribe-calls"
	MethodUnsubscribeCalls     = "unsubscribe-calls"
)

var (
	// ErrTransport classifies connect and invoke failures.
	ErrTransport = errors.New("transport error")

	// ErrNotConnected is returned by Invoke while the connection is down.
	ErrNotConnected = fmt.Errorf("%w: not connected", ErrTransport)

	// ErrPoolClosed is returned by Acquire after Close.
	ErrPoolClosed = errors.New("channel pool closed")
)

// State is the lifecycle state of one connection.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is one inbound push event. The concrete types are CallUpserted,
// SubscriptionConfirmed and ConnectionChanged.
type Event interface {
	EventName() string
}

// CallUpserted carries a full call payload, new or amended.
type CallUpserted struct {
	Call *models.CallRecord
}

// SubscriptionConfirmed is the server's answer to a talkgroup subscribe or
// unsubscribe request. Granted is false for a denial.
type SubscriptionConfirmed struct {
	TalkgroupID int64
	Granted     bool
}

// ConnectionChanged reports a lifecycle transition. Reconnected is set on the
// StateConnected transition that follows a drop, when remote subscription
// state has been lost.
type ConnectionChanged struct {
	State       State
	Reconnected bool
	Err         error
}

func (CallUpserted) EventName() string { return "call-upserted" }
func (SubscriptionConfirmed) EventName() string { return "subscription-confirmed" }
func (ConnectionChanged) EventName() string { return "connection-changed" }

// Conn is one live push connection.
type Conn interface {
	// Invoke calls a remote method and waits for its acknowledgement.
	Invoke(ctx context.Context, method string, args ...interface{}) error

	// OnEvent registers fn for every inbound event and returns a func that
	// detaches it.
	OnEvent(fn func(Event)) (unsubscribe func())

	// State returns the current lifecycle state.
	State() State

	// Close shuts the connection down permanently.
	Close() error
}

// Dialer establishes a Conn for a channel path.
type Dialer interface {
	Dial(ctx context.Context, path string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, path string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, path string) (Conn, error) {
	return f(ctx, path)
}

// Channel is the capability the live feed core depends on: shared
// acquisition of a Conn by path plus a non-counting lookup.
type Channel interface {
	Acquire(ctx context.Context, path string) (Conn, error)
	Release(path string)
	Peek(path string) (Conn, bool)
}
