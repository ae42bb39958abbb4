// Callstream - Radio Scanner Live Feed Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callstream

// Package channeltest provides in-memory channel.Conn and channel.Dialer
// implementations for tests.
package channeltest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tomtom215/callstream/internal/channel"
	"github.com/tomtom215/callstream/internal/observer"
)

// Invocation records one Invoke call.
type Invocation struct {
	Method string
	Args   []interface{}
}

// Conn is a scriptable channel.Conn.
type Conn struct {
	mu          sync.Mutex
	state       channel.State
	invocations []Invocation
	invokeErr   map[string]error
	onClose     func()

	events observer.Registry[channel.Event]
	closes atomic.Int32
}

// NewConn returns a connected Conn.
func NewConn() *Conn {
	return &Conn{state: channel.StateConnected, invokeErr: make(map[string]error)}
}

// Invoke records the call and returns the error configured for method.
func (c *Conn) Invoke(ctx context.Context, method string, args ...interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != channel.StateConnected {
		return channel.ErrNotConnected
	}
	c.invocations = append(c.invocations, Invocation{Method: method, Args: args})
	return c.invokeErr[method]
}

// FailInvoke makes every later Invoke of method return err. A nil err clears it.
func (c *Conn) FailInvoke(method string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.invokeErr, method)
		return
	}
	c.invokeErr[method] = err
}

// Invocations returns a copy of every recorded Invoke.
func (c *Conn) Invocations() []Invocation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Invocation(nil), c.invocations...)
}

// InvocationsOf returns the recorded args for one method.
func (c *Conn) InvocationsOf(method string) [][]interface{} {
	var out [][]interface{}
	for _, inv := range c.Invocations() {
		if inv.Method == method {
			out = append(out, inv.Args)
		}
	}
	return out
}

// OnEvent registers fn for emitted events.
func (c *Conn) OnEvent(fn func(channel.Event)) func() {
	return c.events.Subscribe(fn)
}

// Emit delivers ev to every registered handler on the calling goroutine.
func (c *Conn) Emit(ev channel.Event) {
	c.events.Notify(ev)
}

// SetState changes the state reported by State and gates Invoke.
func (c *Conn) SetState(s channel.State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// State returns the current state.
func (c *Conn) State() channel.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close marks the connection closed.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.state = channel.StateClosed
	onClose := c.onClose
	c.onClose = nil
	c.mu.Unlock()

	c.closes.Add(1)
	if onClose != nil {
		onClose()
	}
	return nil
}

// Closes returns how many times Close was called.
func (c *Conn) Closes() int {
	return int(c.closes.Load())
}

// Dialer hands out Conns and tracks how many are alive at once.
type Dialer struct {
	// Gate, when non-nil, blocks every Dial until it is closed or receives.
	Gate chan struct{}

	mu    sync.Mutex
	err   error
	conns []*Conn

	dials   atomic.Int32
	live    atomic.Int32
	maxLive atomic.Int32
}

// NewDialer returns a Dialer with no gate.
func NewDialer() *Dialer {
	return &Dialer{}
}

// FailWith makes later dials fail with err. A nil err restores success.
func (d *Dialer) FailWith(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

// Dial implements channel.Dialer.
func (d *Dialer) Dial(ctx context.Context, _ string) (channel.Conn, error) {
	d.dials.Add(1)
	if d.Gate != nil {
		select {
		case <-d.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}

	c := NewConn()
	c.onClose = func() { d.live.Add(-1) }
	d.conns = append(d.conns, c)

	live := d.live.Add(1)
	for {
		prev := d.maxLive.Load()
		if live <= prev || d.maxLive.CompareAndSwap(prev, live) {
			break
		}
	}
	return c, nil
}

// Dials returns the number of Dial calls.
func (d *Dialer) Dials() int { return int(d.dials.Load()) }

// Live returns the number of dialed, not yet closed connections.
func (d *Dialer) Live() int { return int(d.live.Load()) }

// MaxLive returns the highest Live value observed.
func (d *Dialer) MaxLive() int { return int(d.maxLive.Load()) }

// Conns returns every Conn handed out so far.
func (d *Dialer) Conns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Conn(nil), d.conns...)
}
