// Callstream - Radio Scanner Live Feed Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callstream

package transport

import (
	"sync"

	"github.com/tomtom215/callstream/internal/channel"
	"github.com/tomtom215/callstream/internal/observer"
)

// Dispatcher delivers channel events to handlers on a single goroutine, in
// the order they were emitted. Transports emit from their reader and
// lifecycle callbacks; handlers are then free to Invoke without blocking the
// reader that must deliver the result.
type Dispatcher struct {
	listeners observer.Registry[channel.Event]
	queue     chan channel.Event
	stop      chan struct{}
	done      chan struct{}
	once      sync.Once
}

// NewDispatcher starts a Dispatcher.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{
		queue: make(chan channel.Event, 256),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case ev := <-d.queue:
			d.listeners.Notify(ev)
		case <-d.stop:
			return
		}
	}
}

// Subscribe registers fn and returns its unsubscribe func.
func (d *Dispatcher) Subscribe(fn func(channel.Event)) func() {
	return d.listeners.Subscribe(fn)
}

// Emit queues ev. It blocks while the queue is full and returns immediately
// once the Dispatcher is closed.
func (d *Dispatcher) Emit(ev channel.Event) {
	select {
	case d.queue <- ev:
	case <-d.stop:
	}
}

// Close stops delivery, waits for the handler in progress, then hands final
// (if non-nil) to every listener synchronously. Events still queued are
// discarded. Close must not be called from a handler.
func (d *Dispatcher) Close(final channel.Event) {
	d.once.Do(func() {
		close(d.stop)
		<-d.done
		if final != nil {
			d.listeners.Notify(final)
		}
	})
}
