// Callstream - Radio Scanner Live Feed Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callstream

// Package observer provides a typed listener registry. Each component that
// publishes state changes owns one Registry per event type, and callers keep
// the returned unsubscribe func to detach.
package observer

import "sync"

// Registry fans a value out to registered listeners in registration order.
// Listeners are invoked synchronously on the notifying goroutine and outside
// the registry lock, so a listener may subscribe or unsubscribe re-entrantly.
type Registry[T any] struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners []entry[T]
}

type entry[T any] struct {
	id uint64
	fn func(T)
}

// Subscribe registers fn and returns a func that removes it. The returned
// func is idempotent.
func (r *Registry[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.listeners = append(r.listeners, entry[T]{id: id, fn: fn})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(id) })
	}
}

func (r *Registry[T]) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.listeners {
		if e.id == id {
			r.listeners = append(r.listeners[:i:i], r.listeners[i+1:]...)
			return
		}
	}
}

// Notify delivers v to every listener registered at the time of the call.
func (r *Registry[T]) Notify(v T) {
	r.mu.RLock()
	snapshot := make([]func(T), len(r.listeners))
	for i, e := range r.listeners {
		snapshot[i] = e.fn
	}
	r.mu.RUnlock()

	for _, fn := range snapshot {
		fn(v)
	}
}

// Len returns the number of registered listeners.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners)
}
