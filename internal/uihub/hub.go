// Callstream - Radio Scanner Live Feed Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callstream

// Package uihub pushes live-feed state to attached UI clients over
// websockets. A Hub fans typed messages out to every client; Attach feeds
// it from a session's observers.
package uihub

import (
	"context"
	"sort"
	"sync"

	"github.com/tomtom215/callstream/internal/logging"
	"github.com/tomtom215/callstream/internal/metrics"
)

// Message types sent to UI clients.
const (
	MessageTypeCalls         = "calls"
	MessageTypeCallArrived   = "call_arrived"
	MessageTypeQueue         = "queue"
	MessageTypePlayerState   = "player_state"
	MessageTypeCurrent       = "current"
	MessageTypeSubscriptions = "subscriptions"
	MessageTypeConnection    = "connection"
	MessageTypePing          = "ping"
	MessageTypePong          = "pong"
)

// broadcastBuffer is the hub's inbound queue length.
const broadcastBuffer = 256

// Message is one frame sent to a UI client.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub maintains the set of attached clients and broadcasts to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex

	// greeting builds the messages a new client receives before any
	// broadcast, so it starts from the current state.
	greeting func() []Message
}

// NewHub creates a Hub. Call RunWithContext to start it.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, broadcastBuffer),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
	}
}

// SetGreeting installs the snapshot builder for new clients. It must be
// called before RunWithContext.
func (h *Hub) SetGreeting(fn func() []Message) {
	h.greeting = fn
}

// RunWithContext processes registrations and broadcasts until ctx is done.
// Lifecycle events are drained before each broadcast so a client registered
// before a broadcast always receives it.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.register(client)
			continue
		case client := <-h.Unregister:
			h.unregister(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		case client := <-h.Register:
			h.register(client)
		case client := <-h.Unregister:
			h.unregister(client)
		case message := <-h.broadcast:
			h.broadcastToClients(message)
		}
	}
}

func (h *Hub) register(client *Client) {
	if h.greeting != nil {
		for _, m := range h.greeting() {
			select {
			case client.send <- m:
			default:
			}
		}
	}
	h.mu.Lock()
	h.clients[client] = true
	n := len(h.clients)
	h.mu.Unlock()
	metrics.UIClients.Set(float64(n))
	logging.Info().Uint64("client_id", client.id).Int("total_clients", n).Msg("UI client connected")
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.UIClients.Set(float64(n))
	logging.Info().Uint64("client_id", client.id).Int("total_clients", n).Msg("UI client disconnected")
}

// shutdown closes every client. ctx.Err() is not logged as an error: it is
// the normal way out.
func (h *Hub) shutdown() {
	closed := h.closeAllClients()
	metrics.UIClients.Set(0)
	logging.Info().
		Str("component", "ui-hub").
		Int("clients_closed", closed).
		Msg("UI hub stopped")
}

// sortedClients returns the clients in id order. Callers hold mu.
func (h *Hub) sortedClients() []*Client {
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })
	return clients
}

// broadcastToClients delivers message in client id order. A client whose
// send buffer is full is dropped.
func (h *Hub) broadcastToClients(message Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var slow []*Client
	for _, client := range h.sortedClients() {
		select {
		case client.send <- message:
			metrics.UIMessagesSent.Inc()
		default:
			slow = append(slow, client)
		}
	}
	for _, client := range slow {
		close(client.send)
		delete(h.clients, client)
		logging.Warn().Uint64("client_id", client.id).Msg("Dropping slow UI client")
	}
	if len(slow) > 0 {
		metrics.UIClients.Set(float64(len(h.clients)))
	}
}

func (h *Hub) closeAllClients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients := h.sortedClients()
	for _, client := range clients {
		close(client.send)
		delete(h.clients, client)
	}
	return len(clients)
}

// Broadcast queues a message for every client. It never blocks; when the
// hub is saturated the message is dropped.
func (h *Hub) Broadcast(messageType string, data any) {
	select {
	case h.broadcast <- Message{Type: messageType, Data: data}:
	default:
		logging.Warn().Str("message_type", messageType).Msg("UI broadcast channel full, dropping message")
	}
}

// ClientCount returns the number of attached clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
