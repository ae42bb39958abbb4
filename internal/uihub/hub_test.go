// Callstream - Radio Scanner Live Feed Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callstream

package uihub

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/callstream/internal/logging"
)

func init() {
	logging.SetLogger(logging.NewTestLogger(io.Discard))
}

func runHub(t *testing.T, h *Hub) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.RunWithContext(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func testClient(h *Hub, buf int) *Client {
	return &Client{id: clientIDCounter.Add(1), hub: h, send: make(chan Message, buf)}
}

func recv(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case m, ok := <-c.send:
		if !ok {
			t.Fatal("send channel closed")
		}
		return m
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
	return Message{}
}

func TestBroadcastReachesRegisteredClients(t *testing.T) {
	t.Parallel()

	h := NewHub()
	runHub(t, h)
	a, b := testClient(h, 8), testClient(h, 8)
	h.Register <- a
	h.Register <- b

	h.Broadcast(MessageTypeQueue, []string{"x"})
	for _, c := range []*Client{a, b} {
		if m := recv(t, c); m.Type != MessageTypeQueue {
			t.Errorf("client %d got %q", c.id, m.Type)
		}
	}
	if n := h.ClientCount(); n != 2 {
		t.Errorf("ClientCount() = %d", n)
	}

	h.Unregister <- a
	deadline := time.Now().Add(time.Second)
	for h.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client not unregistered")
		}
		time.Sleep(time.Millisecond)
	}
	if _, ok := <-a.send; ok {
		t.Error("unregistered client's channel left open")
	}
}

func TestGreetingPrecedesBroadcasts(t *testing.T) {
	t.Parallel()

	h := NewHub()
	h.SetGreeting(func() []Message {
		return []Message{{Type: MessageTypeConnection}, {Type: MessageTypeCalls}}
	})
	runHub(t, h)
	c := testClient(h, 8)
	h.Register <- c
	h.Broadcast(MessageTypeCurrent, nil)

	want := []string{MessageTypeConnection, MessageTypeCalls, MessageTypeCurrent}
	for _, typ := range want {
		if m := recv(t, c); m.Type != typ {
			t.Errorf("got %q, want %q", m.Type, typ)
		}
	}
}

func TestSlowClientDropped(t *testing.T) {
	t.Parallel()

	h := NewHub()
	slow := testClient(h, 0)
	h.clients[slow] = true

	h.broadcastToClients(Message{Type: MessageTypeQueue})
	if h.ClientCount() != 0 {
		t.Error("slow client should be dropped")
	}
}

func TestShutdownClosesClients(t *testing.T) {
	t.Parallel()

	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.RunWithContext(ctx) }()

	c := testClient(h, 1)
	h.Register <- c
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("RunWithContext() = %v", err)
	}
	if _, ok := <-c.send; ok {
		t.Error("client channel should be closed on shutdown")
	}
}

func TestBroadcastNeverBlocks(t *testing.T) {
	t.Parallel()

	h := NewHub() // not running
	for i := 0; i < broadcastBuffer+10; i++ {
		h.Broadcast(MessageTypeQueue, i)
	}
}

func dial(t *testing.T, server *httptest.Server, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return websocket.DefaultDialer.Dial(url, header)
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return m
}

func TestHandlerEndToEnd(t *testing.T) {
	t.Parallel()

	h := NewHub()
	runHub(t, h)
	server := httptest.NewServer(Handler(h, []string{"http://ui.test"}))
	t.Cleanup(server.Close)

	conn, resp, err := dial(t, server, "http://ui.test")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = resp.Body.Close()
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatal(err)
	}
	if m := readMessage(t, conn); m.Type != MessageTypePong {
		t.Errorf("got %q, want pong", m.Type)
	}

	deadline := time.Now().Add(time.Second)
	for h.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(time.Millisecond)
	}
	h.Broadcast(MessageTypePlayerState, PlayerData{State: "playing", Volume: 50})
	m := readMessage(t, conn)
	if m.Type != MessageTypePlayerState {
		t.Fatalf("got %q", m.Type)
	}
	if data, _ := m.Data.(map[string]any); data["state"] != "playing" {
		t.Errorf("data = %v", m.Data)
	}
}

func TestHandlerRejectsForeignOrigin(t *testing.T) {
	t.Parallel()

	h := NewHub()
	runHub(t, h)
	server := httptest.NewServer(Handler(h, []string{"http://ui.test"}))
	t.Cleanup(server.Close)

	conn, resp, err := dial(t, server, "http://evil.test")
	if err == nil {
		conn.Close()
		t.Fatal("foreign origin accepted")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("response = %v", resp)
	}
	if resp != nil {
		_ = resp.Body.Close()
	}
}

func TestCheckOrigin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		origins []string
		origin  string
		host    string
		want    bool
	}{
		{"no origin header", []string{"http://a"}, "", "x", true},
		{"listed", []string{"http://a"}, "http://a", "x", true},
		{"wildcard", []string{"*"}, "http://b", "x", true},
		{"unlisted", []string{"http://a"}, "http://b", "b", false},
		{"same host default", nil, "http://localhost:3857", "localhost:3857", true},
		{"other host default", nil, "http://evil", "localhost:3857", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			r.Host = tt.host
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := checkOrigin(tt.origins)(r); got != tt.want {
				t.Errorf("checkOrigin() = %v, want %v", got, tt.want)
			}
		})
	}
}
