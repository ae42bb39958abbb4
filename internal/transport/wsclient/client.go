// Callstream - Radio Scanner Live Feed Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callstream

// Package wsclient is the websocket push transport. A Dialer produces Clients
// that satisfy channel.Conn: they correlate invoke frames with result frames,
// decode event frames and reconnect on their own after a drop.
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/callstream/internal/breaker"
	"github.com/tomtom215/callstream/internal/channel"
	"github.com/tomtom215/callstream/internal/config"
	"github.com/tomtom215/callstream/internal/logging"
	"github.com/tomtom215/callstream/internal/metrics"
	"github.com/tomtom215/callstream/internal/transport"
)

const transportName = "websocket"

// Config holds the websocket transport settings.
type Config struct {
	BaseURL          string
	Token            string
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	ReconnectMin     time.Duration
	ReconnectMax     time.Duration
	InvokeTimeout    time.Duration
	BreakerFailures  uint32
	BreakerTimeout   time.Duration
}

// ConfigFrom extracts the websocket settings from the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		BaseURL:          cfg.Feed.URL,
		Token:            cfg.Feed.Token,
		HandshakeTimeout: cfg.Transport.HandshakeTimeout,
		PingInterval:     cfg.Transport.PingInterval,
		ReconnectMin:     cfg.Transport.ReconnectMin,
		ReconnectMax:     cfg.Transport.ReconnectMax,
		InvokeTimeout:    cfg.Transport.InvokeTimeout,
		BreakerFailures:  cfg.Transport.BreakerFailures,
		BreakerTimeout:   cfg.Transport.BreakerTimeout,
	}
}

func (c *Config) applyDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = time.Second
	}
	if c.ReconnectMax < c.ReconnectMin {
		c.ReconnectMax = 32 * c.ReconnectMin
	}
	if c.InvokeTimeout <= 0 {
		c.InvokeTimeout = 10 * time.Second
	}
}

// Dialer implements channel.Dialer over websockets.
type Dialer struct {
	cfg Config
}

// NewDialer returns a Dialer for cfg.
func NewDialer(cfg Config) *Dialer {
	cfg.applyDefaults()
	return &Dialer{cfg: cfg}
}

// Dial connects to the channel at path. Failure of this first connection is
// returned to the caller; later drops are handled by the Client itself.
func (d *Dialer) Dial(ctx context.Context, path string) (channel.Conn, error) {
	wsURL, err := BuildURL(d.cfg.BaseURL, path, d.cfg.Token)
	if err != nil {
		return nil, err
	}
	c := newClient(d.cfg, path, wsURL)
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.start(conn)
	return c, nil
}

// BuildURL converts the feed's HTTP base URL into the websocket URL for path.
//
//	http://host:3000/feed + live -> ws://host:3000/feed/live?token=...
func BuildURL(baseURL, path, token string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(path, "/")
	q := u.Query()
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Client is one websocket channel connection.
type Client struct {
	cfg     Config
	path    string
	url     string
	log     zerolog.Logger
	breaker *gobreaker.CircuitBreaker[interface{}]

	connMu sync.RWMutex
	conn   *websocket.Conn
	state  channel.State

	// gorilla allows one concurrent writer
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan *transport.Frame

	events *transport.Dispatcher

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func newClient(cfg Config, path, wsURL string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:     cfg,
		path:    path,
		url:     wsURL,
		log:     logging.WithComponent("ws-transport").With().Str("path", path).Logger(),
		state:   channel.StateConnecting,
		pending: make(map[string]chan *transport.Frame),
		events:  transport.NewDispatcher(),
		ctx:     ctx,
		cancel:  cancel,
	}
	c.breaker = breaker.New(breaker.Settings{
		Name:     "ws-invoke-" + path,
		Failures: cfg.BreakerFailures,
		Timeout:  cfg.BreakerTimeout,
		Ignore: func(err error) bool {
			var remote *transport.RemoteError
			return errors.As(err, &remote)
		},
	})
	return c
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout:  c.cfg.HandshakeTimeout,
		EnableCompression: true,
	}
	conn, resp, err := dialer.DialContext(ctx, c.url, nil)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: websocket dial failed (HTTP %d): %w", channel.ErrTransport, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: websocket dial: %w", channel.ErrTransport, err)
	}
	return conn, nil
}

func (c *Client) start(conn *websocket.Conn) {
	c.setConn(conn)
	c.log.Info().Msg("WebSocket connected")

	c.wg.Add(2)
	go c.listen()
	go c.pingLoop()
}

// setConn installs conn as current. It reports false, closing conn, when the
// client was closed while conn was being dialed.
func (c *Client) setConn(conn *websocket.Conn) bool {
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.readTimeout()))
	})
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.state == channel.StateClosed {
		_ = conn.Close()
		return false
	}
	c.conn = conn
	c.state = channel.StateConnected
	return true
}

func (c *Client) readTimeout() time.Duration {
	return 2 * c.cfg.PingInterval
}

func (c *Client) current() *websocket.Conn {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn
}

// listen reads frames until Close, reconnecting with exponential backoff
// whenever the connection drops.
func (c *Client) listen() {
	defer c.wg.Done()

	delay := c.cfg.ReconnectMin
	for {
		if c.ctx.Err() != nil {
			return
		}

		conn := c.current()
		if conn == nil {
			c.log.Info().Dur("delay", delay).Msg("WebSocket connection lost, reconnecting")
			select {
			case <-time.After(delay):
			case <-c.ctx.Done():
				return
			}
			delay *= 2
			if delay > c.cfg.ReconnectMax {
				delay = c.cfg.ReconnectMax
			}

			conn, err := c.dial(c.ctx)
			if err != nil {
				if c.ctx.Err() != nil {
					return
				}
				c.log.Warn().Err(err).Msg("WebSocket reconnection failed")
				continue
			}
			if !c.setConn(conn) {
				return
			}
			delay = c.cfg.ReconnectMin
			metrics.TransportReconnects.WithLabelValues(transportName).Inc()
			c.log.Info().Msg("WebSocket reconnected")
			c.events.Emit(channel.ConnectionChanged{State: channel.StateConnected, Reconnected: true})
			continue
		}

		if err := conn.SetReadDeadline(time.Now().Add(c.readTimeout())); err != nil {
			c.log.Debug().Err(err).Msg("Failed to set read deadline")
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Info().Msg("WebSocket closed by server")
			} else {
				c.log.Warn().Err(err).Msg("WebSocket read error")
			}
			c.drop(conn, err)
			continue
		}

		delay = c.cfg.ReconnectMin
		c.handleMessage(message)
	}
}

func (c *Client) handleMessage(data []byte) {
	var f transport.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.log.Warn().Err(err).Msg("Failed to parse frame")
		metrics.TransportEvents.WithLabelValues(transportName, "malformed").Inc()
		return
	}

	switch f.Type {
	case transport.FrameResult:
		c.resolve(&f)
	case transport.FrameEvent:
		ev, err := transport.DecodeEvent(&f)
		if err != nil {
			c.log.Warn().Err(err).Str("event", f.Event).Msg("Dropping event frame")
			metrics.TransportEvents.WithLabelValues(transportName, "malformed").Inc()
			return
		}
		metrics.TransportEvents.WithLabelValues(transportName, f.Event).Inc()
		c.events.Emit(ev)
	default:
		c.log.Debug().Str("type", f.Type).Msg("Ignoring frame")
	}
}

func (c *Client) resolve(f *transport.Frame) {
	c.pendingMu.Lock()
	reply, ok := c.pending[f.ID]
	delete(c.pending, f.ID)
	c.pendingMu.Unlock()

	if !ok {
		c.log.Debug().Str("id", f.ID).Msg("Result for unknown invoke")
		return
	}
	reply <- f
}

// pingLoop keeps the connection alive; a failed ping drops the connection
// and lets listen reconnect.
func (c *Client) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			conn := c.current()
			if conn == nil {
				continue
			}
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
				c.log.Warn().Err(err).Msg("WebSocket ping failed")
				c.drop(conn, err)
			}
		}
	}
}

// drop discards conn if it is still current, fails every pending invoke and
// reports StateReconnecting.
func (c *Client) drop(conn *websocket.Conn, cause error) {
	c.connMu.Lock()
	if c.conn != conn {
		c.connMu.Unlock()
		return
	}
	c.conn = nil
	c.state = channel.StateReconnecting
	c.connMu.Unlock()

	_ = conn.Close()
	c.failPending()
	c.events.Emit(channel.ConnectionChanged{State: channel.StateReconnecting, Err: cause})
}

func (c *Client) failPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, reply := range c.pending {
		reply <- nil
		delete(c.pending, id)
	}
}

// Invoke sends method with args and waits for the matching result frame.
// It fails fast with channel.ErrNotConnected while the connection is down.
func (c *Client) Invoke(ctx context.Context, method string, args ...interface{}) error {
	if c.State() != channel.StateConnected {
		return channel.ErrNotConnected
	}
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.invoke(ctx, method, args)
	})
	if breaker.IsOpen(err) {
		err = fmt.Errorf("%w: %s: %w", channel.ErrTransport, method, err)
	}
	metrics.RecordInvoke(transportName, method, err)
	return err
}

func (c *Client) invoke(ctx context.Context, method string, args []interface{}) error {
	conn := c.current()
	if conn == nil {
		return channel.ErrNotConnected
	}

	id := uuid.NewString()
	reply := make(chan *transport.Frame, 1)
	c.pendingMu.Lock()
	c.pending[id] = reply
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	data, err := json.Marshal(transport.Frame{Type: transport.FrameInvoke, ID: id, Method: method, Args: args})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}

	c.writeMu.Lock()
	if err := conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		c.log.Debug().Err(err).Msg("Failed to set write deadline")
	}
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: write %s: %w", channel.ErrTransport, method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.InvokeTimeout)
	defer cancel()

	select {
	case f := <-reply:
		if f == nil {
			return fmt.Errorf("%w: %s: connection dropped", channel.ErrTransport, method)
		}
		if f.Error != "" {
			return &transport.RemoteError{Method: method, Message: f.Error}
		}
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s: %w", channel.ErrTransport, method, ctx.Err())
		}
		return ctx.Err()
	}
}

// OnEvent registers fn for inbound events and lifecycle changes. Handlers run
// on a dedicated goroutine, in arrival order.
func (c *Client) OnEvent(fn func(channel.Event)) func() {
	return c.events.Subscribe(fn)
}

// State returns the connection state.
func (c *Client) State() channel.State {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.state
}

// Close stops reconnection, closes the socket and reports StateClosed.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()

		c.connMu.Lock()
		conn := c.conn
		c.conn = nil
		c.state = channel.StateClosed
		c.connMu.Unlock()

		if conn != nil {
			c.writeMu.Lock()
			if err := conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			); err != nil {
				c.log.Debug().Err(err).Msg("Failed to send close message")
			}
			c.writeMu.Unlock()
			_ = conn.Close()
		}
		c.failPending()
		c.wg.Wait()

		c.events.Close(channel.ConnectionChanged{State: channel.StateClosed})
		c.log.Info().Msg("WebSocket connection closed")
	})
	return nil
}
