// Callstream - Radio Scanner Live Feed Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callstream

// Package natsbus is the NATS push transport. Invokes are NATS requests on
// <path>.rpc.<method>; event frames arrive on <path>.events through a
// watermill subscriber with JetStream disabled.
package natsbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/callstream/internal/breaker"
	"github.com/tomtom215/callstream/internal/channel"
	"github.com/tomtom215/callstream/internal/config"
	"github.com/tomtom215/callstream/internal/logging"
	"github.com/tomtom215/callstream/internal/metrics"
	"github.com/tomtom215/callstream/internal/transport"
)

const transportName = "nats"

// Config holds the NATS transport settings.
type Config struct {
	URL              string
	Token            string
	HandshakeTimeout time.Duration
	ReconnectWait    time.Duration
	InvokeTimeout    time.Duration
	BreakerFailures  uint32
	BreakerTimeout   time.Duration
}

// ConfigFrom extracts the NATS settings from the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		URL:              cfg.Feed.NATSURL,
		Token:            cfg.Feed.Token,
		HandshakeTimeout: cfg.Transport.HandshakeTimeout,
		ReconnectWait:    cfg.Transport.ReconnectMin,
		InvokeTimeout:    cfg.Transport.InvokeTimeout,
		BreakerFailures:  cfg.Transport.BreakerFailures,
		BreakerTimeout:   cfg.Transport.BreakerTimeout,
	}
}

// EventsSubject is the subject carrying event frames for path.
func EventsSubject(path string) string {
	return path + ".events"
}

// RPCSubject is the request subject for one remote method.
func RPCSubject(path, method string) string {
	return path + ".rpc." + method
}

type rpcRequest struct {
	Args []interface{} `json:"args"`
}

type rpcReply struct {
	Error string `json:"error,omitempty"`
}

// Dialer implements channel.Dialer over NATS.
type Dialer struct {
	cfg Config
}

// NewDialer returns a Dialer for cfg.
func NewDialer(cfg Config) *Dialer {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = time.Second
	}
	if cfg.InvokeTimeout <= 0 {
		cfg.InvokeTimeout = 10 * time.Second
	}
	return &Dialer{cfg: cfg}
}

// Dial opens the request connection and the event subscription for path.
// Either failing fails the dial; once established, nats.go reconnects
// without limit.
func (d *Dialer) Dial(ctx context.Context, path string) (channel.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		cfg:    d.cfg,
		path:   path,
		log:    logging.WithComponent("nats-transport").With().Str("path", path).Logger(),
		state:  channel.StateConnecting,
		events: transport.NewDispatcher(),
		cancel: cancel,
	}
	c.breaker = breaker.New(breaker.Settings{
		Name:     "nats-invoke-" + path,
		Failures: d.cfg.BreakerFailures,
		Timeout:  d.cfg.BreakerTimeout,
		Ignore: func(err error) bool {
			var remote *transport.RemoteError
			return errors.As(err, &remote)
		},
	})

	nc, err := natsgo.Connect(d.cfg.URL, c.natsOptions("callstream-rpc")...)
	if err != nil {
		cancel()
		c.events.Close(nil)
		return nil, fmt.Errorf("%w: nats connect: %w", channel.ErrTransport, err)
	}
	c.nc = nc

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              d.cfg.URL,
		SubscribersCount: 1,
		AckWaitTimeout:   d.cfg.InvokeTimeout,
		CloseTimeout:     5 * time.Second,
		NatsOptions: tokenOption(d.cfg.Token,
			natsgo.Name("callstream-events"),
			natsgo.MaxReconnects(-1),
			natsgo.ReconnectWait(d.cfg.ReconnectWait),
		),
		Unmarshaler: &wmNats.NATSMarshaler{},
		JetStream:   wmNats.JetStreamConfig{Disabled: true},
	}, logging.NewWatermillAdapter("nats-transport"))
	if err != nil {
		c.abort()
		return nil, fmt.Errorf("%w: create event subscriber: %w", channel.ErrTransport, err)
	}
	c.sub = sub

	messages, err := sub.Subscribe(runCtx, EventsSubject(path))
	if err != nil {
		c.abort()
		return nil, fmt.Errorf("%w: subscribe %s: %w", channel.ErrTransport, EventsSubject(path), err)
	}

	c.mu.Lock()
	c.state = channel.StateConnected
	c.mu.Unlock()

	c.wg.Add(1)
	go c.consume(messages)

	c.log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS channel connected")
	return c, nil
}

// Conn is one NATS channel connection: a request/reply connection for
// invokes plus a watermill subscriber for events.
type Conn struct {
	cfg     Config
	path    string
	log     zerolog.Logger
	nc      *natsgo.Conn
	sub     message.Subscriber
	breaker *gobreaker.CircuitBreaker[interface{}]
	events  *transport.Dispatcher

	mu    sync.RWMutex
	state channel.State

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func tokenOption(token string, opts ...natsgo.Option) []natsgo.Option {
	if token != "" {
		opts = append(opts, natsgo.Token(token))
	}
	return opts
}

func (c *Conn) natsOptions(name string) []natsgo.Option {
	return tokenOption(c.cfg.Token,
		natsgo.Name(name),
		natsgo.Timeout(c.cfg.HandshakeTimeout),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(c.cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			c.onDisconnect(err)
		}),
		natsgo.ReconnectHandler(func(_ *natsgo.Conn) {
			c.onReconnect()
		}),
		natsgo.ClosedHandler(func(_ *natsgo.Conn) {
			c.onClosed()
		}),
		natsgo.ErrorHandler(func(_ *natsgo.Conn, sub *natsgo.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			c.log.Error().Err(err).Str("subject", subject).Msg("NATS error")
		}),
	)
}

func (c *Conn) onDisconnect(err error) {
	c.mu.Lock()
	if c.state != channel.StateConnected {
		c.mu.Unlock()
		return
	}
	c.state = channel.StateReconnecting
	c.mu.Unlock()

	c.log.Warn().Err(err).Msg("NATS disconnected")
	c.events.Emit(channel.ConnectionChanged{State: channel.StateReconnecting, Err: err})
}

func (c *Conn) onReconnect() {
	c.mu.Lock()
	if c.state == channel.StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = channel.StateConnected
	c.mu.Unlock()

	metrics.TransportReconnects.WithLabelValues(transportName).Inc()
	c.log.Info().Msg("NATS reconnected")
	c.events.Emit(channel.ConnectionChanged{State: channel.StateConnected, Reconnected: true})
}

// onClosed handles nats.go giving up on its own; Close reports the
// deliberate case.
func (c *Conn) onClosed() {
	c.mu.Lock()
	if c.state == channel.StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = channel.StateClosed
	c.mu.Unlock()

	c.log.Warn().Msg("NATS connection closed unexpectedly")
	c.events.Emit(channel.ConnectionChanged{State: channel.StateClosed, Err: natsgo.ErrConnectionClosed})
}

func (c *Conn) consume(messages <-chan *message.Message) {
	defer c.wg.Done()

	for msg := range messages {
		msg.Ack()

		var f transport.Frame
		if err := json.Unmarshal(msg.Payload, &f); err != nil {
			c.log.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("Failed to parse event frame")
			metrics.TransportEvents.WithLabelValues(transportName, "malformed").Inc()
			continue
		}
		ev, err := transport.DecodeEvent(&f)
		if err != nil {
			c.log.Warn().Err(err).Str("event", f.Event).Msg("Dropping event frame")
			metrics.TransportEvents.WithLabelValues(transportName, "malformed").Inc()
			continue
		}
		metrics.TransportEvents.WithLabelValues(transportName, f.Event).Inc()
		c.events.Emit(ev)
	}
}

// Invoke sends a request on the method's subject and waits for the reply.
func (c *Conn) Invoke(ctx context.Context, method string, args ...interface{}) error {
	if c.State() != channel.StateConnected {
		return channel.ErrNotConnected
	}
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.request(ctx, method, args)
	})
	if breaker.IsOpen(err) {
		err = fmt.Errorf("%w: %s: %w", channel.ErrTransport, method, err)
	}
	metrics.RecordInvoke(transportName, method, err)
	return err
}

func (c *Conn) request(ctx context.Context, method string, args []interface{}) error {
	if args == nil {
		args = []interface{}{}
	}
	payload, err := json.Marshal(rpcRequest{Args: args})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.InvokeTimeout)
	defer cancel()

	msg, err := c.nc.RequestWithContext(ctx, RPCSubject(c.path, method), payload)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: %s: %w", channel.ErrTransport, method, err)
	}

	var reply rpcReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return fmt.Errorf("%w: %s: malformed reply: %w", channel.ErrTransport, method, err)
	}
	if reply.Error != "" {
		return &transport.RemoteError{Method: method, Message: reply.Error}
	}
	return nil
}

// OnEvent registers fn for inbound events and lifecycle changes.
func (c *Conn) OnEvent(fn func(channel.Event)) func() {
	return c.events.Subscribe(fn)
}

// State returns the connection state.
func (c *Conn) State() channel.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// abort releases whatever a failed Dial had opened.
func (c *Conn) abort() {
	c.mu.Lock()
	c.state = channel.StateClosed
	c.mu.Unlock()
	c.cancel()
	if c.sub != nil {
		_ = c.sub.Close()
	}
	if c.nc != nil {
		c.nc.Close()
	}
	c.events.Close(nil)
}

// Close ends the subscription and the request connection.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = channel.StateClosed
		c.mu.Unlock()

		c.cancel()
		if cerr := c.sub.Close(); cerr != nil {
			err = fmt.Errorf("close event subscriber: %w", cerr)
		}
		c.nc.Close()
		c.wg.Wait()

		c.events.Close(channel.ConnectionChanged{State: channel.StateClosed})
		c.log.Info().Msg("NATS channel closed")
	})
	return err
}
