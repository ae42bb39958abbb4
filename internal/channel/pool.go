// Callstream - Radio Scanner Live Feed Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callstream

package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/callstream/internal/logging"
	"github.com/tomtom215/callstream/internal/metrics"
)

// PoolConfig holds Pool settings.
type PoolConfig struct {
	// GracePeriod is how long a connection with no holders stays open.
	GracePeriod time.Duration

	// DialTimeout bounds one establishment attempt. It is independent of the
	// contexts of the callers waiting on that attempt.
	DialTimeout time.Duration
}

// handle is the per-path record. conn and err are written once, before
// ready is closed.
type handle struct {
	path  string
	refs  int
	conn  Conn
	err   error
	ready chan struct{}
	timer *time.Timer
	gen   uint64

	// closing is set while teardown closes conn; a new dial for the path
	// waits for it so two connections never overlap.
	closing chan struct{}
}

// Pool shares one Conn per path among any number of holders.
//
// The first Acquire for a path starts a single dial; concurrent callers wait
// on that same attempt. When the last holder releases, teardown is deferred
// by GracePeriod and cancelled by any Acquire in the meantime.
type Pool struct {
	dialer Dialer
	config PoolConfig
	log    zerolog.Logger

	mu      sync.Mutex
	handles map[string]*handle
	closed  bool
}

// NewPool creates a Pool dialing through d.
func NewPool(d Dialer, cfg PoolConfig) *Pool {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	return &Pool{
		dialer:  d,
		config:  cfg,
		log:     logging.WithComponent("channel-pool"),
		handles: make(map[string]*handle),
	}
}

// Acquire returns the connection for path, dialing it if needed, and takes a
// reference that must be returned with Release. If ctx ends while the dial is
// in flight the reference is dropped and ctx.Err() returned; the dial itself
// continues for the other waiters. No reference is held when an error is
// returned.
func (p *Pool) Acquire(ctx context.Context, path string) (Conn, error) {
	p.mu.Lock()
	for {
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		h, ok := p.handles[path]
		if !ok || h.closing == nil {
			break
		}
		closing := h.closing
		p.mu.Unlock()
		select {
		case <-closing:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		p.mu.Lock()
	}

	h, ok := p.handles[path]
	result := "joined"
	switch {
	case !ok:
		h = &handle{path: path, ready: make(chan struct{})}
		p.handles[path] = h
		result = "dialed"
		go p.establish(h)
	case h.conn != nil:
		result = "reused"
	}

	h.refs++
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
		h.gen++
		p.log.Debug().Str("path", path).Msg("Pending teardown cancelled")
	}
	ready := h.ready
	p.mu.Unlock()

	select {
	case <-ready:
	case <-ctx.Done():
		p.mu.Lock()
		p.releaseLocked(h)
		p.mu.Unlock()
		metrics.PoolAcquires.WithLabelValues("failed").Inc()
		return nil, ctx.Err()
	}

	if h.err != nil {
		metrics.PoolAcquires.WithLabelValues("failed").Inc()
		return nil, h.err
	}
	metrics.PoolAcquires.WithLabelValues(result).Inc()
	return h.conn, nil
}

func (p *Pool) establish(h *handle) {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.DialTimeout)
	defer cancel()

	p.log.Debug().Str("path", h.path).Msg("Dialing channel")
	conn, err := p.dialer.Dial(ctx, h.path)

	p.mu.Lock()
	defer p.mu.Unlock()

	if err == nil && p.closed {
		_ = conn.Close()
		conn, err = nil, ErrPoolClosed
	}

	if err != nil {
		if !errors.Is(err, ErrPoolClosed) {
			err = fmt.Errorf("%w: dial %s: %w", ErrTransport, h.path, err)
		}
		h.err = err
		if p.handles[h.path] == h {
			delete(p.handles, h.path)
		}
		close(h.ready)
		p.log.Warn().Err(err).Str("path", h.path).Int("waiters", h.refs).Msg("Channel establishment failed")
		return
	}

	h.conn = conn
	close(h.ready)
	metrics.PoolConnections.Inc()
	p.log.Info().Str("path", h.path).Int("refs", h.refs).Msg("Channel established")

	// every waiter gave up before the dial finished
	if h.refs == 0 {
		p.scheduleTeardownLocked(h)
	}
}

// Release drops one reference to path. Releasing a path with no references
// is logged and ignored.
func (p *Pool) Release(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	h, ok := p.handles[path]
	if !ok {
		p.log.Warn().Str("path", path).Msg("Release of unknown channel ignored")
		return
	}
	p.releaseLocked(h)
}

func (p *Pool) releaseLocked(h *handle) {
	if p.handles[h.path] != h || h.closing != nil {
		return
	}
	if h.refs == 0 {
		p.log.Warn().Str("path", h.path).Msg("Release without matching acquire ignored")
		return
	}
	h.refs--
	if h.refs > 0 || h.conn == nil {
		return
	}
	p.scheduleTeardownLocked(h)
}

func (p *Pool) scheduleTeardownLocked(h *handle) {
	h.gen++
	gen := h.gen
	h.timer = time.AfterFunc(p.config.GracePeriod, func() { p.teardown(h, gen) })
	p.log.Debug().Str("path", h.path).Dur("grace", p.config.GracePeriod).Msg("Teardown scheduled")
}

func (p *Pool) teardown(h *handle, gen uint64) {
	p.mu.Lock()
	if p.handles[h.path] != h || h.gen != gen || h.refs > 0 || h.closing != nil {
		p.mu.Unlock()
		return
	}
	h.timer = nil
	h.closing = make(chan struct{})
	p.mu.Unlock()

	if err := h.conn.Close(); err != nil {
		p.log.Warn().Err(err).Str("path", h.path).Msg("Channel close failed")
	}

	p.mu.Lock()
	if p.handles[h.path] == h {
		delete(p.handles, h.path)
	}
	close(h.closing)
	p.mu.Unlock()

	metrics.PoolConnections.Dec()
	metrics.PoolTeardowns.Inc()
	p.log.Info().Str("path", h.path).Msg("Channel torn down after grace period")
}

// Peek returns the connection for path only if it is already established.
// It never dials and never changes the reference count.
func (p *Pool) Peek(path string) (Conn, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	h, ok := p.handles[path]
	if !ok || h.conn == nil || h.closing != nil {
		return nil, false
	}
	return h.conn, true
}

// Refs returns the current reference count for path.
func (p *Pool) Refs(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if h, ok := p.handles[path]; ok {
		return h.refs
	}
	return 0
}

// Close tears down every established connection immediately. Dials still in
// flight fail their waiters with ErrPoolClosed.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	var conns []Conn
	for path, h := range p.handles {
		if h.conn == nil || h.closing != nil {
			continue
		}
		if h.timer != nil {
			h.timer.Stop()
		}
		conns = append(conns, h.conn)
		delete(p.handles, path)
	}
	p.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
		metrics.PoolConnections.Dec()
	}
	return nil
}
