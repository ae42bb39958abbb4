// Callstream - Radio Scanner Live Feed Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callstream

package livefeed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/callstream/internal/cache"
	"github.com/tomtom215/callstream/internal/callstream"
	"github.com/tomtom215/callstream/internal/channel"
	"github.com/tomtom215/callstream/internal/config"
	"github.com/tomtom215/callstream/internal/logging"
	"github.com/tomtom215/callstream/internal/models"
	"github.com/tomtom215/callstream/internal/observer"
	"github.com/tomtom215/callstream/internal/playback"
	"github.com/tomtom215/callstream/internal/subscription"
)

// ErrUnknownCall is returned for a call id that is not in the call list.
var ErrUnknownCall = errors.New("call not found")

// awaitingAudioSize bounds how many fresh arrivals without a ready
// recording are remembered for a later autoplay.
const awaitingAudioSize = 64

// Config configures a Session.
type Config struct {
	Path      string
	PageSize  int
	AutoStart bool

	// AwaitAudio is how long a fresh arrival without audio stays eligible
	// for autoplay once its recording becomes ready.
	AwaitAudio time.Duration
}

// ConfigFrom extracts the session settings from cfg.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Path:       cfg.Feed.Path,
		PageSize:   cfg.Calls.PageSize,
		AutoStart:  cfg.Playback.AutoStart,
		AwaitAudio: cfg.Calls.RecencyWindow,
	}
}

// Session ties the channel, reconciler, call list and player together for
// one feed path.
type Session struct {
	cfg        Config
	ch         channel.Channel
	reconciler *subscription.Reconciler
	aggregator *callstream.Aggregator
	scheduler  *playback.Scheduler
	log        zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// fresh arrivals of subscribed talkgroups still waiting for audio
	awaiting *cache.LRU[int64]

	mu       sync.Mutex
	started  bool
	starting bool
	detach  func()
	state   channel.State

	connObs observer.Registry[channel.ConnectionChanged]
}

// New wires the components. Nothing touches the network until Start.
func New(cfg Config, ch channel.Channel, r *subscription.Reconciler, a *callstream.Aggregator, s *playback.Scheduler) *Session {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	ctx, cancel := context.WithCancel(context.Background())
	sess := &Session{
		cfg:        cfg,
		ch:         ch,
		reconciler: r,
		aggregator: a,
		scheduler:  s,
		log:        logging.WithComponent("session").With().Str("path", cfg.Path).Logger(),
		ctx:        ctx,
		cancel:     cancel,
		awaiting:   cache.NewLRU[int64](awaitingAudioSize, cfg.AwaitAudio),
		state:      channel.StateClosed,
	}
	a.WatchArrivals(sess.onArrival)
	a.WatchUpdates(sess.onUpdate)
	return sess
}

// Start acquires the feed connection, subscribes to the call stream,
// replays the live talkgroups and seeds the call list from the backlog.
// Only a failed connection is returned; the later steps are logged.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started || s.starting {
		s.mu.Unlock()
		return nil
	}
	s.starting = true
	s.mu.Unlock()

	conn, err := s.ch.Acquire(ctx, s.cfg.Path)
	if err != nil {
		s.mu.Lock()
		s.starting = false
		s.mu.Unlock()
		return fmt.Errorf("acquire %s: %w", s.cfg.Path, err)
	}
	detach := conn.OnEvent(s.handleEvent)

	s.mu.Lock()
	s.starting = false
	s.started = true
	s.detach = detach
	s.state = conn.State()
	s.mu.Unlock()
	s.log.Info().Msg("Live feed session started")
	s.connObs.Notify(channel.ConnectionChanged{State: conn.State()})

	s.resync(ctx, conn)

	if err := s.aggregator.LoadInitial(ctx, 0, s.cfg.PageSize); err != nil {
		s.log.Warn().Err(err).Msg("Backlog not loaded")
	}
	if s.cfg.AutoStart {
		s.scheduler.SetPlayerState(playback.StatePlaying)
	}
	return nil
}

// resync restores remote state after a (re)connection.
func (s *Session) resync(ctx context.Context, conn channel.Conn) {
	if err := conn.Invoke(ctx, channel.MethodSubscribeCalls); err != nil {
		s.log.Warn().Err(err).Msg("Call stream subscription failed")
	}
	if err := s.reconciler.ResubscribeAll(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Resubscribe incomplete")
	}
}

// Stop detaches from the connection, releases it and stops playback. The
// session can be started again.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	detach := s.detach
	s.detach = nil
	s.state = channel.StateClosed
	s.mu.Unlock()

	detach()
	if conn, ok := s.ch.Peek(s.cfg.Path); ok {
		ctx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
		if err := conn.Invoke(ctx, channel.MethodUnsubscribeCalls); err != nil {
			s.log.Debug().Err(err).Msg("Call stream unsubscribe failed")
		}
		cancel()
	}
	s.ch.Release(s.cfg.Path)
	s.scheduler.SetPlayerState(playback.StateStopped)
	s.wg.Wait()

	s.log.Info().Msg("Live feed session stopped")
	s.connObs.Notify(channel.ConnectionChanged{State: channel.StateClosed})
}

// Close stops the session for good and shuts the player down.
func (s *Session) Close() {
	s.Stop()
	s.cancel()
	s.wg.Wait()
	s.scheduler.Close()
}

func (s *Session) handleEvent(ev channel.Event) {
	switch e := ev.(type) {
	case channel.CallUpserted:
		s.aggregator.OnPushEvent(e.Call)
	case channel.SubscriptionConfirmed:
		s.reconciler.ReconcileConfirmation(s.ctx, e.TalkgroupID, e.Granted)
	case channel.ConnectionChanged:
		s.mu.Lock()
		s.state = e.State
		s.mu.Unlock()
		s.log.Info().Str("state", e.State.String()).Bool("reconnected", e.Reconnected).Msg("Connection state changed")
		s.connObs.Notify(e)

		if e.State == channel.StateConnected && e.Reconnected {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				conn, ok := s.ch.Peek(s.cfg.Path)
				if !ok {
					return
				}
				s.resync(s.ctx, conn)
				if err := s.aggregator.LoadInitial(s.ctx, 0, s.cfg.PageSize); err != nil {
					s.log.Warn().Err(err).Msg("Backlog refresh after reconnect failed")
				}
			}()
		}
	default:
		s.log.Debug().Str("event", ev.EventName()).Msg("Ignoring event")
	}
}

// onArrival feeds fresh calls of live talkgroups to the player.
func (s *Session) onArrival(call *models.CallRecord) {
	if !s.reconciler.IsSubscribed(call.TalkgroupID) {
		return
	}
	if !call.HasPlayableAudio() {
		s.awaiting.Add(call.ID, call.TalkgroupID)
		return
	}
	s.enqueueArrival(call)
}

// onUpdate catches the amendment that makes an awaited arrival playable.
func (s *Session) onUpdate(u callstream.Update) {
	if u.Kind != callstream.KindAmendment || u.Call == nil || !u.Call.HasPlayableAudio() {
		return
	}
	if _, ok := s.awaiting.Get(u.Call.ID); !ok {
		return
	}
	s.awaiting.Remove(u.Call.ID)
	if s.reconciler.IsSubscribed(u.Call.TalkgroupID) {
		s.enqueueArrival(u.Call)
	}
}

func (s *Session) enqueueArrival(call *models.CallRecord) {
	if err := s.scheduler.Enqueue(call); err != nil {
		s.log.Debug().Err(err).Str("call_id", call.ID).Msg("Arrival not queued")
	}
}

// Talkgroups

func (s *Session) Subscribe(ctx context.Context, id int64) error {
	return s.reconciler.Subscribe(ctx, id)
}

func (s *Session) Unsubscribe(ctx context.Context, id int64) error {
	return s.reconciler.Unsubscribe(ctx, id)
}

func (s *Session) Toggle(ctx context.Context, id int64) (bool, error) {
	return s.reconciler.Toggle(ctx, id)
}

func (s *Session) IsSubscribed(id int64) bool { return s.reconciler.IsSubscribed(id) }
func (s *Session) IsPending(id int64) bool    { return s.reconciler.IsPending(id) }

// Subscriptions returns the live and pending talkgroup sets.
func (s *Session) Subscriptions() subscription.State { return s.reconciler.Snapshot() }

// Calls and playback

// Calls returns the call list, newest first.
func (s *Session) Calls() []*models.CallRecord { return s.aggregator.Calls() }

// Enqueue queues a call from the call list by id.
func (s *Session) Enqueue(id string) error {
	call, ok := s.aggregator.Get(id)
	if !ok {
		return ErrUnknownCall
	}
	return s.scheduler.Enqueue(call)
}

// PlayCall plays a call from the call list next, interrupting the current
// one.
func (s *Session) PlayCall(id string) error {
	call, ok := s.aggregator.Get(id)
	if !ok {
		return ErrUnknownCall
	}
	return s.scheduler.PlayCall(call)
}

func (s *Session) RemoveFromQueue(id string) bool { return s.scheduler.RemoveFromQueue(id) }
func (s *Session) MoveToFront(id string) bool     { return s.scheduler.MoveToFront(id) }
func (s *Session) ClearQueue()                    { s.scheduler.ClearQueue() }
func (s *Session) SetVolume(percent int) int      { return s.scheduler.SetVolume(percent) }
func (s *Session) Skip()                          { s.scheduler.Skip() }

func (s *Session) TogglePlayerState() playback.PlayerState {
	return s.scheduler.TogglePlayerState()
}

func (s *Session) Queue() []*models.CallRecord             { return s.scheduler.Queue() }
func (s *Session) Current() *models.CallRecord             { return s.scheduler.Current() }
func (s *Session) PlayerState() playback.PlayerState       { return s.scheduler.State() }
func (s *Session) Volume() int                             { return s.scheduler.Volume() }
func (s *Session) AutoplayPermission() playback.Permission { return s.scheduler.Permission() }

// ConnectionState returns the last reported connection state.
func (s *Session) ConnectionState() channel.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Observers

func (s *Session) WatchCalls(fn func(callstream.Update)) func() {
	return s.aggregator.WatchUpdates(fn)
}

func (s *Session) WatchArrivals(fn func(*models.CallRecord)) func() {
	return s.aggregator.WatchArrivals(fn)
}

func (s *Session) WatchQueue(fn func([]*models.CallRecord)) func() {
	return s.scheduler.WatchQueue(fn)
}

func (s *Session) WatchPlayerState(fn func(playback.PlayerState)) func() {
	return s.scheduler.WatchState(fn)
}

func (s *Session) WatchCurrent(fn func(*models.CallRecord)) func() {
	return s.scheduler.WatchCurrent(fn)
}

func (s *Session) WatchSubscriptions(fn func(subscription.Change)) func() {
	return s.reconciler.Watch(fn)
}

func (s *Session) WatchConnection(fn func(channel.ConnectionChanged)) func() {
	return s.connObs.Subscribe(fn)
}
