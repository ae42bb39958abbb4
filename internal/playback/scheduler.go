// Callstream - Radio Scanner Live Feed Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callstream

// Package playback plays queued calls one at a time.
//
// The Scheduler exposes two player states, stopped and playing. Switching to
// playing probes the platform for autoplay permission when it has not been
// granted yet, then starts a single consume loop that dequeues the head of
// the queue, plays it to completion and continues. An autoplay refusal ends
// the pass: the item goes back to the head of the queue and the player
// stops until the user starts it again. Any other item failure is logged and
// the item is skipped.
package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/callstream/internal/logging"
	"github.com/tomtom215/callstream/internal/metrics"
	"github.com/tomtom215/callstream/internal/models"
	"github.com/tomtom215/callstream/internal/observer"
)

// PlayerState is the user-visible player mode.
type PlayerState int

const (
	StateStopped PlayerState = iota
	StatePlaying
)

func (s PlayerState) String() string {
	if s == StatePlaying {
		return "playing"
	}
	return "stopped"
}

// Permission is the outcome of the last autoplay probe.
type Permission int

const (
	PermissionUnknown Permission = iota
	PermissionGranted
	PermissionDenied
)

func (p Permission) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// Config tunes the Scheduler.
type Config struct {
	// ProbeTimeout bounds the autoplay probe regardless of how the platform
	// behaves.
	ProbeTimeout time.Duration

	// Volume is the initial volume, 0..100.
	Volume int
}

// Scheduler owns the playback queue and the single live Primitive.
type Scheduler struct {
	platform Platform
	resolver AssetResolver
	cfg      Config
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	state      PlayerState
	permission Permission
	queue      []*models.CallRecord
	current    *models.CallRecord
	prim       Primitive
	skipItem   context.CancelFunc
	volume     int
	looping    bool
	probing    bool
	closed     bool

	queueObs   observer.Registry[[]*models.CallRecord]
	stateObs   observer.Registry[PlayerState]
	currentObs observer.Registry[*models.CallRecord]
}

// NewScheduler returns a stopped Scheduler with an empty queue.
func NewScheduler(platform Platform, resolver AssetResolver, cfg Config) *Scheduler {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		platform: platform,
		resolver: resolver,
		cfg:      cfg,
		log:      logging.WithComponent("scheduler"),
		ctx:      ctx,
		cancel:   cancel,
		volume:   clampVolume(cfg.Volume),
	}
}

// ProbeAutoplayPermission runs the platform probe bounded by the configured
// timeout. A probe that neither succeeds nor fails in time counts as denied.
func (s *Scheduler) ProbeAutoplayPermission(ctx context.Context) Permission {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()

	result := make(chan error, 1)
	go func() { result <- s.platform.Probe(ctx) }()

	var err error
	select {
	case err = <-result:
	case <-ctx.Done():
		err = ctx.Err()
	}

	perm := PermissionGranted
	if err != nil {
		perm = PermissionDenied
		s.log.Warn().Err(err).Msg("Autoplay probe denied")
	} else {
		s.log.Debug().Msg("Autoplay probe granted")
	}
	metrics.RecordProbe(perm == PermissionGranted)

	s.mu.Lock()
	s.permission = perm
	s.mu.Unlock()
	return perm
}

// Enqueue appends call unless it is already queued or playing. A call
// without a ready recording is refused with ErrNotPlayable.
func (s *Scheduler) Enqueue(call *models.CallRecord) error {
	if !call.HasPlayableAudio() {
		return ErrNotPlayable
	}
	s.mu.Lock()
	if s.hasLocked(call.ID) {
		s.mu.Unlock()
		return nil
	}
	s.queue = append(s.queue, call)
	queue := s.queueSnapshotLocked()
	s.kickLocked()
	s.mu.Unlock()

	s.log.Debug().Str("call_id", call.ID).Int("queue_length", len(queue)).Msg("Enqueued call")
	s.queueObs.Notify(queue)
	return nil
}

// PlayCall puts call at the head of the queue, skips whatever is playing and
// starts the player.
func (s *Scheduler) PlayCall(call *models.CallRecord) error {
	if !call.HasPlayableAudio() {
		return ErrNotPlayable
	}
	s.mu.Lock()
	if s.current != nil && s.current.ID == call.ID {
		s.mu.Unlock()
		s.SetPlayerState(StatePlaying)
		return nil
	}
	s.removeLocked(call.ID)
	s.queue = append([]*models.CallRecord{call}, s.queue...)
	if s.skipItem != nil {
		s.skipItem()
	}
	queue := s.queueSnapshotLocked()
	s.mu.Unlock()

	s.queueObs.Notify(queue)
	s.SetPlayerState(StatePlaying)
	return nil
}

// SetPlayerState switches the player. The new state is visible to readers
// before SetPlayerState returns; the probe and playback run in the
// background. Stopping halts the current item and keeps the queue.
func (s *Scheduler) SetPlayerState(state PlayerState) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	changed := s.applyStateLocked(state)
	s.mu.Unlock()
	s.announce(state, changed)
}

// TogglePlayerState flips between playing and stopped and returns the new
// state. Concurrent toggles alternate.
func (s *Scheduler) TogglePlayerState() PlayerState {
	s.mu.Lock()
	next := StatePlaying
	if s.state == StatePlaying {
		next = StateStopped
	}
	if s.closed {
		s.mu.Unlock()
		return next
	}
	changed := s.applyStateLocked(next)
	s.mu.Unlock()
	s.announce(next, changed)
	return next
}

// applyStateLocked records state and starts or halts playback. It reports
// whether the state changed. s.mu must be held.
func (s *Scheduler) applyStateLocked(state PlayerState) bool {
	changed := s.state != state
	s.state = state

	if state == StateStopped {
		if s.skipItem != nil {
			s.skipItem()
		}
		return changed
	}

	if s.permission == PermissionGranted {
		s.kickLocked()
	} else if !s.probing {
		s.probing = true
		s.wg.Add(1)
		go s.probeThenPlay()
	}
	return changed
}

func (s *Scheduler) announce(state PlayerState, changed bool) {
	if !changed {
		return
	}
	if state == StateStopped {
		s.log.Info().Msg("Player stopped")
	} else {
		s.log.Info().Msg("Player started")
	}
	s.stateObs.Notify(state)
}

func (s *Scheduler) probeThenPlay() {
	defer s.wg.Done()
	perm := s.ProbeAutoplayPermission(s.ctx)

	s.mu.Lock()
	s.probing = false
	if perm == PermissionGranted {
		s.kickLocked()
		s.mu.Unlock()
		return
	}
	stopped := s.state == StatePlaying
	s.state = StateStopped
	s.mu.Unlock()

	if stopped {
		s.log.Warn().Msg("Autoplay not permitted, player stopped")
		s.stateObs.Notify(StateStopped)
	}
}

// kickLocked starts the consume loop unless it is running or has nothing to
// do.
func (s *Scheduler) kickLocked() {
	if s.looping || s.closed || s.state != StatePlaying || s.permission != PermissionGranted || len(s.queue) == 0 {
		return
	}
	s.looping = true
	s.wg.Add(1)
	go s.consume()
}

func (s *Scheduler) consume() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		if s.closed || s.state != StatePlaying || len(s.queue) == 0 {
			s.looping = false
			s.mu.Unlock()
			return
		}
		item := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.current = item
		ctx, skip := context.WithCancel(s.ctx)
		s.skipItem = skip
		queue := s.queueSnapshotLocked()
		s.mu.Unlock()

		s.queueObs.Notify(queue)
		s.currentObs.Notify(item)

		err := s.play(ctx, item)
		skip()

		s.mu.Lock()
		s.current = nil
		s.skipItem = nil
		outcome := s.outcomeLocked(err)
		blocked := outcome == "blocked"
		if blocked {
			s.queue = append([]*models.CallRecord{item}, s.queue...)
			s.permission = PermissionDenied
			s.state = StateStopped
			s.looping = false
			queue = s.queueSnapshotLocked()
		}
		s.mu.Unlock()

		metrics.PlaybackItems.WithLabelValues(outcome).Inc()
		s.currentObs.Notify(nil)

		switch outcome {
		case "blocked":
			s.log.Warn().Str("call_id", item.ID).Msg("Autoplay blocked, player stopped")
			s.queueObs.Notify(queue)
			s.stateObs.Notify(StateStopped)
			return
		case "error":
			s.log.Warn().Err(err).Str("call_id", item.ID).Msg("Skipping unplayable call")
		default:
			s.log.Debug().Str("call_id", item.ID).Str("outcome", outcome).Msg("Call finished")
		}
	}
}

func (s *Scheduler) outcomeLocked(err error) string {
	switch {
	case err == nil:
		return "completed"
	case errors.Is(err, ErrAutoplayBlocked):
		return "blocked"
	case errors.Is(err, context.Canceled) && (s.state == StateStopped || s.closed):
		return "stopped"
	case errors.Is(err, context.Canceled):
		return "skipped"
	default:
		return "error"
	}
}

// play runs one item to completion. Only one Primitive is live at a time:
// it is registered after the previous one has been stopped and is stopped
// before play returns.
func (s *Scheduler) play(ctx context.Context, item *models.CallRecord) error {
	asset, err := s.resolver.Resolve(item)
	if err != nil {
		return err
	}
	prim, err := s.platform.Open(ctx, asset)
	if err != nil {
		return err
	}
	defer func() {
		s.mu.Lock()
		if s.prim == prim {
			s.prim = nil
		}
		s.mu.Unlock()
		prim.Stop()
	}()

	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		return ctx.Err()
	}
	s.prim = prim
	prim.SetVolume(s.volume)
	s.mu.Unlock()

	if err := prim.Start(ctx); err != nil {
		return err
	}
	select {
	case err := <-prim.Done():
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Skip abandons the current item; the loop moves on to the next one.
func (s *Scheduler) Skip() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.skipItem != nil {
		s.skipItem()
	}
}

// RemoveFromQueue drops id from the queue and reports whether it was there.
func (s *Scheduler) RemoveFromQueue(id string) bool {
	s.mu.Lock()
	removed := s.removeLocked(id)
	queue := s.queueSnapshotLocked()
	s.mu.Unlock()
	if removed {
		s.queueObs.Notify(queue)
	}
	return removed
}

// MoveToFront moves a queued id to the head of the queue.
func (s *Scheduler) MoveToFront(id string) bool {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	item := s.queue[i]
	copy(s.queue[1:i+1], s.queue[:i])
	s.queue[0] = item
	queue := s.queueSnapshotLocked()
	s.mu.Unlock()

	s.queueObs.Notify(queue)
	return true
}

// ClearQueue empties the queue. The current item keeps playing.
func (s *Scheduler) ClearQueue() {
	s.mu.Lock()
	s.queue = nil
	queue := s.queueSnapshotLocked()
	s.mu.Unlock()
	s.queueObs.Notify(queue)
}

// SetVolume applies percent, clamped to 0..100, to the live item and to
// every later one. It returns the applied value.
func (s *Scheduler) SetVolume(percent int) int {
	percent = clampVolume(percent)
	s.mu.Lock()
	s.volume = percent
	if s.prim != nil {
		s.prim.SetVolume(percent)
	}
	s.mu.Unlock()
	return percent
}

func clampVolume(v int) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

// Queue returns the waiting calls in play order.
func (s *Scheduler) Queue() []*models.CallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queueSnapshotLocked()
}

// Current returns the playing call, or nil.
func (s *Scheduler) Current() *models.CallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Scheduler) State() PlayerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) Permission() Permission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permission
}

func (s *Scheduler) Volume() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// WatchQueue registers fn for queue changes.
func (s *Scheduler) WatchQueue(fn func([]*models.CallRecord)) func() {
	return s.queueObs.Subscribe(fn)
}

// WatchState registers fn for player state changes.
func (s *Scheduler) WatchState(fn func(PlayerState)) func() {
	return s.stateObs.Subscribe(fn)
}

// WatchCurrent registers fn for the current item; nil means idle.
func (s *Scheduler) WatchCurrent(fn func(*models.CallRecord)) func() {
	return s.currentObs.Subscribe(fn)
}

// Close stops playback and waits for the loop and any probe to exit.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.state = StateStopped
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) hasLocked(id string) bool {
	if s.current != nil && s.current.ID == id {
		return true
	}
	return s.indexLocked(id) >= 0
}

func (s *Scheduler) indexLocked(id string) int {
	for i, c := range s.queue {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func (s *Scheduler) removeLocked(id string) bool {
	i := s.indexLocked(id)
	if i < 0 {
		return false
	}
	s.queue = append(s.queue[:i], s.queue[i+1:]...)
	return true
}

func (s *Scheduler) queueSnapshotLocked() []*models.CallRecord {
	metrics.PlaybackQueueLength.Set(float64(len(s.queue)))
	return append([]*models.CallRecord(nil), s.queue...)
}
