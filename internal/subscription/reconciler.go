// Callstream - Radio Scanner Live Feed Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callstream

// Package subscription keeps the user's set of live talkgroups in step with
// the feed server.
//
// Changes are applied optimistically: Subscribe and Unsubscribe update the
// local set and persist it before the remote request is sent, and mark the
// talkgroup pending until the server confirms or denies. A denial reverts
// the pending intent. A request made while no connection is established
// stays pending and is replayed by ResubscribeAll.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tomtom215/callstream/internal/channel"
	"github.com/tomtom215/callstream/internal/logging"
	"github.com/tomtom215/callstream/internal/metrics"
	"github.com/tomtom215/callstream/internal/observer"
)

// ErrDenied is reported through Change.Err when the server refuses a request.
var ErrDenied = errors.New("subscription denied by server")

// Intent is the most recent local wish for one talkgroup.
type Intent int

const (
	IntentSubscribe Intent = iota + 1
	IntentUnsubscribe
)

func (i Intent) String() string {
	if i == IntentSubscribe {
		return "subscribe"
	}
	return "unsubscribe"
}

func (i Intent) method() string {
	if i == IntentSubscribe {
		return channel.MethodSubscribeTalkgroup
	}
	return channel.MethodUnsubscribeTalkgroup
}

// Change describes the state of one talkgroup after a mutation or
// reconciliation. Err is set when a remote request failed or was denied.
type Change struct {
	TalkgroupID int64 `json:"talkgroup_id"`
	Subscribed  bool  `json:"subscribed"`
	Pending     bool  `json:"pending"`
	Err         error `json:"-"`
}

// State is a point-in-time copy of the reconciler's sets, sorted by id.
type State struct {
	Subscribed []int64 `json:"subscribed"`
	Pending    []int64 `json:"pending"`
}

// Reconciler owns the live talkgroup set for one channel path.
type Reconciler struct {
	ch    channel.Channel
	path  string
	store Store
	log   zerolog.Logger

	mu         sync.Mutex
	subscribed map[int64]struct{}
	pending    map[int64]Intent

	// requests delivered on the current connection and not yet answered,
	// oldest first; the server answers each id's requests in order
	inflight map[int64][]Intent

	// serialises Save so the last write always carries the latest set
	saveMu sync.Mutex

	changes observer.Registry[Change]
}

// NewReconciler loads the persisted set once and returns a Reconciler that
// sends its requests over the connection for path.
func NewReconciler(ctx context.Context, ch channel.Channel, path string, store Store) (*Reconciler, error) {
	ids, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	r := &Reconciler{
		ch:         ch,
		path:       path,
		store:      store,
		log:        logging.WithComponent("reconciler"),
		subscribed: make(map[int64]struct{}, len(ids)),
		pending:    make(map[int64]Intent),
		inflight:   make(map[int64][]Intent),
	}
	for _, id := range ids {
		r.subscribed[id] = struct{}{}
	}
	r.updateGaugesLocked()
	r.log.Info().Int("talkgroups", len(ids)).Msg("Loaded live talkgroups")
	return r, nil
}

// Subscribe adds id to the live set and asks the server to start sending
// its calls.
func (r *Reconciler) Subscribe(ctx context.Context, id int64) error {
	r.mu.Lock()
	r.setLocked(id, IntentSubscribe)
	r.mu.Unlock()
	return r.send(ctx, id, IntentSubscribe)
}

// Unsubscribe removes id from the live set and tells the server.
func (r *Reconciler) Unsubscribe(ctx context.Context, id int64) error {
	r.mu.Lock()
	r.setLocked(id, IntentUnsubscribe)
	r.mu.Unlock()
	return r.send(ctx, id, IntentUnsubscribe)
}

// Toggle flips membership of id and returns the new local state.
func (r *Reconciler) Toggle(ctx context.Context, id int64) (bool, error) {
	r.mu.Lock()
	intent := IntentSubscribe
	if _, ok := r.subscribed[id]; ok {
		intent = IntentUnsubscribe
	}
	r.setLocked(id, intent)
	r.mu.Unlock()
	return intent == IntentSubscribe, r.send(ctx, id, intent)
}

func (r *Reconciler) setLocked(id int64, intent Intent) {
	if intent == IntentSubscribe {
		r.subscribed[id] = struct{}{}
	} else {
		delete(r.subscribed, id)
	}
	r.pending[id] = intent
	r.updateGaugesLocked()
}

// send persists the set, reports the optimistic change and issues the remote
// request if a connection is established.
func (r *Reconciler) send(ctx context.Context, id int64, intent Intent) error {
	persistErr := r.persist(ctx)
	if persistErr != nil {
		r.log.Error().Err(persistErr).Int64("talkgroup_id", id).Msg("Failed to persist live talkgroups")
	}
	r.changes.Notify(Change{TalkgroupID: id, Subscribed: intent == IntentSubscribe, Pending: true})

	conn, ok := r.ch.Peek(r.path)
	if !ok {
		r.log.Debug().Int64("talkgroup_id", id).Str("intent", intent.String()).Msg("Not connected, request deferred")
		return persistErr
	}

	r.track(id, intent)
	err := conn.Invoke(ctx, intent.method(), id)
	if err != nil {
		r.untrack(id, intent)
	}
	if errors.Is(err, channel.ErrNotConnected) {
		r.log.Debug().Int64("talkgroup_id", id).Str("intent", intent.String()).Msg("Connection down, request deferred")
		return persistErr
	}
	if err != nil {
		r.requestFailed(id, intent, err)
		return fmt.Errorf("%s talkgroup %d: %w", intent, id, err)
	}
	return persistErr
}

// track records a request about to be sent. It is recorded before the
// invoke so an answer racing the invoke result still finds it.
func (r *Reconciler) track(id int64, intent Intent) {
	r.mu.Lock()
	r.inflight[id] = append(r.inflight[id], intent)
	r.mu.Unlock()
}

// untrack drops the newest record of intent for a request that never
// reached the server.
func (r *Reconciler) untrack(id int64, intent Intent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	queue := r.inflight[id]
	for i := len(queue) - 1; i >= 0; i-- {
		if queue[i] == intent {
			queue = append(queue[:i], queue[i+1:]...)
			break
		}
	}
	if len(queue) == 0 {
		delete(r.inflight, id)
	} else {
		r.inflight[id] = queue
	}
}

// requestFailed clears the pending marker for a request that will never be
// confirmed. The local desire is kept.
func (r *Reconciler) requestFailed(id int64, intent Intent, err error) {
	r.mu.Lock()
	if r.pending[id] == intent {
		delete(r.pending, id)
	}
	_, subscribed := r.subscribed[id]
	_, pending := r.pending[id]
	r.updateGaugesLocked()
	r.mu.Unlock()

	r.log.Warn().Err(err).Int64("talkgroup_id", id).Str("intent", intent.String()).Msg("Subscription request failed")
	r.changes.Notify(Change{TalkgroupID: id, Subscribed: subscribed, Pending: pending, Err: err})
}

// ReconcileConfirmation applies the server's answer for id. The answer
// belongs to the oldest unanswered request for id. Any answer clears
// pending; a denial reverts membership only when it answers the latest
// request, so a denial of a superseded request never undoes a later choice.
// With nothing in flight the answer refers to the pending intent, or to
// current membership.
func (r *Reconciler) ReconcileConfirmation(ctx context.Context, id int64, granted bool) {
	r.mu.Lock()
	_, member := r.subscribed[id]
	intent, stale := r.answeredLocked(id, member)
	delete(r.pending, id)

	changed := false
	if !granted && !stale {
		switch {
		case intent == IntentSubscribe && member:
			delete(r.subscribed, id)
			changed = true
		case intent == IntentUnsubscribe && !member:
			r.subscribed[id] = struct{}{}
			changed = true
		}
	}
	_, member = r.subscribed[id]
	r.updateGaugesLocked()
	r.mu.Unlock()

	metrics.RecordConfirmation(intent == IntentSubscribe, granted)

	var persistErr error
	if changed {
		if persistErr = r.persist(ctx); persistErr != nil {
			r.log.Error().Err(persistErr).Int64("talkgroup_id", id).Msg("Failed to persist live talkgroups")
		}
	}

	change := Change{TalkgroupID: id, Subscribed: member}
	switch {
	case stale:
		r.log.Debug().Int64("talkgroup_id", id).Str("intent", intent.String()).Bool("granted", granted).
			Msg("Answer to superseded request")
	case !granted:
		change.Err = ErrDenied
		r.log.Warn().Int64("talkgroup_id", id).Str("intent", intent.String()).Msg("Subscription denied")
	default:
		r.log.Debug().Int64("talkgroup_id", id).Str("intent", intent.String()).Msg("Subscription confirmed")
	}
	if persistErr != nil && change.Err == nil {
		change.Err = persistErr
	}
	r.changes.Notify(change)
}

// answeredLocked pops the request an answer for id belongs to and reports
// whether a later request for id is still unanswered.
func (r *Reconciler) answeredLocked(id int64, member bool) (Intent, bool) {
	if queue := r.inflight[id]; len(queue) > 0 {
		intent := queue[0]
		if len(queue) == 1 {
			delete(r.inflight, id)
			return intent, false
		}
		r.inflight[id] = queue[1:]
		return intent, true
	}
	if intent, ok := r.pending[id]; ok {
		return intent, false
	}
	if member {
		return IntentSubscribe, false
	}
	return IntentUnsubscribe, false
}

// ResubscribeAll replays a subscribe request for every id in the live set.
// It is called after every (re)connection, when the server holds no
// subscription state, so pending unsubscribes are already satisfied.
func (r *Reconciler) ResubscribeAll(ctx context.Context) error {
	r.mu.Lock()
	for id, intent := range r.pending {
		if intent == IntentUnsubscribe {
			delete(r.pending, id)
		}
	}
	// answers to requests sent on an earlier connection never arrive
	clear(r.inflight)
	ids := r.sortedLocked(r.subscribed)
	for _, id := range ids {
		r.pending[id] = IntentSubscribe
	}
	r.updateGaugesLocked()
	r.mu.Unlock()

	for _, id := range ids {
		r.changes.Notify(Change{TalkgroupID: id, Subscribed: true, Pending: true})
	}

	conn, ok := r.ch.Peek(r.path)
	if !ok {
		return nil
	}
	r.log.Info().Int("talkgroups", len(ids)).Msg("Resubscribing live talkgroups")

	var errs []error
	for _, id := range ids {
		r.track(id, IntentSubscribe)
		err := conn.Invoke(ctx, channel.MethodSubscribeTalkgroup, id)
		if err != nil {
			r.untrack(id, IntentSubscribe)
		}
		if errors.Is(err, channel.ErrNotConnected) {
			// the next reconnection replays everything still pending
			return errors.Join(errs...)
		}
		if err != nil {
			r.requestFailed(id, IntentSubscribe, err)
			errs = append(errs, fmt.Errorf("resubscribe talkgroup %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// IsSubscribed reports local membership, which includes unconfirmed
// subscribes.
func (r *Reconciler) IsSubscribed(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.subscribed[id]
	return ok
}

// IsPending reports whether a request for id awaits confirmation.
func (r *Reconciler) IsPending(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[id]
	return ok
}

// Snapshot returns the current sets.
func (r *Reconciler) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	pending := make(map[int64]struct{}, len(r.pending))
	for id := range r.pending {
		pending[id] = struct{}{}
	}
	return State{Subscribed: r.sortedLocked(r.subscribed), Pending: r.sortedLocked(pending)}
}

// Watch registers fn for every Change and returns its unsubscribe func.
func (r *Reconciler) Watch(fn func(Change)) func() {
	return r.changes.Subscribe(fn)
}

func (r *Reconciler) persist(ctx context.Context) error {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	r.mu.Lock()
	ids := r.sortedLocked(r.subscribed)
	r.mu.Unlock()
	return r.store.Save(ctx, ids)
}

func (r *Reconciler) sortedLocked(set map[int64]struct{}) []int64 {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Reconciler) updateGaugesLocked() {
	metrics.SubscriptionsActive.Set(float64(len(r.subscribed)))
	metrics.SubscriptionsPending.Set(float64(len(r.pending)))
}
