// Callstream - Radio Scanner Live Feed Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callstream

// Package callstream merges the backlog page and pushed call events into one
// bounded call list, newest first, with at most one entry per call id.
//
// Each pushed call is classified:
//
//	known id                        -> amendment, replaced in place
//	unknown id, within the window   -> arrival, reported to arrival watchers
//	unknown id, older than window   -> backfill, merged by recency
//
// Every accepted call is reported to update watchers. When the list grows
// past capacity the oldest calls are evicted.
package callstream

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/callstream/internal/logging"
	"github.com/tomtom215/callstream/internal/metrics"
	"github.com/tomtom215/callstream/internal/models"
	"github.com/tomtom215/callstream/internal/observer"
)

// Backlog fetches one page of past calls, newest first.
type Backlog interface {
	FetchPage(ctx context.Context, page, size int) ([]*models.CallRecord, error)
}

// Kind classifies a change to the call list.
type Kind int

const (
	KindArrival Kind = iota + 1
	KindAmendment
	KindBackfill
)

func (k Kind) String() string {
	switch k {
	case KindArrival:
		return "arrival"
	case KindAmendment:
		return "amendment"
	case KindBackfill:
		return "backfill"
	default:
		return "unknown"
	}
}

// Update is delivered to update watchers after every change. Calls is the
// full list at that moment; Call is the pushed record, nil for a backlog
// load.
type Update struct {
	Kind  Kind
	Call  *models.CallRecord
	Calls []*models.CallRecord
}

// Config sizes the call list.
type Config struct {
	Capacity      int
	RecencyWindow time.Duration

	// Now is the clock used for the recency window; time.Now when nil.
	Now func() time.Time
}

// Aggregator owns the call list. Records it hands out are shared and must
// not be modified.
type Aggregator struct {
	cfg     Config
	backlog Backlog
	log     zerolog.Logger

	mu    sync.RWMutex
	calls []*models.CallRecord
	ids   map[string]struct{}

	arrivals observer.Registry[*models.CallRecord]
	updates  observer.Registry[Update]
}

// NewAggregator returns an empty Aggregator seeded from backlog by LoadInitial.
func NewAggregator(cfg Config, backlog Backlog) *Aggregator {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 200
	}
	if cfg.RecencyWindow <= 0 {
		cfg.RecencyWindow = 2 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Aggregator{
		cfg:     cfg,
		backlog: backlog,
		log:     logging.WithComponent("aggregator"),
		calls:   make([]*models.CallRecord, 0, cfg.Capacity),
		ids:     make(map[string]struct{}, cfg.Capacity),
	}
}

// LoadInitial fetches one backlog page and merges it into the list. Calls
// already present, typically because they were pushed while the page was in
// flight, keep their pushed version.
func (a *Aggregator) LoadInitial(ctx context.Context, page, size int) error {
	records, err := a.backlog.FetchPage(ctx, page, size)
	if err != nil {
		a.log.Warn().Err(err).Int("page", page).Msg("Backlog fetch failed")
		return err
	}

	a.mu.Lock()
	added := 0
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			metrics.CallEvents.WithLabelValues("malformed").Inc()
			continue
		}
		if _, ok := a.ids[rec.ID]; ok {
			continue
		}
		a.insertLocked(rec.Clone())
		added++
	}
	evicted := a.evictLocked()
	snapshot := a.snapshotLocked()
	a.mu.Unlock()

	metrics.CallEvents.WithLabelValues("backfill").Add(float64(added))
	metrics.CallBufferSize.Set(float64(len(snapshot)))
	a.log.Info().Int("fetched", len(records)).Int("added", added).Int("evicted", evicted).Msg("Backlog loaded")

	a.updates.Notify(Update{Kind: KindBackfill, Calls: snapshot})
	return nil
}

// OnPushEvent applies one pushed call. A record without an id is logged and
// dropped.
func (a *Aggregator) OnPushEvent(record *models.CallRecord) {
	if err := record.Validate(); err != nil {
		a.log.Warn().Err(err).Msg("Dropping call event")
		metrics.CallEvents.WithLabelValues("malformed").Inc()
		return
	}
	rec := record.Clone()

	a.mu.Lock()
	var kind Kind
	if _, known := a.ids[rec.ID]; known {
		kind = KindAmendment
		a.replaceLocked(rec)
	} else {
		kind = KindBackfill
		if a.cfg.Now().Sub(rec.Timestamp) <= a.cfg.RecencyWindow {
			kind = KindArrival
		}
		a.insertLocked(rec)
	}
	a.evictLocked()
	_, kept := a.ids[rec.ID]
	snapshot := a.snapshotLocked()
	a.mu.Unlock()

	metrics.CallEvents.WithLabelValues(kind.String()).Inc()
	metrics.CallBufferSize.Set(float64(len(snapshot)))
	a.log.Debug().Str("call_id", rec.ID).Int64("talkgroup_id", rec.TalkgroupID).Str("kind", kind.String()).Msg("Call event")

	if !kept {
		// older than everything in a full list
		return
	}
	if kind == KindArrival {
		a.arrivals.Notify(rec)
	}
	a.updates.Notify(Update{Kind: kind, Call: rec, Calls: snapshot})
}

// insertLocked places rec by recency, ahead of calls with the same timestamp.
func (a *Aggregator) insertLocked(rec *models.CallRecord) {
	i := sort.Search(len(a.calls), func(i int) bool {
		return !a.calls[i].Timestamp.After(rec.Timestamp)
	})
	a.calls = append(a.calls, nil)
	copy(a.calls[i+1:], a.calls[i:])
	a.calls[i] = rec
	a.ids[rec.ID] = struct{}{}
}

// replaceLocked swaps in the new version of a known call. The slot is kept
// unless the timestamp moved, in which case the call is re-placed.
func (a *Aggregator) replaceLocked(rec *models.CallRecord) {
	for i, c := range a.calls {
		if c.ID != rec.ID {
			continue
		}
		if c.Timestamp.Equal(rec.Timestamp) {
			a.calls[i] = rec
			return
		}
		a.calls = append(a.calls[:i], a.calls[i+1:]...)
		a.insertLocked(rec)
		return
	}
}

func (a *Aggregator) evictLocked() int {
	evicted := 0
	for len(a.calls) > a.cfg.Capacity {
		last := a.calls[len(a.calls)-1]
		a.calls[len(a.calls)-1] = nil
		a.calls = a.calls[:len(a.calls)-1]
		delete(a.ids, last.ID)
		evicted++
	}
	return evicted
}

func (a *Aggregator) snapshotLocked() []*models.CallRecord {
	return append([]*models.CallRecord(nil), a.calls...)
}

// Calls returns the list, newest first.
func (a *Aggregator) Calls() []*models.CallRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshotLocked()
}

// Get returns the call with id, if it is in the list.
func (a *Aggregator) Get(id string) (*models.CallRecord, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if _, ok := a.ids[id]; !ok {
		return nil, false
	}
	for _, c := range a.calls {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}

// Len returns the number of calls held.
func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.calls)
}

// WatchArrivals registers fn for new arrivals only.
func (a *Aggregator) WatchArrivals(fn func(*models.CallRecord)) func() {
	return a.arrivals.Subscribe(fn)
}

// WatchUpdates registers fn for every change to the list.
func (a *Aggregator) WatchUpdates(fn func(Update)) func() {
	return a.updates.Subscribe(fn)
}
