// Callstream - Radio Scanner Live Feed Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callstream

package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/callstream/internal/config"
)

// ErrStore wraps every persistence failure.
var ErrStore = errors.New("subscription store")

// liveTalkgroupsKey is the single durable key holding the subscribed ids.
const liveTalkgroupsKey = "subscriptions:live-talkgroups"

// Store persists the subscribed talkgroup ids as one array.
type Store interface {
	Load(ctx context.Context) ([]int64, error)
	Save(ctx context.Context, ids []int64) error
	Close() error
}

// OpenStore creates the Store selected by kind. A badger store opens its
// database at path.
func OpenStore(kind, path string) (Store, error) {
	switch kind {
	case config.StoreMemory:
		return NewMemoryStore(), nil
	case config.StoreBadger, "":
		opts := badger.DefaultOptions(path)
		opts.Logger = nil
		db, err := badger.Open(opts)
		if err != nil {
			return nil, fmt.Errorf("%w: open badger db: %w", ErrStore, err)
		}
		return &BadgerStore{db: db, owned: true}, nil
	default:
		return nil, fmt.Errorf("%w: unknown store type %q", ErrStore, kind)
	}
}

// MemoryStore keeps the array in memory. State does not survive a restart.
type MemoryStore struct {
	mu  sync.Mutex
	ids []int64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns a copy of the saved ids.
func (s *MemoryStore) Load(_ context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.ids...), nil
}

// Save replaces the saved ids.
func (s *MemoryStore) Save(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append([]int64(nil), ids...)
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// BadgerStore keeps the array under one BadgerDB key.
type BadgerStore struct {
	db    *badger.DB
	owned bool
}

// NewBadgerStore uses an already open database. Close leaves db open.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// Load returns the saved ids, or none if nothing has been saved yet.
func (s *BadgerStore) Load(_ context.Context) ([]int64, error) {
	var ids []int64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(liveTalkgroupsKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get live talkgroups: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &ids)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: load: %w", ErrStore, err)
	}
	return ids, nil
}

// Save writes ids, replacing the previous array.
func (s *BadgerStore) Save(_ context.Context, ids []int64) error {
	if ids == nil {
		ids = []int64{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("%w: marshal: %w", ErrStore, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(liveTalkgroupsKey), data)
	})
	if err != nil {
		return fmt.Errorf("%w: save: %w", ErrStore, err)
	}
	return nil
}

// Close closes the database if OpenStore opened it.
func (s *BadgerStore) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}
