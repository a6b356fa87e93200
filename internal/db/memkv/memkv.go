// Package memkv implements db.KVStore in process memory. It is the default
// cache driver for single-node deployments and for tests.
package memkv

import (
	"context"
	"sync"
	"time"

	"github.com/lensquery/lensquery/internal/db"
)

// Compile-time check: Store implements db.KVStore.
var _ db.KVStore = (*Store)(nil)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Store is a mutex-guarded map with per-key expiry, evicted lazily on Get
// and in bulk when the entry count crosses maxEntries.
type Store struct {
	mu         sync.Mutex
	entries    map[string]entry
	maxEntries int
	now        func() time.Time
}

// NewStore creates an in-memory KV store. maxEntries <= 0 means unbounded.
func NewStore(maxEntries int) *Store {
	return &Store{
		entries:    make(map[string]entry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get retrieves a value by key, treating expired entries as missing.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	if !e.expiresAt.IsZero() && s.now().After(e.expiresAt) {
		delete(s.entries, key)
		return nil, db.ErrKeyNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// SetWithTTL stores a value with an expiration. ttl <= 0 means no expiry.
func (s *Store) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxEntries > 0 && len(s.entries) >= s.maxEntries {
		s.evictLocked()
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	e := entry{value: stored}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = e
	return nil
}

// Del removes a key. Deleting a missing key is not an error.
func (s *Store) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close drops all entries.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]entry)
}

// evictLocked first drops expired entries, then, if still at capacity,
// drops the entry closest to expiry.
func (s *Store) evictLocked() {
	now := s.now()
	for k, e := range s.entries {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			delete(s.entries, k)
		}
	}
	if s.maxEntries <= 0 || len(s.entries) < s.maxEntries {
		return
	}
	var victim string
	var soonest time.Time
	for k, e := range s.entries {
		if victim == "" || (!e.expiresAt.IsZero() && (soonest.IsZero() || e.expiresAt.Before(soonest))) {
			victim = k
			soonest = e.expiresAt
		}
	}
	if victim != "" {
		delete(s.entries, victim)
	}
}
