// Package statestore implements the appliance's in-process TTL key/value
// store. A single mutex serialises all access; a background goroutine
// sweeps expired entries every cleanupInterval. TTL is tracked against a
// monotonic clock (time.Time retains its monotonic reading until it is
// serialised), never wall-clock, so NTP adjustments cannot extend or shorten
// a TTL mid-flight.
package statestore

import (
	"context"
	"sync"
	"time"
)

const cleanupInterval = 5 * time.Second

// entry is a single stored key. expiresAt is the zero Time when the entry
// has no TTL. value is a pointer so that a stored JSON null (Go nil) is
// distinguishable from "no value was ever set" by callers that check
// Exists separately.
type entry struct {
	value     *string
	expiresAt time.Time
}

// Store is a single-threaded (behind one mutex) map of string keys to
// optional string values with optional per-key TTL.
type Store struct {
	mu   sync.Mutex
	data map[string]entry
}

// New returns an empty Store.
func New() *Store {
	return &Store{data: make(map[string]entry)}
}

// Run starts the background expiry sweep and blocks until ctx is canceled.
// Call it from its own goroutine.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Store) sweep() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.data {
		if expired(e, now) {
			delete(s.data, k)
		}
	}
}

func expired(e entry, now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Get returns the value stored under key, or nil if it is absent or has
// expired. A stored null is also returned as nil — callers that need to
// distinguish "stored null" from "absent" should use Exists.
func (s *Store) Get(key string) *string {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[key]
	if !ok || expired(e, time.Now()) {
		delete(s.data, key)
		return nil
	}
	return e.value
}

// Set stores value under key. ttl of zero or negative, like a missing TTL,
// means "no expiry" and clears any prior expiry on the key.
func (s *Store) Set(key string, value *string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	s.data[key] = e
}

// Delete removes key and reports whether it was present (and unexpired).
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[key]
	existed := ok && !expired(e, time.Now())
	delete(s.data, key)
	return existed
}

// Exists reports whether key is present and unexpired, regardless of
// whether its value is a stored null.
func (s *Store) Exists(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[key]
	if !ok || expired(e, time.Now()) {
		delete(s.data, key)
		return false
	}
	return true
}
