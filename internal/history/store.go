// Package history keeps the most recent parking checks in memory.
package history

import (
	"sync"
	"time"
)

// DefaultLimit is how many entries a Store keeps when no limit is given.
const DefaultLimit = 50

// Store is a bounded, newest-first history. Once full, recording evicts the
// oldest entry. Entries older than ttl are dropped on read when ttl > 0.
type Store struct {
	mu    sync.RWMutex
	limit int
	ttl   time.Duration
	data  []Entry
}

func NewStore(limit int, ttl time.Duration) *Store {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Store{limit: limit, ttl: ttl}
}

// Record validates e and prepends it.
func (s *Store) Record(e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append([]Entry{e}, s.data...)
	if len(s.data) > s.limit {
		s.data = s.data[:s.limit]
	}
	return nil
}

// Snapshot returns the live entries, newest first.
func (s *Store) Snapshot(now time.Time) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ttl > 0 {
		kept := s.data[:0]
		for _, e := range s.data {
			if now.Sub(e.TS) <= s.ttl {
				kept = append(kept, e)
			}
		}
		s.data = kept
	}
	return append([]Entry(nil), s.data...)
}

// Get returns the entry with the given id.
func (s *Store) Get(id string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.data {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func (s *Store) Clear() {
	s.mu.Lock()
	s.data = nil
	s.mu.Unlock()
}
