package prefs

import "sync"

// MemoryStore is an in-process Store. Listeners run synchronously on the
// goroutine that calls Set or Update, in registration order.
type MemoryStore struct {
	mu        sync.RWMutex
	snap      Snapshot
	listeners []Listener
}

// NewMemoryStore returns a store seeded with initial.
func NewMemoryStore(initial Snapshot) *MemoryStore {
	return &MemoryStore{snap: initial}
}

func (m *MemoryStore) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

func (m *MemoryStore) Subscribe(fn Listener) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Set replaces the snapshot and notifies listeners.
func (m *MemoryStore) Set(s Snapshot) {
	m.mu.Lock()
	m.snap = s
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(s)
	}
}

// Update applies fn to a copy of the current snapshot and stores the result.
func (m *MemoryStore) Update(fn func(*Snapshot)) Snapshot {
	m.mu.RLock()
	next := m.snap
	m.mu.RUnlock()
	fn(&next)
	m.Set(next)
	return next
}
