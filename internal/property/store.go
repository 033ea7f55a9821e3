// Package property holds the host's last-known value of every synchronized
// player property.
package property

import (
	"sync"
)

// Store maps property names to their most recent value. Entries are created
// on first change and never removed.
type Store struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewStore() *Store {
	return &Store{
		values: make(map[string]string),
	}
}

// Upsert records value for name and returns the value it replaced, if any.
func (s *Store) Upsert(name, value string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.values[name]
	s.values[name] = value
	return prev, ok
}

func (s *Store) Get(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[name]
	return v, ok
}

// Snapshot returns a point-in-time copy of every entry.
func (s *Store) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[string]string, len(s.values))
	for k, v := range s.values {
		result[k] = v
	}
	return result
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}
