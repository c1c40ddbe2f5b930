package memory

import (
	"sync"

	"github.com/nicktill/tinyagg/pkg/bounds"
)

// Store keeps ranges in memory. Data is lost on restart.
// Useful for testing and single-shot runs.
type Store struct {
	ranges map[string]bounds.Range
	mu     sync.RWMutex
}

// New creates an in-memory bounds store.
func New() *Store {
	return &Store{
		ranges: make(map[string]bounds.Range),
	}
}

// Get returns the stored range for the series, if any.
func (s *Store) Get(typeName, key, series string) (bounds.Range, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.ranges[recordKey(typeName, key, series)]
	return r, ok, nil
}

// Put stores the range, replacing any previous one.
func (s *Store) Put(typeName, key, series string, r bounds.Range) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ranges[recordKey(typeName, key, series)] = r
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

func recordKey(typeName, key, series string) string {
	return typeName + "\x00" + key + "\x00" + series
}
