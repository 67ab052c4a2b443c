// Package store persists throttle records. All backends share the sliding-window
// semantics of models.Record.
package store

import (
	"context"
	"sync"
	"time"

	"checkpoint/internal/throttle/models"
)

// InMemoryStore keeps throttle records in a map guarded by a mutex.
type InMemoryStore struct {
	mu      sync.Mutex
	records map[string]*models.Record
}

func NewMemory() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]*models.Record)}
}

// Get returns a copy of the record, or nil when the key has no failures.
func (s *InMemoryStore) Get(_ context.Context, key string) (*models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	return r.Clone(), nil
}

func (s *InMemoryStore) RecordFailure(_ context.Context, key string, policy models.Policy, now time.Time) (*models.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[key]
	if !ok {
		created, err := models.NewRecord(key)
		if err != nil {
			return nil, false, err
		}
		r = created
		s.records[key] = r
	}
	triggered := r.RegisterFailure(now, policy)
	return r.Clone(), triggered, nil
}

func (s *InMemoryStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}
