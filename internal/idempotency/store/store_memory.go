// Package store holds idempotency token backends.
package store

import (
	"context"
	"sync"
	"time"

	"checkpoint/internal/idempotency/models"
)

// InMemoryStore expires tokens lazily on read and on Sweep.
type InMemoryStore struct {
	mu      sync.Mutex
	records map[string]models.Record
}

func NewMemory() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]models.Record)}
}

func (s *InMemoryStore) Reserve(_ context.Context, token, fingerprint string, now time.Time, lease time.Duration) (*models.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[token]; ok && !existing.IsExpiredAt(now) {
		return &existing, false, nil
	}
	record := models.Record{
		Token:       token,
		Fingerprint: fingerprint,
		State:       models.StatePending,
		ExpiresAt:   now.Add(lease),
	}
	s.records[token] = record
	return &record, true, nil
}

func (s *InMemoryStore) Complete(_ context.Context, token, fingerprint string, now time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[token] = models.Record{
		Token:       token,
		Fingerprint: fingerprint,
		State:       models.StateCompleted,
		ExpiresAt:   now.Add(ttl),
	}
	return nil
}

func (s *InMemoryStore) Release(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, token)
	return nil
}

func (s *InMemoryStore) Sweep(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for token, record := range s.records {
		if record.IsExpiredAt(now) {
			delete(s.records, token)
			removed++
		}
	}
	return removed, nil
}

func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
