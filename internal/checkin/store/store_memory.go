package store

import (
	"context"
	"sort"
	"sync"

	"checkpoint/internal/checkin/models"
	id "checkpoint/pkg/domain"
	"checkpoint/pkg/platform/sentinel"
)

type registrationKey struct {
	eventID id.EventID
	userID  id.UserID
}

// InMemoryStore keeps events and registrations in maps guarded by one mutex.
// Creations are serialised under the same lock, so capacity cannot be overrun
// and a reference number is held by at most one registration per event.
type InMemoryStore struct {
	mu            sync.RWMutex
	events        map[id.EventID]*models.Event
	registrations map[registrationKey]*models.Registration
}

func NewMemory() *InMemoryStore {
	return &InMemoryStore{
		events:        make(map[id.EventID]*models.Event),
		registrations: make(map[registrationKey]*models.Registration),
	}
}

// SaveEvent inserts or replaces an event.
func (s *InMemoryStore) SaveEvent(_ context.Context, event *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := *event
	s.events[event.ID] = &e
	return nil
}

// Save inserts or replaces a registration without capacity checks. Used for seeding.
func (s *InMemoryStore) Save(_ context.Context, reg *models.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registrations[registrationKey{reg.EventID, reg.UserID}] = reg.Clone()
	return nil
}

func (s *InMemoryStore) FindEvent(_ context.Context, eventID id.EventID) (*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[eventID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	c := *e
	return &c, nil
}

func (s *InMemoryStore) FindByReference(_ context.Context, eventID id.EventID, ref id.ReferenceNumber) (*models.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for key, reg := range s.registrations {
		if key.eventID == eventID && reg.ReferenceNumber != nil && *reg.ReferenceNumber == ref {
			return reg.Clone(), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) FindByEventAndUser(_ context.Context, eventID id.EventID, userID id.UserID) (*models.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reg, ok := s.registrations[registrationKey{eventID, userID}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return reg.Clone(), nil
}

// Execute validates and mutates the registration for (eventID, userID) under the lock.
// If validate fails nothing is written and the current state is returned with the error.
func (s *InMemoryStore) Execute(_ context.Context, eventID id.EventID, userID id.UserID, validate func(*models.Registration) error, mutate func(*models.Registration)) (*models.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.registrations[registrationKey{eventID, userID}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	working := reg.Clone()
	if err := validate(working); err != nil {
		return reg.Clone(), err
	}
	mutate(working)
	if s.referenceTakenLocked(working) {
		return nil, sentinel.ErrReferenceInUse
	}
	s.registrations[registrationKey{eventID, userID}] = working
	return working.Clone(), nil
}

// CreateWithCapacity inserts a new registration if the user has none for the
// event and the event has room.
func (s *InMemoryStore) CreateWithCapacity(_ context.Context, reg *models.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.events[reg.EventID]
	if !ok {
		return sentinel.ErrNotFound
	}
	key := registrationKey{reg.EventID, reg.UserID}
	if _, exists := s.registrations[key]; exists {
		return sentinel.ErrAlreadyExists
	}
	if !event.HasRoomFor(s.countLocked(reg.EventID)) {
		return sentinel.ErrCapacityReached
	}
	if s.referenceTakenLocked(reg) {
		return sentinel.ErrReferenceInUse
	}
	s.registrations[key] = reg.Clone()
	return nil
}

// referenceTakenLocked reports whether another registration of the event holds reg's reference.
func (s *InMemoryStore) referenceTakenLocked(reg *models.Registration) bool {
	if reg.ReferenceNumber == nil {
		return false
	}
	for key, other := range s.registrations {
		if key.eventID != reg.EventID || key.userID == reg.UserID || other.ReferenceNumber == nil {
			continue
		}
		if *other.ReferenceNumber == *reg.ReferenceNumber {
			return true
		}
	}
	return false
}

func (s *InMemoryStore) countLocked(eventID id.EventID) int {
	n := 0
	for key := range s.registrations {
		if key.eventID == eventID {
			n++
		}
	}
	return n
}

func (s *InMemoryStore) Stats(_ context.Context, eventID id.EventID) (models.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stats models.Stats
	for key, reg := range s.registrations {
		if key.eventID != eventID {
			continue
		}
		stats.Total++
		switch reg.Status {
		case models.StatusCheckedIn:
			stats.CheckedIn++
		case models.StatusCheckedOut:
			stats.CheckedOut++
		}
	}
	return stats, nil
}

// Recent returns the event's checked-in or checked-out registrations, most recently updated first.
func (s *InMemoryStore) Recent(_ context.Context, eventID id.EventID, limit int) ([]*models.Registration, error) {
	s.mu.RLock()
	var regs []*models.Registration
	for key, reg := range s.registrations {
		if key.eventID == eventID && reg.CheckinTime != nil {
			regs = append(regs, reg.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(regs, func(i, j int) bool {
		if regs[i].UpdatedAt.Equal(regs[j].UpdatedAt) {
			return regs[i].ID.String() < regs[j].ID.String()
		}
		return regs[i].UpdatedAt.After(regs[j].UpdatedAt)
	})
	limit = ClampRecentLimit(limit)
	if len(regs) > limit {
		regs = regs[:limit]
	}
	return regs, nil
}
