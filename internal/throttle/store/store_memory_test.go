package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"checkpoint/internal/throttle/models"
)

var testPolicy = models.Policy{Name: "test", MaxFailures: 3, Window: time.Minute, Cooldown: 5 * time.Minute}

type InMemoryThrottleStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	now   time.Time
}

func TestInMemoryThrottleStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryThrottleStoreSuite))
}

func (s *InMemoryThrottleStoreSuite) SetupTest() {
	s.store = NewMemory()
	s.now = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
}

func (s *InMemoryThrottleStoreSuite) TestGet() {
	ctx := context.Background()

	s.Run("missing key returns nil without error", func() {
		record, err := s.store.Get(ctx, "unknown")
		s.NoError(err)
		s.Nil(record)
	})

	s.Run("returned record is a copy", func() {
		_, _, err := s.store.RecordFailure(ctx, "k", testPolicy, s.now)
		s.Require().NoError(err)

		record, err := s.store.Get(ctx, "k")
		s.Require().NoError(err)
		record.Failures = append(record.Failures, s.now, s.now)

		again, err := s.store.Get(ctx, "k")
		s.Require().NoError(err)
		s.Len(again.Failures, 1)
	})
}

func (s *InMemoryThrottleStoreSuite) TestRecordFailure() {
	ctx := context.Background()

	s.Run("third failure triggers block", func() {
		_, triggered, _ := s.store.RecordFailure(ctx, "k", testPolicy, s.now)
		s.False(triggered)
		_, triggered, _ = s.store.RecordFailure(ctx, "k", testPolicy, s.now)
		s.False(triggered)
		record, triggered, err := s.store.RecordFailure(ctx, "k", testPolicy, s.now)
		s.Require().NoError(err)
		s.True(triggered)
		s.Require().NotNil(record.BlockedUntil)
		s.Equal(s.now.Add(5*time.Minute), *record.BlockedUntil)
	})

	s.Run("failures older than the window stop counting", func() {
		for _, at := range []time.Duration{0, 50 * time.Second, 70 * time.Second} {
			_, triggered, err := s.store.RecordFailure(ctx, "sliding", testPolicy, s.now.Add(at))
			s.Require().NoError(err)
			s.False(triggered)
		}
		record, triggered, err := s.store.RecordFailure(ctx, "sliding", testPolicy, s.now.Add(80*time.Second))
		s.Require().NoError(err)
		s.True(triggered, "50s, 70s and 80s fall inside one minute")
		s.NotNil(record.BlockedUntil)
	})

	s.Run("empty key is rejected", func() {
		_, _, err := s.store.RecordFailure(ctx, "", testPolicy, s.now)
		s.Error(err)
	})
}

func (s *InMemoryThrottleStoreSuite) TestConcurrentFailuresTriggerOnce() {
	ctx := context.Background()
	policy := models.Policy{Name: "test", MaxFailures: 10, Window: time.Minute, Cooldown: time.Minute}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		triggered int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, t, err := s.store.RecordFailure(ctx, "busy", policy, s.now)
			s.NoError(err)
			if t {
				mu.Lock()
				triggered++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	s.Equal(1, triggered)
}

func (s *InMemoryThrottleStoreSuite) TestClear() {
	ctx := context.Background()
	_, _, err := s.store.RecordFailure(ctx, "k", testPolicy, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Clear(ctx, "k"))

	record, err := s.store.Get(ctx, "k")
	s.NoError(err)
	s.Nil(record)
}
