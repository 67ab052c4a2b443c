package service

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"checkpoint/internal/checkin/metrics"
	"checkpoint/internal/checkin/models"
	"checkpoint/internal/checkin/store"
	"checkpoint/internal/idempotency"
	"checkpoint/internal/notify"
	id "checkpoint/pkg/domain"
	dErrors "checkpoint/pkg/domain-errors"
)

// blockingStore holds the first walk-in creation until release is closed.
type blockingStore struct {
	*store.InMemoryStore
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newBlockingStore(inner *store.InMemoryStore) *blockingStore {
	return &blockingStore{
		InMemoryStore: inner,
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
}

func (b *blockingStore) CreateWithCapacity(ctx context.Context, reg *models.Registration) error {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return b.InMemoryStore.CreateWithCapacity(ctx, reg)
}

func (s *CheckinServiceSuite) serviceWith(st RegistrationStore) *Service {
	guard, err := idempotency.New(s.tokens, idempotency.WithSweepPercent(0))
	s.Require().NoError(err)
	svc, err := New(st, s.directory, guard,
		WithNotifier(s.notifier),
		WithMetrics(metrics.NewWithRegisterer(prometheus.NewRegistry())),
	)
	s.Require().NoError(err)
	return svc
}

func (s *CheckinServiceSuite) TestRetryWhileFirstCallRunsIsInProgress() {
	for i := range s.event.Capacity {
		s.register(s.newUser("DPF0"+string(rune('0'+i))), models.StatusRegistered, nil)
	}
	u := s.newUser("DP070")
	blocking := newBlockingStore(s.store)
	svc := s.serviceWith(blocking)
	cmd := Command{Action: models.ActionRegisterCheckin, UserID: u.ID, IdempotencyToken: "inflight-token-1"}

	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.Execute(s.ctx, s.event.ID, cmd)
		firstErr <- err
	}()
	<-blocking.entered

	res, err := svc.Execute(s.ctx, s.event.ID, cmd)
	s.Nil(res)
	s.True(dErrors.HasCode(err, dErrors.CodeInProgress))
	s.Equal(409, dErrors.ToHTTPStatus(dErrors.CodeOf(err)))

	close(blocking.release)
	s.True(dErrors.HasCode(<-firstErr, dErrors.CodeCapacityExceeded))

	res, err = svc.Execute(s.ctx, s.event.ID, cmd)
	s.Nil(res, "a failed first call must not turn the retry into a no-op")
	s.True(dErrors.HasCode(err, dErrors.CodeCapacityExceeded))
}

func (s *CheckinServiceSuite) TestRetryAfterFirstCallCompletesIsNoOp() {
	u := s.newUser("DP071")
	blocking := newBlockingStore(s.store)
	svc := s.serviceWith(blocking)
	done := s.expectNotify(notify.KindCheckIn, u)
	cmd := Command{Action: models.ActionRegisterCheckin, UserID: u.ID, IdempotencyToken: "inflight-token-2"}

	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.Execute(s.ctx, s.event.ID, cmd)
		firstErr <- err
	}()
	<-blocking.entered

	_, err := svc.Execute(s.ctx, s.event.ID, cmd)
	s.True(dErrors.HasCode(err, dErrors.CodeInProgress))

	close(blocking.release)
	s.Require().NoError(<-firstErr)
	s.wait(done)

	res, err := svc.Execute(s.ctx, s.event.ID, cmd)
	s.Require().NoError(err)
	s.True(res.NoOp)
	s.Equal(u.ID, res.Registration.UserID)
}

func (s *CheckinServiceSuite) TestTokenReusedForAnotherUserIsRejected() {
	a := s.newUser("DP072")
	b := s.newUser("DP073")
	s.register(a, models.StatusRegistered, nil)
	s.register(b, models.StatusRegistered, nil)
	done := s.expectNotify(notify.KindCheckIn, a)

	_, err := s.service.Execute(s.ctx, s.event.ID, Command{
		Action: models.ActionConfirmNoRefCheckin, UserID: a.ID, IdempotencyToken: "shared-token-1",
	})
	s.Require().NoError(err)
	s.wait(done)

	res, err := s.service.Execute(s.ctx, s.event.ID, Command{
		Action: models.ActionConfirmNoRefCheckin, UserID: b.ID, IdempotencyToken: "shared-token-1",
	})
	s.Nil(res)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	after, err := s.store.FindByEventAndUser(s.ctx, s.event.ID, b.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusRegistered, after.Status, "the second user was not checked in")
}

func (s *CheckinServiceSuite) TestFingerprintCoversPayload() {
	a := s.newUser("DP074")
	base := Command{Action: models.ActionRefUpdate, UserID: a.ID, ReferenceNumber: strPtr("123456789012")}
	other := base
	other.ReferenceNumber = strPtr("210987654321")
	cleared := base
	cleared.ReferenceNumber = nil
	empty := base
	empty.ReferenceNumber = strPtr("")

	s.Equal(base.Fingerprint(s.event.ID), base.Fingerprint(s.event.ID))
	s.NotEqual(base.Fingerprint(s.event.ID), other.Fingerprint(s.event.ID))
	s.NotEqual(base.Fingerprint(s.event.ID), cleared.Fingerprint(s.event.ID))
	s.NotEqual(cleared.Fingerprint(s.event.ID), empty.Fingerprint(s.event.ID))
}

func (s *CheckinServiceSuite) TestReferenceHeldByAnotherRegistrationIsRefused() {
	ref := id.ReferenceNumber("777777777777")
	holder := s.newUser("DP080")
	s.register(holder, models.StatusRegistered, &ref)

	cases := []struct {
		name   string
		action models.Action
		status models.Status
		seed   bool
	}{
		{"ref_update", models.ActionRefUpdate, models.StatusRegistered, true},
		{"confirm_ref_checkin", models.ActionConfirmRefCheckin, models.StatusRegistered, true},
		{"register_checkin", models.ActionRegisterCheckin, "", false},
	}
	for i, tc := range cases {
		s.Run(tc.name, func() {
			u := s.newUser("DP08" + string(rune('1'+i)))
			if tc.seed {
				s.register(u, tc.status, nil)
			}

			res, err := s.execute(tc.action, u, func(c *Command) { c.ReferenceNumber = strPtr(ref.String()) })
			s.Nil(res)
			s.True(dErrors.HasCode(err, dErrors.CodeAlreadyExists))
			s.Equal(409, dErrors.ToHTTPStatus(dErrors.CodeOf(err)))

			found, err := s.store.FindByReference(s.ctx, s.event.ID, ref)
			s.Require().NoError(err)
			s.Equal(holder.ID, found.UserID)
		})
	}
}
