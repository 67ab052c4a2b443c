package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"checkpoint/internal/checkin/metrics"
	"checkpoint/internal/checkin/models"
	"checkpoint/internal/checkin/store"
	"checkpoint/internal/directory"
	"checkpoint/internal/idempotency"
	idemstore "checkpoint/internal/idempotency/store"
	"checkpoint/internal/notify"
	"checkpoint/internal/notify/mocks"
	throttlemodels "checkpoint/internal/throttle/models"
	throttleservice "checkpoint/internal/throttle/service"
	throttlestore "checkpoint/internal/throttle/store"
	id "checkpoint/pkg/domain"
	dErrors "checkpoint/pkg/domain-errors"
	"checkpoint/pkg/platform/audit"
	auditmemory "checkpoint/pkg/platform/audit/store/memory"
	"checkpoint/pkg/requestcontext"
)

type auditRecorder struct{ store *auditmemory.InMemoryStore }

func (p auditRecorder) Emit(ctx context.Context, e audit.Event) error {
	return p.store.Append(ctx, e)
}

type CheckinServiceSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	notifier  *mocks.MockDispatcher
	store     *store.InMemoryStore
	directory *directory.InMemoryDirectory
	tokens    *idemstore.InMemoryStore
	audit     *auditmemory.InMemoryStore
	service   *Service
	event     *models.Event
	now       time.Time
	ctx       context.Context
}

func TestCheckinServiceSuite(t *testing.T) {
	suite.Run(t, new(CheckinServiceSuite))
}

func (s *CheckinServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.notifier = mocks.NewMockDispatcher(s.ctrl)
	s.store = store.NewMemory()
	s.directory = directory.NewMemory()
	s.tokens = idemstore.NewMemory()
	s.audit = auditmemory.NewInMemoryStore()
	s.now = time.Date(2026, 8, 20, 7, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)

	s.event = &models.Event{ID: id.EventID(uuid.New()), Slug: "harvest", Name: "Harvest Run", Capacity: 5}
	s.Require().NoError(s.store.SaveEvent(s.ctx, s.event))

	guard, err := idempotency.New(s.tokens, idempotency.WithSweepPercent(0))
	s.Require().NoError(err)
	svc, err := New(s.store, s.directory, guard,
		WithNotifier(s.notifier),
		WithAuditPublisher(auditRecorder{s.audit}),
		WithMetrics(metrics.NewWithRegisterer(prometheus.NewRegistry())),
	)
	s.Require().NoError(err)
	s.service = svc
}

// expectNotify registers one expected notification and returns a channel
// closed once the asynchronous send happened.
func (s *CheckinServiceSuite) expectNotify(kind notify.Kind, user *models.User) <-chan struct{} {
	done := make(chan struct{})
	s.notifier.EXPECT().
		Send(gomock.Any(), kind, gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ notify.Kind, u *models.User, e *models.Event) error {
			s.Equal(user.ID, u.ID)
			s.Equal(s.event.ID, e.ID)
			close(done)
			return nil
		})
	return done
}

func (s *CheckinServiceSuite) wait(done <-chan struct{}) {
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		s.Fail("notification was not sent")
	}
}

func (s *CheckinServiceSuite) token() string {
	return "tok-" + uuid.NewString()
}

func (s *CheckinServiceSuite) newUser(code string) *models.User {
	u := &models.User{ID: id.UserID(uuid.New()), Code: code, DisplayName: "Volunteer " + code}
	s.Require().NoError(s.directory.Save(s.ctx, u))
	return u
}

func (s *CheckinServiceSuite) register(u *models.User, status models.Status, ref *id.ReferenceNumber) *models.Registration {
	reg := &models.Registration{
		ID:              id.NewRegistrationID(),
		EventID:         s.event.ID,
		UserID:          u.ID,
		ReferenceNumber: ref,
		Status:          status,
		Version:         1,
		CreatedAt:       s.now.Add(-time.Hour),
		UpdatedAt:       s.now.Add(-time.Hour),
	}
	if status == models.StatusCheckedIn || status == models.StatusCheckedOut {
		t := s.now.Add(-time.Hour)
		reg.CheckinTime = &t
	}
	if status == models.StatusCheckedOut {
		t := s.now.Add(-30 * time.Minute)
		reg.CheckoutTime = &t
	}
	s.Require().NoError(s.store.Save(s.ctx, reg))
	return reg
}

func (s *CheckinServiceSuite) execute(action models.Action, u *models.User, mods ...func(*Command)) (*Result, error) {
	cmd := Command{Action: action, UserID: u.ID, IdempotencyToken: s.token()}
	for _, m := range mods {
		m(&cmd)
	}
	return s.service.Execute(s.ctx, s.event.ID, cmd)
}

func strPtr(v string) *string { return &v }
func boolPtr(v bool) *bool    { return &v }

func (s *CheckinServiceSuite) TestResolveScenarios() {
	ref := id.ReferenceNumber("123456789012")
	a := s.newUser("DP001")
	s.register(a, models.StatusRegistered, &ref)
	b := s.newUser("DP002")
	s.register(b, models.StatusAbsent, nil)
	c := s.newUser("DP003")
	e := s.newUser("DP005")
	s.register(e, models.StatusCheckedIn, nil)
	f := s.newUser("DP006")
	s.register(f, models.StatusCheckedOut, nil)

	cases := []struct {
		input    string
		scenario models.Scenario
		user     *models.User
	}{
		{"123456789012", models.ScenarioConfirmCheckin, a},
		{"  dp001 ", models.ScenarioConfirmCheckin, a},
		{"DP002", models.ScenarioMissingRef, b},
		{"dp003", models.ScenarioNotRegistered, c},
		{"DP404", models.ScenarioNotFound, nil},
		{"999999999999", models.ScenarioNotFound, nil},
		{"DP005", models.ScenarioCheckout, e},
		{"DP006", models.ScenarioAlreadyOut, f},
	}
	for _, tc := range cases {
		s.Run(tc.input, func() {
			res, err := s.service.Resolve(s.ctx, s.event.ID, tc.input)
			s.Require().NoError(err)
			s.Equal(tc.scenario, res.Scenario)
			if tc.user == nil {
				s.Nil(res.User)
				s.Empty(res.AllowedActions)
			} else {
				s.Require().NotNil(res.User)
				s.Equal(tc.user.ID, res.User.ID)
			}
		})
	}

	s.Run("empty input is a validation error", func() {
		_, err := s.service.Resolve(s.ctx, s.event.ID, "   ")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("unknown event", func() {
		_, err := s.service.Resolve(s.ctx, id.EventID(uuid.New()), "DP001")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *CheckinServiceSuite) TestResolveIsReadOnly() {
	u := s.newUser("DP010")
	reg := s.register(u, models.StatusRegistered, nil)

	for range 3 {
		_, err := s.service.Resolve(s.ctx, s.event.ID, "DP010")
		s.Require().NoError(err)
	}
	after, err := s.store.FindByEventAndUser(s.ctx, s.event.ID, u.ID)
	s.Require().NoError(err)
	s.Equal(reg.Version, after.Version)
	s.Equal(models.StatusRegistered, after.Status)
}

func (s *CheckinServiceSuite) TestLookupMissesAreThrottled() {
	policy := throttlemodels.Policy{Name: throttlemodels.PolicyLookupMiss, MaxFailures: 3, Window: 5 * time.Minute, Cooldown: time.Minute}
	lookup, err := throttleservice.New(throttlestore.NewMemory(), policy)
	s.Require().NoError(err)
	s.service.lookupThrottle = lookup
	s.newUser("DP020")

	ctx := requestcontext.WithSessionID(s.ctx, id.NewSessionID())
	for range 3 {
		res, err := s.service.Resolve(ctx, s.event.ID, "NOPE")
		s.Require().NoError(err)
		s.Equal(models.ScenarioNotFound, res.Scenario)
	}

	_, err = s.service.Resolve(ctx, s.event.ID, "DP020")
	var blocked *throttlemodels.BlockedError
	s.Require().ErrorAs(err, &blocked)
	s.True(dErrors.HasCode(err, dErrors.CodeTooManyRequests))

	s.Run("other sessions are unaffected", func() {
		other := requestcontext.WithSessionID(s.ctx, id.NewSessionID())
		res, err := s.service.Resolve(other, s.event.ID, "DP020")
		s.Require().NoError(err)
		s.Equal(models.ScenarioNotRegistered, res.Scenario)
	})

	s.Run("block lifts after the cool-down", func() {
		later := requestcontext.WithTime(ctx, s.now.Add(2*time.Minute))
		_, err := s.service.Resolve(later, s.event.ID, "DP020")
		s.NoError(err)
	})
}

func (s *CheckinServiceSuite) TestConfirmCheckin() {
	ref := id.ReferenceNumber("123456789012")
	u := s.newUser("DP030")
	s.register(u, models.StatusRegistered, &ref)
	done := s.expectNotify(notify.KindCheckIn, u)

	res, err := s.execute(models.ActionConfirmCheckin, u)
	s.Require().NoError(err)
	s.wait(done)

	s.Equal("ok", res.Status)
	s.False(res.NoOp)
	s.Equal(models.StatusCheckedIn, res.Registration.Status)
	s.Equal(s.now, *res.Registration.CheckinTime)
	s.Nil(res.Registration.CheckoutTime)
	s.Equal(models.Stats{Total: 1, CheckedIn: 1}, res.Stats)

	events, err := s.audit.ListByEvent(s.ctx, s.event.ID)
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(string(audit.EventCheckinConfirmed), events[0].Action)
	s.Equal("DP030", events[0].Subject)
}

func (s *CheckinServiceSuite) TestIdempotentReplay() {
	u := s.newUser("DP031")
	s.register(u, models.StatusRegistered, nil)
	done := s.expectNotify(notify.KindCheckIn, u)

	cmd := Command{Action: models.ActionConfirmNoRefCheckin, UserID: u.ID, IdempotencyToken: "replay-token-1"}
	first, err := s.service.Execute(s.ctx, s.event.ID, cmd)
	s.Require().NoError(err)
	s.wait(done)

	second, err := s.service.Execute(s.ctx, s.event.ID, cmd)
	s.Require().NoError(err)
	s.True(second.NoOp)
	s.Equal(first.Status, second.Status)
	s.Equal(first.Message, second.Message)
	s.Equal(first.Stats, second.Stats)

	reg, err := s.store.FindByEventAndUser(s.ctx, s.event.ID, u.ID)
	s.Require().NoError(err)
	s.Equal(2, reg.Version, "replay must not write")
}

func (s *CheckinServiceSuite) TestFailedActionReleasesToken() {
	u := s.newUser("DP032")
	s.register(u, models.StatusAbsent, nil)
	cmd := Command{Action: models.ActionConfirmRefCheckin, UserID: u.ID, IdempotencyToken: "retry-token-1", ReferenceNumber: strPtr("12345")}

	_, err := s.service.Execute(s.ctx, s.event.ID, cmd)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.Equal(0, s.tokens.Len())

	done := s.expectNotify(notify.KindCheckIn, u)
	cmd.ReferenceNumber = strPtr("123456789012")
	res, err := s.service.Execute(s.ctx, s.event.ID, cmd)
	s.Require().NoError(err)
	s.wait(done)
	s.False(res.NoOp)
	s.True(res.Registration.HasReference())
}

func (s *CheckinServiceSuite) TestInvalidTokenRejected() {
	u := s.newUser("DP033")
	s.register(u, models.StatusRegistered, nil)
	_, err := s.execute(models.ActionConfirmCheckin, u, func(c *Command) { c.IdempotencyToken = "short" })
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *CheckinServiceSuite) TestIllegalTransitionIsConflict() {
	u := s.newUser("DP034")
	reg := s.register(u, models.StatusRegistered, nil)

	_, err := s.execute(models.ActionConfirmCheckout, u)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	s.Equal(409, dErrors.ToHTTPStatus(dErrors.CodeOf(err)))

	after, err := s.store.FindByEventAndUser(s.ctx, s.event.ID, u.ID)
	s.Require().NoError(err)
	s.Equal(reg.Version, after.Version)
}

func (s *CheckinServiceSuite) TestCheckoutAndReentry() {
	u := s.newUser("DP035")
	s.register(u, models.StatusCheckedIn, nil)

	out := s.expectNotify(notify.KindCheckOut, u)
	res, err := s.execute(models.ActionConfirmCheckout, u)
	s.Require().NoError(err)
	s.wait(out)
	s.Equal(models.StatusCheckedOut, res.Registration.Status)
	s.Equal(models.Stats{Total: 1, CheckedOut: 1}, res.Stats)

	res2, err := s.service.Resolve(s.ctx, s.event.ID, "DP035")
	s.Require().NoError(err)
	s.Equal(models.ScenarioAlreadyOut, res2.Scenario)

	in := s.expectNotify(notify.KindCheckIn, u)
	res, err = s.execute(models.ActionConfirmCheckin, u)
	s.Require().NoError(err)
	s.wait(in)
	s.Equal(models.StatusCheckedIn, res.Registration.Status)
	s.Nil(res.Registration.CheckoutTime)
}

func (s *CheckinServiceSuite) TestRegisterCheckin() {
	s.Run("creates a checked-in registration", func() {
		u := s.newUser("DP040")
		done := s.expectNotify(notify.KindCheckIn, u)
		res, err := s.execute(models.ActionRegisterCheckin, u, func(c *Command) { c.ReferenceNumber = strPtr("100000000040") })
		s.Require().NoError(err)
		s.wait(done)
		s.Equal(models.StatusCheckedIn, res.Registration.Status)
		s.True(res.Registration.HasReference())
		s.Equal(1, res.Stats.Total)
	})

	s.Run("existing registration is AlreadyExists", func() {
		u := s.newUser("DP041")
		s.register(u, models.StatusRegistered, nil)
		_, err := s.execute(models.ActionRegisterCheckin, u)
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyExists))
	})

	s.Run("bad reference format", func() {
		u := s.newUser("DP042")
		_, err := s.execute(models.ActionRegisterCheckin, u, func(c *Command) { c.ReferenceNumber = strPtr("abc") })
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("unknown user", func() {
		_, err := s.execute(models.ActionRegisterCheckin, &models.User{ID: id.UserID(uuid.New())})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *CheckinServiceSuite) TestRegisterCheckinCapacity() {
	for i := range 5 {
		s.register(s.newUser("DPC"+string(rune('0'+i))), models.StatusRegistered, nil)
	}
	sixth := s.newUser("DPC9")

	_, err := s.execute(models.ActionRegisterCheckin, sixth)
	s.True(dErrors.HasCode(err, dErrors.CodeCapacityExceeded))

	stats, err := s.service.Stats(s.ctx, s.event.ID)
	s.Require().NoError(err)
	s.Equal(5, stats.Total)
}

func (s *CheckinServiceSuite) TestConcurrentRegisterCheckinRespectsCapacity() {
	s.notifier.EXPECT().Send(gomock.Any(), notify.KindCheckIn, gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	const consoles = 12
	users := make([]*models.User, consoles)
	for i := range users {
		users[i] = s.newUser("DPR" + uuid.NewString()[:6])
	}

	var wg sync.WaitGroup
	var created, full atomic.Int32
	for _, u := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.service.Execute(s.ctx, s.event.ID, Command{
				Action: models.ActionRegisterCheckin, UserID: u.ID, IdempotencyToken: "cap-" + u.ID.String(),
			})
			switch {
			case err == nil:
				created.Add(1)
			case dErrors.HasCode(err, dErrors.CodeCapacityExceeded):
				full.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(5), created.Load())
	s.Equal(int32(consoles-5), full.Load())
}

func (s *CheckinServiceSuite) TestConcurrentCheckoutSingleWinner() {
	u := s.newUser("DP050")
	s.register(u, models.StatusCheckedIn, nil)
	s.notifier.EXPECT().Send(gomock.Any(), notify.KindCheckOut, gomock.Any(), gomock.Any()).Return(nil).Times(1)

	var wg sync.WaitGroup
	var wins, conflicts atomic.Int32
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.service.Execute(s.ctx, s.event.ID, Command{
				Action: models.ActionConfirmCheckout, UserID: u.ID, IdempotencyToken: "console-" + string(rune('a'+i)) + "-token",
			})
			switch {
			case err == nil:
				wins.Add(1)
			case dErrors.HasCode(err, dErrors.CodeInvalidTransition):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), wins.Load())
	s.Equal(int32(7), conflicts.Load())
	s.Eventually(s.ctrl.Satisfied, 2*time.Second, 10*time.Millisecond)
}

func (s *CheckinServiceSuite) TestReferenceUpdate() {
	u := s.newUser("DP060")
	s.register(u, models.StatusCheckedOut, nil)

	res, err := s.execute(models.ActionRefUpdate, u, func(c *Command) { c.ReferenceNumber = strPtr("555555555555") })
	s.Require().NoError(err)
	s.Equal(id.ReferenceNumber("555555555555"), *res.Registration.ReferenceNumber)
	s.Equal(models.StatusCheckedOut, res.Registration.Status)

	res, err = s.execute(models.ActionRefUpdate, u)
	s.Require().NoError(err)
	s.False(res.Registration.HasReference())

	_, err = s.execute(models.ActionRefUpdate, u, func(c *Command) { c.ReferenceNumber = strPtr("55555555555x") })
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *CheckinServiceSuite) TestVestLifecycle() {
	u := s.newUser("DP070")
	s.register(u, models.StatusCheckedIn, nil)

	res, err := s.execute(models.ActionVestUpdate, u, func(c *Command) { c.VestNumber = strPtr(" v014 ") })
	s.Require().NoError(err)
	s.Equal("V014", *res.Registration.VestNumber)

	done := s.expectNotify(notify.KindCheckOut, u)
	res, err = s.execute(models.ActionVestCheckout, u, func(c *Command) { c.VestReturned = boolPtr(false) })
	s.Require().NoError(err)
	s.wait(done)
	s.Equal(models.StatusCheckedOut, res.Registration.Status)
	s.Require().NotNil(res.Registration.VestReturned)
	s.False(*res.Registration.VestReturned)
	s.NotNil(res.Registration.CheckoutTime)

	resolved, err := s.service.Resolve(s.ctx, s.event.ID, "DP070")
	s.Require().NoError(err)
	s.Equal(models.ScenarioAlreadyOut, resolved.Scenario)
	s.False(resolved.Allows(models.ActionVestCheckout))

	_, err = s.execute(models.ActionVestCheckout, u, func(c *Command) { c.VestReturned = boolPtr(true) })
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition), "no correction path")
}

func (s *CheckinServiceSuite) TestVestReturnAfterPlainCheckout() {
	u := s.newUser("DP071")
	s.register(u, models.StatusCheckedOut, nil)

	res, err := s.execute(models.ActionVestCheckout, u, func(c *Command) { c.VestReturned = boolPtr(true) })
	s.Require().NoError(err)
	s.True(*res.Registration.VestReturned)
	s.Equal(s.now.Add(-30*time.Minute), *res.Registration.CheckoutTime)
}

func (s *CheckinServiceSuite) TestVestRules() {
	u := s.newUser("DP072")
	s.register(u, models.StatusRegistered, nil)

	_, err := s.execute(models.ActionVestUpdate, u, func(c *Command) { c.VestNumber = strPtr("V1") })
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))

	_, err = s.execute(models.ActionVestCheckout, u)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation), "vest_returned is required")
}

func (s *CheckinServiceSuite) TestRecentAttendees() {
	first := s.newUser("DP080")
	second := s.newUser("DP081")
	s.register(first, models.StatusCheckedIn, nil)
	s.register(s.newUser("DP082"), models.StatusRegistered, nil)
	s.notifier.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	later := requestcontext.WithTime(s.ctx, s.now.Add(time.Minute))
	_, err := s.service.Execute(later, s.event.ID, Command{Action: models.ActionRegisterCheckin, UserID: second.ID, IdempotencyToken: "recent-token-1"})
	s.Require().NoError(err)

	tokensBefore := s.tokens.Len()
	res, err := s.service.Execute(s.ctx, s.event.ID, Command{Action: models.ActionGetRecentAttendees})
	s.Require().NoError(err)
	s.Equal(tokensBefore, s.tokens.Len())

	s.Require().Len(res.Attendees, 2)
	s.Equal("DP081", res.Attendees[0].Code)
	s.Equal("DP080", res.Attendees[1].Code)
	s.Equal(3, res.Stats.Total)
}

func (s *CheckinServiceSuite) TestNotificationFailureDoesNotFailAction() {
	u := s.newUser("DP090")
	s.register(u, models.StatusRegistered, nil)
	done := make(chan struct{})
	s.notifier.EXPECT().Send(gomock.Any(), notify.KindCheckIn, gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, notify.Kind, *models.User, *models.Event) error {
			close(done)
			return errors.New("smtp down")
		})

	res, err := s.execute(models.ActionConfirmCheckin, u)
	s.Require().NoError(err)
	s.wait(done)
	s.Equal("ok", res.Status)
}

func (s *CheckinServiceSuite) TestMissingRegistration() {
	u := s.newUser("DP099")
	_, err := s.execute(models.ActionConfirmCheckin, u)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}
