package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	id "checkpoint/pkg/domain"
	dErrors "checkpoint/pkg/domain-errors"
)

type RegistrationSuite struct {
	suite.Suite
	now time.Time
}

func TestRegistrationSuite(t *testing.T) {
	suite.Run(t, new(RegistrationSuite))
}

func (s *RegistrationSuite) SetupTest() {
	s.now = time.Date(2026, 8, 20, 7, 30, 0, 0, time.UTC)
}

func (s *RegistrationSuite) registration(status Status) *Registration {
	return &Registration{
		ID:        id.RegistrationID(uuid.New()),
		EventID:   id.EventID(uuid.New()),
		UserID:    id.UserID(uuid.New()),
		Status:    status,
		Version:   1,
		CreatedAt: s.now.Add(-time.Hour),
		UpdatedAt: s.now.Add(-time.Hour),
	}
}

func (s *RegistrationSuite) TestTransitionTable() {
	legal := map[Status][]Status{
		StatusRegistered: {StatusCheckedIn},
		StatusAbsent:     {StatusCheckedIn},
		StatusCancelled:  {StatusCheckedIn},
		StatusCheckedOut: {StatusCheckedIn},
		StatusCheckedIn:  {StatusCheckedOut},
	}
	all := []Status{StatusRegistered, StatusCheckedIn, StatusCheckedOut, StatusAbsent, StatusCancelled}
	for _, from := range all {
		for _, to := range all {
			want := false
			for _, l := range legal[from] {
				if l == to {
					want = true
				}
			}
			s.Equal(want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func (s *RegistrationSuite) TestCheckIn() {
	s.Run("sets checkin time and bumps version", func() {
		r := s.registration(StatusRegistered)
		s.Require().NoError(r.CanCheckIn())
		r.ApplyCheckIn(s.now)

		s.Equal(StatusCheckedIn, r.Status)
		s.Require().NotNil(r.CheckinTime)
		s.Equal(s.now, *r.CheckinTime)
		s.Nil(r.CheckoutTime)
		s.Equal(2, r.Version)
		s.Equal(s.now, r.UpdatedAt)
	})

	s.Run("re-entry clears checkout and vest return", func() {
		r := s.registration(StatusCheckedOut)
		out := s.now.Add(-10 * time.Minute)
		returned := true
		r.CheckoutTime = &out
		r.VestReturned = &returned

		s.Require().NoError(r.CanCheckIn())
		r.ApplyCheckIn(s.now)
		s.Nil(r.CheckoutTime)
		s.Nil(r.VestReturned)
	})

	s.Run("with reference is a single change", func() {
		r := s.registration(StatusAbsent)
		ref := id.ReferenceNumber("123456789012")
		r.ApplyCheckInWithReference(&ref, s.now)
		s.Equal(StatusCheckedIn, r.Status)
		s.True(r.HasReference())
		s.Equal(2, r.Version)

		r2 := s.registration(StatusRegistered)
		r2.ReferenceNumber = &ref
		r2.ApplyCheckInWithReference(nil, s.now)
		s.False(r2.HasReference())
	})

	s.Run("already checked in is rejected", func() {
		r := s.registration(StatusCheckedIn)
		s.True(dErrors.HasCode(r.CanCheckIn(), dErrors.CodeInvariantViolation))
	})
}

func (s *RegistrationSuite) TestCheckOut() {
	r := s.registration(StatusCheckedIn)
	s.Require().NoError(r.CanCheckOut())
	r.ApplyCheckOut(s.now)
	s.Equal(StatusCheckedOut, r.Status)
	s.Equal(s.now, *r.CheckoutTime)

	s.Error(r.CanCheckOut(), "cannot check out twice")
	s.Error(s.registration(StatusRegistered).CanCheckOut())
}

func (s *RegistrationSuite) TestVestAssign() {
	for _, st := range []Status{StatusRegistered, StatusAbsent, StatusCancelled} {
		s.Error(s.registration(st).CanAssignVest(), st)
	}
	for _, st := range []Status{StatusCheckedIn, StatusCheckedOut} {
		s.NoError(s.registration(st).CanAssignVest(), st)
	}
}

func (s *RegistrationSuite) TestVestReturn() {
	s.Run("on checked in performs checkout in the same write", func() {
		r := s.registration(StatusCheckedIn)
		s.Require().NoError(r.CanConfirmVestReturn())
		checkedOut := r.ApplyVestReturn(true, s.now)

		s.True(checkedOut)
		s.Equal(StatusCheckedOut, r.Status)
		s.Equal(s.now, *r.CheckoutTime)
		s.Require().NotNil(r.VestReturned)
		s.True(*r.VestReturned)
		s.Equal(2, r.Version)
	})

	s.Run("on checked out without record records only", func() {
		r := s.registration(StatusCheckedOut)
		out := s.now.Add(-time.Minute)
		r.CheckoutTime = &out

		s.Require().NoError(r.CanConfirmVestReturn())
		s.False(r.ApplyVestReturn(false, s.now))
		s.Equal(out, *r.CheckoutTime)
		s.False(*r.VestReturned)
	})

	s.Run("already recorded has no correction path", func() {
		r := s.registration(StatusCheckedOut)
		returned := false
		r.VestReturned = &returned
		s.True(dErrors.HasCode(r.CanConfirmVestReturn(), dErrors.CodeInvariantViolation))
	})

	s.Run("before check-in is rejected", func() {
		s.Error(s.registration(StatusRegistered).CanConfirmVestReturn())
	})
}

func (s *RegistrationSuite) TestClone() {
	r := s.registration(StatusCheckedIn)
	vest := "V-1"
	r.VestNumber = &vest
	c := r.Clone()
	*c.VestNumber = "changed"
	s.Equal("V-1", *r.VestNumber)
}

func TestParseVestNumber(t *testing.T) {
	str := func(s string) *string { return &s }

	got, err := ParseVestNumber(str("  v-12 "))
	require.NoError(t, err)
	assert.Equal(t, "V-12", *got)

	got, err = ParseVestNumber(str("   "))
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = ParseVestNumber(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = ParseVestNumber(str("12345678901234567"))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestNewWalkInRegistration(t *testing.T) {
	now := time.Date(2026, 8, 20, 7, 30, 0, 0, time.UTC)
	r, err := NewWalkInRegistration(id.RegistrationID(uuid.New()), id.EventID(uuid.New()), id.UserID(uuid.New()), nil, now)
	require.NoError(t, err)
	assert.Equal(t, StatusCheckedIn, r.Status)
	assert.Equal(t, now, *r.CheckinTime)
	assert.False(t, r.HasReference())

	_, err = NewWalkInRegistration(id.RegistrationID(uuid.New()), id.EventID{}, id.UserID(uuid.New()), nil, now)
	assert.Error(t, err)
}

func TestEventCapacity(t *testing.T) {
	unlimited := &Event{Capacity: 0}
	assert.True(t, unlimited.HasRoomFor(10_000))

	capped := &Event{Capacity: 2}
	assert.True(t, capped.HasRoomFor(1))
	assert.False(t, capped.HasRoomFor(2))
}

func TestRegistrationJSONCarriesHasReference(t *testing.T) {
	ref := id.ReferenceNumber("123456789012")
	reg := Registration{ID: id.RegistrationID(uuid.New()), Status: StatusCheckedIn, ReferenceNumber: &ref}

	out, err := json.Marshal(reg)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(out, &body))
	assert.Equal(t, true, body["has_reference"])
	assert.Equal(t, "123456789012", body["reference_number"])
	assert.Equal(t, "checked_in", body["status"])

	reg.ReferenceNumber = nil
	out, err = json.Marshal(&reg)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"has_reference":false`)
	assert.Contains(t, string(out), `"reference_number":null`)
}
