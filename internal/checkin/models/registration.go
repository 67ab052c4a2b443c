package models

import (
	"encoding/json"
	"strings"
	"time"

	id "checkpoint/pkg/domain"
	dErrors "checkpoint/pkg/domain-errors"
)

type Status string

const (
	StatusRegistered Status = "registered"
	StatusCheckedIn  Status = "checked_in"
	StatusCheckedOut Status = "checked_out"
	StatusAbsent     Status = "absent"
	StatusCancelled  Status = "cancelled"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusRegistered, StatusCheckedIn, StatusCheckedOut, StatusAbsent, StatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo is the server-side transition table.
//
//	registered|absent|cancelled|checked_out -> checked_in
//	checked_in                              -> checked_out
func (s Status) CanTransitionTo(next Status) bool {
	switch next {
	case StatusCheckedIn:
		return s == StatusRegistered || s == StatusAbsent || s == StatusCancelled || s == StatusCheckedOut
	case StatusCheckedOut:
		return s == StatusCheckedIn
	}
	return false
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.IsValid() {
		return "", dErrors.New(dErrors.CodeInvariantViolation, "unknown registration status "+s)
	}
	return st, nil
}

const maxVestNumberLength = 16

// ParseVestNumber trims and upper-cases a vest number. Nil or blank input clears it.
func ParseVestNumber(s *string) (*string, error) {
	if s == nil {
		return nil, nil
	}
	v := strings.ToUpper(strings.TrimSpace(*s))
	if v == "" {
		return nil, nil
	}
	if len(v) > maxVestNumberLength {
		return nil, dErrors.New(dErrors.CodeValidation, "vest_number must be at most 16 characters")
	}
	return &v, nil
}

// Registration is one user's attendance record for one event.
//
// Invariants:
//   - exactly one registration per (EventID, UserID)
//   - CheckinTime is set exactly when Status becomes checked_in and
//     CheckoutTime exactly when it becomes checked_out
//   - re-entry into checked_in clears CheckoutTime and VestReturned
//   - VestReturned is only recorded once Status is checked_out
type Registration struct {
	ID              id.RegistrationID   `json:"id"`
	EventID         id.EventID          `json:"event_id"`
	UserID          id.UserID           `json:"user_id"`
	ReferenceNumber *id.ReferenceNumber `json:"reference_number"`
	Status          Status              `json:"status"`
	CheckinTime     *time.Time          `json:"checkin_time"`
	CheckoutTime    *time.Time          `json:"checkout_time"`
	VestNumber      *string             `json:"vest_number"`
	VestReturned    *bool               `json:"vest_returned"`
	Version         int                 `json:"version"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// MarshalJSON adds the derived has_reference flag consoles use to pick a scenario.
func (r Registration) MarshalJSON() ([]byte, error) {
	type registration Registration
	return json.Marshal(struct {
		registration
		HasReference bool `json:"has_reference"`
	}{registration(r), r.HasReference()})
}

// NewWalkInRegistration creates a registration that is checked in on creation.
func NewWalkInRegistration(regID id.RegistrationID, eventID id.EventID, userID id.UserID, ref *id.ReferenceNumber, now time.Time) (*Registration, error) {
	if eventID.IsNil() || userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "event and user are required")
	}
	checkin := now
	return &Registration{
		ID:              regID,
		EventID:         eventID,
		UserID:          userID,
		ReferenceNumber: ref,
		Status:          StatusCheckedIn,
		CheckinTime:     &checkin,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

func (r *Registration) HasReference() bool {
	return r.ReferenceNumber != nil
}

func (r *Registration) IsCheckedIn() bool  { return r.Status == StatusCheckedIn }
func (r *Registration) IsCheckedOut() bool { return r.Status == StatusCheckedOut }

// VestReturnRecorded reports whether the vest return question has been answered.
func (r *Registration) VestReturnRecorded() bool {
	return r.VestReturned != nil
}

func (r *Registration) touch(now time.Time) {
	r.UpdatedAt = now
	r.Version++
}

// CanCheckIn checks the transition into checked_in.
// Use with ApplyCheckIn in Execute callbacks.
func (r *Registration) CanCheckIn() error {
	if !r.Status.CanTransitionTo(StatusCheckedIn) {
		return dErrors.New(dErrors.CodeInvariantViolation, "registration is already checked in")
	}
	return nil
}

// ApplyCheckIn moves to checked_in and clears checkout state from a previous exit.
func (r *Registration) ApplyCheckIn(now time.Time) {
	r.checkIn(now)
	r.touch(now)
}

// ApplyCheckInWithReference sets or clears the reference and checks in as one change.
func (r *Registration) ApplyCheckInWithReference(ref *id.ReferenceNumber, now time.Time) {
	r.ReferenceNumber = ref
	r.checkIn(now)
	r.touch(now)
}

func (r *Registration) checkIn(now time.Time) {
	checkin := now
	r.Status = StatusCheckedIn
	r.CheckinTime = &checkin
	r.CheckoutTime = nil
	r.VestReturned = nil
}

func (r *Registration) CanCheckOut() error {
	if !r.Status.CanTransitionTo(StatusCheckedOut) {
		return dErrors.New(dErrors.CodeInvariantViolation, "registration is not checked in")
	}
	return nil
}

func (r *Registration) ApplyCheckOut(now time.Time) {
	checkout := now
	r.Status = StatusCheckedOut
	r.CheckoutTime = &checkout
	r.touch(now)
}

// ApplyReference sets or clears the reference number. It is legal in any status.
func (r *Registration) ApplyReference(ref *id.ReferenceNumber, now time.Time) {
	r.ReferenceNumber = ref
	r.touch(now)
}

// CanAssignVest allows vest changes at or after check-in.
func (r *Registration) CanAssignVest() error {
	if r.Status != StatusCheckedIn && r.Status != StatusCheckedOut {
		return dErrors.New(dErrors.CodeInvariantViolation, "vest can only be assigned after check-in")
	}
	return nil
}

func (r *Registration) ApplyVest(vest *string, now time.Time) {
	r.VestNumber = vest
	r.touch(now)
}

// CanConfirmVestReturn allows recording the return once: at checkout, or
// afterwards if checkout happened without recording it.
func (r *Registration) CanConfirmVestReturn() error {
	switch {
	case r.Status == StatusCheckedIn:
		return nil
	case r.Status == StatusCheckedOut && !r.VestReturnRecorded():
		return nil
	case r.Status == StatusCheckedOut:
		return dErrors.New(dErrors.CodeInvariantViolation, "vest return already recorded")
	default:
		return dErrors.New(dErrors.CodeInvariantViolation, "registration is not checked in")
	}
}

// ApplyVestReturn records the return, checking out first when still checked in.
// It reports whether a checkout happened.
func (r *Registration) ApplyVestReturn(returned bool, now time.Time) bool {
	checkedOut := false
	if r.Status == StatusCheckedIn {
		checkout := now
		r.Status = StatusCheckedOut
		r.CheckoutTime = &checkout
		checkedOut = true
	}
	r.VestReturned = &returned
	r.touch(now)
	return checkedOut
}

// Clone returns a deep copy so stores never hand out shared pointers.
func (r *Registration) Clone() *Registration {
	if r == nil {
		return nil
	}
	c := *r
	if r.ReferenceNumber != nil {
		ref := *r.ReferenceNumber
		c.ReferenceNumber = &ref
	}
	if r.CheckinTime != nil {
		t := *r.CheckinTime
		c.CheckinTime = &t
	}
	if r.CheckoutTime != nil {
		t := *r.CheckoutTime
		c.CheckoutTime = &t
	}
	if r.VestNumber != nil {
		v := *r.VestNumber
		c.VestNumber = &v
	}
	if r.VestReturned != nil {
		v := *r.VestReturned
		c.VestReturned = &v
	}
	return &c
}
