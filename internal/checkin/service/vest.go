package service

import (
	"context"
	"time"

	"checkpoint/internal/checkin/models"
	"checkpoint/internal/notify"
	id "checkpoint/pkg/domain"
	dErrors "checkpoint/pkg/domain-errors"
	"checkpoint/pkg/platform/audit"
)

// assignVest overwrites the vest number. A blank number clears it.
func (s *Service) assignVest(ctx context.Context, eventID id.EventID, cmd Command, now time.Time) (*outcome, error) {
	vest, err := models.ParseVestNumber(cmd.VestNumber)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, eventID, cmd.UserID,
		func(r *models.Registration) error { return r.CanAssignVest() },
		func(r *models.Registration) { r.ApplyVest(vest, now) },
		audit.EventVestUpdated, "")
}

// confirmVestReturn records the return once. On a checked-in registration it
// also checks out in the same write and notifies the exit.
func (s *Service) confirmVestReturn(ctx context.Context, eventID id.EventID, cmd Command, now time.Time) (*outcome, error) {
	if cmd.VestReturned == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "vest_returned is required")
	}
	returned := *cmd.VestReturned

	checkedOut := false
	out, err := s.transition(ctx, eventID, cmd.UserID,
		func(r *models.Registration) error { return r.CanConfirmVestReturn() },
		func(r *models.Registration) { checkedOut = r.ApplyVestReturn(returned, now) },
		audit.EventVestReturned, "")
	if err != nil {
		return nil, err
	}
	if checkedOut {
		out.notify = notify.KindCheckOut
	}
	return out, nil
}
