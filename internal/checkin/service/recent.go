package service

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"checkpoint/internal/checkin/models"
	id "checkpoint/pkg/domain"
	dErrors "checkpoint/pkg/domain-errors"
	"checkpoint/pkg/platform/sentinel"
)

const directoryFanout = 8

// recentAttendees is the read-only projection behind get_recent_attendees.
// It never touches the idempotency guard.
func (s *Service) recentAttendees(ctx context.Context, eventID id.EventID, limit int) (*Result, error) {
	var (
		regs  []*models.Registration
		stats models.Stats
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		regs, err = s.store.Recent(gctx, eventID, limit)
		return err
	})
	g.Go(func() error {
		var err error
		stats, err = s.store.Stats(gctx, eventID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read recent attendees")
	}

	attendees, err := s.attendees(ctx, regs)
	if err != nil {
		return nil, err
	}
	return &Result{
		Status:    statusOK,
		Message:   actionMessages[models.ActionGetRecentAttendees],
		Stats:     stats,
		Attendees: attendees,
	}, nil
}

// attendees joins registrations with directory entries, keeping input order.
func (s *Service) attendees(ctx context.Context, regs []*models.Registration) ([]models.Attendee, error) {
	out := make([]models.Attendee, len(regs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(directoryFanout)
	for i, reg := range regs {
		g.Go(func() error {
			a := models.Attendee{
				UserID:       reg.UserID,
				Status:       reg.Status,
				CheckinTime:  reg.CheckinTime,
				CheckoutTime: reg.CheckoutTime,
				VestNumber:   reg.VestNumber,
				VestReturned: reg.VestReturned,
			}
			user, err := s.directory.FindByID(gctx, reg.UserID)
			switch {
			case err == nil:
				a.Code = user.Code
				a.DisplayName = user.DisplayName
			case !errors.Is(err, sentinel.ErrNotFound):
				return err
			}
			out[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load attendees")
	}
	return out, nil
}
