package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"checkpoint/internal/checkin/models"
	idemmodels "checkpoint/internal/idempotency/models"
	"checkpoint/internal/notify"
	id "checkpoint/pkg/domain"
	dErrors "checkpoint/pkg/domain-errors"
	"checkpoint/pkg/platform/audit"
	"checkpoint/pkg/platform/sentinel"
	"checkpoint/pkg/requestcontext"
)

// Command is one confirmed operator action.
type Command struct {
	Action           models.Action
	UserID           id.UserID
	IdempotencyToken string
	ReferenceNumber  *string
	VestNumber       *string
	VestReturned     *bool
	Limit            int
}

// Fingerprint identifies the request a token was first used for.
func (c Command) Fingerprint(eventID id.EventID) string {
	vestReturned := ""
	if c.VestReturned != nil {
		vestReturned = strconv.FormatBool(*c.VestReturned)
	}
	return idemmodels.Fingerprint(
		eventID.String(),
		string(c.Action),
		c.UserID.String(),
		derefOr(c.ReferenceNumber, "-"),
		derefOr(c.VestNumber, "-"),
		vestReturned,
	)
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return "=" + *s
}

// Result is the success shape of every action. A repeated token produces the
// same shape with NoOp set; transports do not expose the flag.
type Result struct {
	Status       string
	Message      string
	Stats        models.Stats
	Registration *models.Registration
	Attendees    []models.Attendee
	NoOp         bool
}

const statusOK = "ok"

var actionMessages = map[models.Action]string{
	models.ActionConfirmCheckin:      "Checked in",
	models.ActionConfirmCheckout:     "Checked out",
	models.ActionConfirmRefCheckin:   "Reference saved and checked in",
	models.ActionConfirmNoRefCheckin: "Checked in without reference",
	models.ActionRegisterCheckin:     "Registered and checked in",
	models.ActionRefUpdate:           "Reference updated",
	models.ActionVestUpdate:          "Vest updated",
	models.ActionVestCheckout:        "Vest return recorded",
	models.ActionGetRecentAttendees:  "Recent attendees",
}

// outcome is what an action handler hands back for auditing and notification.
type outcome struct {
	reg    *models.Registration
	audit  audit.AuditEvent
	notify notify.Kind
}

// Execute runs a console action. Mutating actions reserve the idempotency
// token first and complete it once the write succeeds. A repeat of a completed
// request returns the original success shape without writing, and a failure
// releases the token so a corrected retry can run.
func (s *Service) Execute(ctx context.Context, eventID id.EventID, cmd Command) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "checkin.Execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("checkin.event_id", eventID.String()),
		attribute.String("checkin.action", string(cmd.Action)),
	)

	start := time.Now()
	result, err := s.execute(ctx, eventID, cmd)
	if s.metrics != nil {
		s.metrics.ObserveActionDuration(string(cmd.Action), time.Since(start).Seconds())
		s.metrics.IncAction(string(cmd.Action), actionOutcome(result, err))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		return nil, err
	}
	span.SetAttributes(attribute.Bool("checkin.noop", result.NoOp))
	return result, nil
}

func actionOutcome(result *Result, err error) string {
	switch {
	case err != nil:
		return string(dErrors.CodeOf(err))
	case result.NoOp:
		return "noop"
	default:
		return statusOK
	}
}

func (s *Service) execute(ctx context.Context, eventID id.EventID, cmd Command) (*Result, error) {
	if !cmd.Action.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown action")
	}
	event, err := s.requireEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if cmd.Action == models.ActionGetRecentAttendees {
		return s.recentAttendees(ctx, eventID, cmd.Limit)
	}
	if cmd.UserID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "user_id is required")
	}

	fingerprint := cmd.Fingerprint(eventID)
	first, err := s.guard.CheckAndReserve(ctx, cmd.IdempotencyToken, fingerprint)
	if err != nil {
		return nil, err
	}
	if !first {
		return s.noOp(ctx, eventID, cmd)
	}

	out, err := s.apply(ctx, event, cmd)
	if err != nil {
		if releaseErr := s.guard.Release(ctx, cmd.IdempotencyToken); releaseErr != nil {
			s.logger.ErrorContext(ctx, "failed to release idempotency token",
				"error", releaseErr,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		return nil, err
	}
	if err := s.guard.Complete(ctx, cmd.IdempotencyToken, fingerprint); err != nil {
		s.logger.ErrorContext(ctx, "failed to complete idempotency token",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
	}

	stats, err := s.store.Stats(ctx, eventID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read stats")
	}

	s.afterWrite(ctx, event, cmd, out)

	return &Result{
		Status:       statusOK,
		Message:      actionMessages[cmd.Action],
		Stats:        stats,
		Registration: out.reg,
	}, nil
}

// noOp answers a repeated token with fresh stats and the current row.
func (s *Service) noOp(ctx context.Context, eventID id.EventID, cmd Command) (*Result, error) {
	if s.metrics != nil {
		s.metrics.IncNoOp(string(cmd.Action))
	}
	s.logger.InfoContext(ctx, "idempotent replay",
		"action", string(cmd.Action),
		"event_id", eventID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	stats, err := s.store.Stats(ctx, eventID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read stats")
	}
	reg, err := s.store.FindByEventAndUser(ctx, eventID, cmd.UserID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load registration")
	}
	return &Result{
		Status:       statusOK,
		Message:      actionMessages[cmd.Action],
		Stats:        stats,
		Registration: reg,
		NoOp:         true,
	}, nil
}

func (s *Service) apply(ctx context.Context, event *models.Event, cmd Command) (*outcome, error) {
	now := requestcontext.Now(ctx)
	switch cmd.Action {
	case models.ActionConfirmCheckin:
		return s.transition(ctx, event.ID, cmd.UserID,
			func(r *models.Registration) error { return r.CanCheckIn() },
			func(r *models.Registration) { r.ApplyCheckIn(now) },
			audit.EventCheckinConfirmed, notify.KindCheckIn)

	case models.ActionConfirmCheckout:
		return s.transition(ctx, event.ID, cmd.UserID,
			func(r *models.Registration) error { return r.CanCheckOut() },
			func(r *models.Registration) { r.ApplyCheckOut(now) },
			audit.EventCheckoutConfirmed, notify.KindCheckOut)

	case models.ActionConfirmRefCheckin:
		if cmd.ReferenceNumber == nil {
			return nil, dErrors.New(dErrors.CodeValidation, "reference_number is required")
		}
		ref, err := id.ParseReferenceNumber(*cmd.ReferenceNumber)
		if err != nil {
			return nil, err
		}
		return s.transition(ctx, event.ID, cmd.UserID,
			func(r *models.Registration) error { return r.CanCheckIn() },
			func(r *models.Registration) { r.ApplyCheckInWithReference(&ref, now) },
			audit.EventCheckinConfirmed, notify.KindCheckIn)

	case models.ActionConfirmNoRefCheckin:
		return s.transition(ctx, event.ID, cmd.UserID,
			func(r *models.Registration) error { return r.CanCheckIn() },
			func(r *models.Registration) { r.ApplyCheckInWithReference(nil, now) },
			audit.EventCheckinConfirmed, notify.KindCheckIn)

	case models.ActionRegisterCheckin:
		return s.registerCheckin(ctx, event, cmd, now)

	case models.ActionRefUpdate:
		ref, err := id.ParseOptionalReferenceNumber(cmd.ReferenceNumber)
		if err != nil {
			return nil, err
		}
		return s.transition(ctx, event.ID, cmd.UserID,
			func(*models.Registration) error { return nil },
			func(r *models.Registration) { r.ApplyReference(ref, now) },
			audit.EventReferenceUpdated, "")

	case models.ActionVestUpdate:
		return s.assignVest(ctx, event.ID, cmd, now)

	case models.ActionVestCheckout:
		return s.confirmVestReturn(ctx, event.ID, cmd, now)
	}
	return nil, dErrors.New(dErrors.CodeValidation, "unknown action")
}

// transition runs a locked validate-then-mutate on the (event, user) row.
func (s *Service) transition(
	ctx context.Context,
	eventID id.EventID,
	userID id.UserID,
	validate func(*models.Registration) error,
	mutate func(*models.Registration),
	auditEvent audit.AuditEvent,
	kind notify.Kind,
) (*outcome, error) {
	reg, err := s.store.Execute(ctx, eventID, userID, validate, mutate)
	if err != nil {
		return nil, translateStoreErr(err, "failed to update registration")
	}
	return &outcome{reg: reg, audit: auditEvent, notify: kind}, nil
}

func (s *Service) registerCheckin(ctx context.Context, event *models.Event, cmd Command, now time.Time) (*outcome, error) {
	ref, err := id.ParseOptionalReferenceNumber(cmd.ReferenceNumber)
	if err != nil {
		return nil, err
	}
	if _, err := s.directory.FindByID(ctx, cmd.UserID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "user not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
	}

	reg, err := models.NewWalkInRegistration(s.newID(), event.ID, cmd.UserID, ref, now)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid registration")
	}
	if err := s.store.CreateWithCapacity(ctx, reg); err != nil {
		return nil, translateStoreErr(err, "failed to create registration")
	}
	return &outcome{reg: reg, audit: audit.EventWalkInRegistered, notify: notify.KindCheckIn}, nil
}

// afterWrite audits the change and sends the notification without waiting for it.
func (s *Service) afterWrite(ctx context.Context, event *models.Event, cmd Command, out *outcome) {
	subject := cmd.UserID.String()
	user, err := s.directory.FindByID(ctx, cmd.UserID)
	if err == nil {
		subject = user.Code
	}

	audit.LogAudit(ctx, s.logger, s.auditPublisher, audit.Event{
		EventID:        event.ID,
		RegistrationID: out.reg.ID,
		Subject:        subject,
		Action:         string(out.audit),
		Outcome:        string(out.reg.Status),
	}, "action", string(cmd.Action), "version", out.reg.Version)

	if out.notify == "" || s.notifier == nil || user == nil {
		return
	}
	s.dispatch(ctx, out.notify, user, event)
}

func (s *Service) dispatch(ctx context.Context, kind notify.Kind, user *models.User, event *models.Event) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	go func() {
		defer cancel()
		result := "sent"
		if err := s.notifier.Send(sendCtx, kind, user, event); err != nil {
			result = "failed"
			s.logger.WarnContext(sendCtx, "notification failed",
				"kind", string(kind),
				"user_code", user.Code,
				"error", err,
			)
		}
		if s.metrics != nil {
			s.metrics.IncNotification(string(kind), result)
		}
	}()
}
