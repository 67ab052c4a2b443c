package service

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"checkpoint/internal/checkin/models"
	throttlemodels "checkpoint/internal/throttle/models"
	id "checkpoint/pkg/domain"
	dErrors "checkpoint/pkg/domain-errors"
	"checkpoint/pkg/platform/sentinel"
	"checkpoint/pkg/requestcontext"
)

// Resolve classifies a scanned or typed code for an event. It never writes
// registrations; misses count against the session's lookup throttle.
func (s *Service) Resolve(ctx context.Context, eventID id.EventID, input string) (*models.Resolution, error) {
	ctx, span := s.tracer.Start(ctx, "checkin.Resolve")
	defer span.End()

	input = strings.TrimSpace(input)
	if input == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "code is required")
	}
	if _, err := s.requireEvent(ctx, eventID); err != nil {
		return nil, err
	}

	throttleKey := s.lookupThrottleKey(ctx, eventID)
	if s.lookupThrottle != nil {
		decision, err := s.lookupThrottle.Check(ctx, throttleKey)
		if err != nil {
			return nil, err
		}
		if !decision.Allowed {
			span.SetStatus(codes.Error, "lookup throttled")
			return nil, &throttlemodels.BlockedError{Policy: s.lookupThrottle.Policy().Name, RetryAfter: decision.RetryAfter}
		}
	}

	res, err := s.resolve(ctx, eventID, input)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("checkin.event_id", eventID.String()),
		attribute.String("checkin.scenario", string(res.Scenario)),
	)
	if s.metrics != nil {
		s.metrics.IncResolution(string(res.Scenario))
	}
	if res.Scenario == models.ScenarioNotFound && s.lookupThrottle != nil {
		if _, err := s.lookupThrottle.RecordFailure(ctx, throttleKey); err != nil {
			s.logger.WarnContext(ctx, "failed to count lookup miss", "error", err, "request_id", requestcontext.RequestID(ctx))
		}
	}
	return res, nil
}

func (s *Service) resolve(ctx context.Context, eventID id.EventID, input string) (*models.Resolution, error) {
	if id.LooksLikeReference(input) {
		reg, err := s.store.FindByReference(ctx, eventID, id.ReferenceNumber(input))
		switch {
		case err == nil:
			user, err := s.directory.FindByID(ctx, reg.UserID)
			if err == nil {
				return models.NewResolution(user, reg), nil
			}
			if !errors.Is(err, sentinel.ErrNotFound) {
				return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
			}
			s.logger.WarnContext(ctx, "registration references unknown user",
				"registration_id", reg.ID.String(),
				"user_id", reg.UserID.String(),
			)
		case !errors.Is(err, sentinel.ErrNotFound):
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up reference")
		}
	}

	code, err := id.ParseUserCode(input)
	if err != nil {
		return models.NewResolution(nil, nil), nil
	}
	user, err := s.directory.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.NewResolution(nil, nil), nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up code")
	}

	reg, err := s.store.FindByEventAndUser(ctx, eventID, user.ID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.NewResolution(user, nil), nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load registration")
	}
	return models.NewResolution(user, reg), nil
}

// lookupThrottleKey scopes misses to the console session, falling back to the client IP.
func (s *Service) lookupThrottleKey(ctx context.Context, eventID id.EventID) string {
	if s.lookupThrottle == nil {
		return ""
	}
	subject := requestcontext.ClientIP(ctx)
	if sid := requestcontext.SessionID(ctx); !sid.IsNil() {
		subject = sid.String()
	}
	return s.lookupThrottle.Policy().Key(eventID.String(), subject)
}
