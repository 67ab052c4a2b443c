// Package service implements the console engine: resolving scanned codes into
// scenarios and executing idempotent registration transitions.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"checkpoint/internal/checkin/metrics"
	"checkpoint/internal/checkin/models"
	"checkpoint/internal/notify"
	throttlemodels "checkpoint/internal/throttle/models"
	id "checkpoint/pkg/domain"
	dErrors "checkpoint/pkg/domain-errors"
	"checkpoint/pkg/platform/audit"
	"checkpoint/pkg/platform/sentinel"
)

// RegistrationStore is the persistence port. Execute must run validate and
// mutate under a per-row lock; CreateWithCapacity must serialise per event.
type RegistrationStore interface {
	FindEvent(ctx context.Context, eventID id.EventID) (*models.Event, error)
	FindByReference(ctx context.Context, eventID id.EventID, ref id.ReferenceNumber) (*models.Registration, error)
	FindByEventAndUser(ctx context.Context, eventID id.EventID, userID id.UserID) (*models.Registration, error)
	Execute(ctx context.Context, eventID id.EventID, userID id.UserID, validate func(*models.Registration) error, mutate func(*models.Registration)) (*models.Registration, error)
	CreateWithCapacity(ctx context.Context, reg *models.Registration) error
	Stats(ctx context.Context, eventID id.EventID) (models.Stats, error)
	Recent(ctx context.Context, eventID id.EventID, limit int) ([]*models.Registration, error)
}

type UserDirectory interface {
	FindByCode(ctx context.Context, code id.UserCode) (*models.User, error)
	FindByID(ctx context.Context, userID id.UserID) (*models.User, error)
}

// IdempotencyGuard binds a token to the request fingerprint. CheckAndReserve
// errors with in_progress while the first call runs and with conflict when
// the token is reused for a different request.
type IdempotencyGuard interface {
	CheckAndReserve(ctx context.Context, token, fingerprint string) (bool, error)
	Complete(ctx context.Context, token, fingerprint string) error
	Release(ctx context.Context, token string) error
}

// LookupThrottle slows down code enumeration from a single console session.
type LookupThrottle interface {
	Check(ctx context.Context, key string) (*throttlemodels.Decision, error)
	RecordFailure(ctx context.Context, key string) (*throttlemodels.Decision, error)
	Policy() throttlemodels.Policy
}

const defaultNotifyTimeout = 5 * time.Second

type Service struct {
	store          RegistrationStore
	directory      UserDirectory
	guard          IdempotencyGuard
	lookupThrottle LookupThrottle
	notifier       notify.Dispatcher
	notifyTimeout  time.Duration
	auditPublisher audit.Publisher
	logger         *slog.Logger
	metrics        *metrics.Metrics
	tracer         trace.Tracer
	newID          func() id.RegistrationID
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher audit.Publisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithLookupThrottle(t LookupThrottle) Option {
	return func(s *Service) {
		s.lookupThrottle = t
	}
}

func WithNotifier(d notify.Dispatcher) Option {
	return func(s *Service) {
		s.notifier = d
	}
}

func WithNotifyTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.notifyTimeout = d
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

// WithIDGenerator overrides how walk-in registration ids are minted.
func WithIDGenerator(fn func() id.RegistrationID) Option {
	return func(s *Service) {
		s.newID = fn
	}
}

func New(store RegistrationStore, directory UserDirectory, guard IdempotencyGuard, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("registration store is required")
	}
	if directory == nil {
		return nil, errors.New("user directory is required")
	}
	if guard == nil {
		return nil, errors.New("idempotency guard is required")
	}
	svc := &Service{
		store:         store,
		directory:     directory,
		guard:         guard,
		notifyTimeout: defaultNotifyTimeout,
		logger:        slog.Default(),
		tracer:        otel.Tracer("checkpoint/checkin"),
		newID:         id.NewRegistrationID,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Stats returns the event aggregates.
func (s *Service) Stats(ctx context.Context, eventID id.EventID) (models.Stats, error) {
	if _, err := s.requireEvent(ctx, eventID); err != nil {
		return models.Stats{}, err
	}
	stats, err := s.store.Stats(ctx, eventID)
	if err != nil {
		return models.Stats{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read stats")
	}
	return stats, nil
}

func (s *Service) requireEvent(ctx context.Context, eventID id.EventID) (*models.Event, error) {
	if eventID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "event_id is required")
	}
	event, err := s.store.FindEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "event not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load event")
	}
	return event, nil
}

// translateStoreErr maps store sentinels and model invariant failures onto the
// domain taxonomy. Errors that already carry a domain code pass through.
func translateStoreErr(err error, msg string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "registration not found")
	case errors.Is(err, sentinel.ErrAlreadyExists):
		return dErrors.New(dErrors.CodeAlreadyExists, "user is already registered for this event")
	case errors.Is(err, sentinel.ErrReferenceInUse):
		return dErrors.New(dErrors.CodeAlreadyExists, "reference number is already assigned to another registration for this event")
	case errors.Is(err, sentinel.ErrCapacityReached):
		return dErrors.New(dErrors.CodeCapacityExceeded, "event is at capacity")
	case dErrors.HasCode(err, dErrors.CodeInvariantViolation):
		return dErrors.New(dErrors.CodeInvalidTransition, dErrors.MessageOf(err))
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
