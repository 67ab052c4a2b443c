// Package service applies a throttle policy to keyed failure counters.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"checkpoint/internal/throttle/metrics"
	"checkpoint/internal/throttle/models"
	dErrors "checkpoint/pkg/domain-errors"
	"checkpoint/pkg/platform/audit"
	"checkpoint/pkg/requestcontext"
)

// Store persists throttle records. RecordFailure must be atomic per key.
type Store interface {
	Get(ctx context.Context, key string) (*models.Record, error)
	RecordFailure(ctx context.Context, key string, policy models.Policy, now time.Time) (*models.Record, bool, error)
	Clear(ctx context.Context, key string) error
}

type Service struct {
	store          Store
	policy         models.Policy
	auditPublisher audit.Publisher
	logger         *slog.Logger
	metrics        *metrics.Metrics
	isFailure      func(error) bool
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

// WithFailureClassifier overrides which errors returned from Attempt's fn count as failures.
func WithFailureClassifier(fn func(error) bool) Option {
	return func(s *Service) {
		if fn != nil {
			s.isFailure = fn
		}
	}
}

func New(store Store, policy models.Policy, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("throttle store is required")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	svc := &Service{
		store:     store,
		policy:    policy,
		isFailure: IsAuthFailure,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// IsAuthFailure treats unauthorized and forbidden domain errors as throttle failures.
func IsAuthFailure(err error) bool {
	return dErrors.HasCode(err, dErrors.CodeUnauthorized) || dErrors.HasCode(err, dErrors.CodeForbidden)
}

func (s *Service) Policy() models.Policy { return s.policy }

// Check reports whether key may proceed without recording anything.
func (s *Service) Check(ctx context.Context, key string) (*models.Decision, error) {
	record, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read throttle record")
	}
	decision := models.Evaluate(record, s.policy, requestcontext.Now(ctx))
	return &decision, nil
}

// RecordFailure counts one failure against key and returns the resulting decision.
func (s *Service) RecordFailure(ctx context.Context, key string) (*models.Decision, error) {
	now := requestcontext.Now(ctx)
	record, triggered, err := s.store.RecordFailure(ctx, key, s.policy, now)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record throttle failure")
	}
	if s.metrics != nil {
		s.metrics.IncFailure(s.policy.Name)
	}

	decision := models.Evaluate(record, s.policy, now)
	decision.Triggered = triggered
	if triggered {
		if s.metrics != nil {
			s.metrics.IncBlock(s.policy.Name)
		}
		audit.LogAudit(ctx, s.logger, s.auditPublisher, audit.Event{
			Action:  string(audit.EventThrottleTriggered),
			Subject: key,
			Reason:  s.policy.Name,
		}, "policy", s.policy.Name, "blocked_until", record.BlockedUntil)
	}
	return &decision, nil
}

func (s *Service) Reset(ctx context.Context, key string) error {
	if err := s.store.Clear(ctx, key); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to reset throttle record")
	}
	return nil
}

// Attempt runs fn only while key is allowed. Failures as classified by the
// service count against the key and fn's error is returned unchanged; success
// resets the key. A blocked key yields a *models.BlockedError without running fn.
func (s *Service) Attempt(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	decision, err := s.Check(ctx, key)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return s.blocked(ctx, key, decision)
	}

	fnErr := fn(ctx)
	if fnErr == nil {
		if err := s.Reset(ctx, key); err != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "failed to reset throttle after success", "policy", s.policy.Name, "error", err)
		}
		return nil
	}
	if !s.isFailure(fnErr) {
		return fnErr
	}

	if _, err := s.RecordFailure(ctx, key); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "failed to record throttle failure", "policy", s.policy.Name, "error", err)
	}
	return fnErr
}

func (s *Service) blocked(ctx context.Context, key string, decision *models.Decision) error {
	if s.metrics != nil {
		s.metrics.IncRejected(s.policy.Name)
	}
	if s.logger != nil {
		s.logger.WarnContext(ctx, "throttled",
			"policy", s.policy.Name,
			"key", key,
			"retry_after", decision.RetryAfter,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	return &models.BlockedError{Policy: s.policy.Name, RetryAfter: decision.RetryAfter}
}
