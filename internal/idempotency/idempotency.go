// Package idempotency records client-supplied tokens so a retried console action
// is applied at most once within the token TTL. A token is bound to the
// fingerprint of the request that first used it.
package idempotency

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"regexp"
	"time"

	"checkpoint/internal/idempotency/metrics"
	"checkpoint/internal/idempotency/models"
	dErrors "checkpoint/pkg/domain-errors"
	"checkpoint/pkg/requestcontext"
)

const (
	DefaultTTL = 24 * time.Hour
	// DefaultPendingTTL bounds how long a crashed call keeps its token locked.
	DefaultPendingTTL = time.Minute
)

var tokenPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{8,128}$`)

// Store records tokens. Reserve must be atomic: exactly one concurrent caller
// for a token gets true until the record expires. A losing caller gets the
// live record back.
type Store interface {
	Reserve(ctx context.Context, token, fingerprint string, now time.Time, lease time.Duration) (*models.Record, bool, error)
	Complete(ctx context.Context, token, fingerprint string, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, token string) error
}

// Sweeper is implemented by stores that need expired rows removed.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (int64, error)
}

type Guard struct {
	store        Store
	ttl          time.Duration
	pendingTTL   time.Duration
	sweepPercent int
	roll         func() int
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

type Option func(*Guard)

func WithTTL(ttl time.Duration) Option {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithPendingTTL sets the lease a running action holds on its token.
func WithPendingTTL(ttl time.Duration) Option {
	return func(g *Guard) {
		if ttl > 0 {
			g.pendingTTL = ttl
		}
	}
}

// WithSweepPercent sets the chance, in percent, that a reservation also sweeps expired records.
func WithSweepPercent(p int) Option {
	return func(g *Guard) {
		g.sweepPercent = min(max(p, 0), 100)
	}
}

// WithRoll overrides the random source used for sweeps. It must return [0,100).
func WithRoll(fn func() int) Option {
	return func(g *Guard) {
		g.roll = fn
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		g.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Guard) {
		g.metrics = m
	}
}

func New(store Store, opts ...Option) (*Guard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	g := &Guard{
		store:        store,
		ttl:          DefaultTTL,
		pendingTTL:   DefaultPendingTTL,
		sweepPercent: 2,
		roll:         defaultRoll,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// ValidateToken checks the token shape without touching the store.
func ValidateToken(token string) error {
	if !tokenPattern.MatchString(token) {
		return dErrors.New(dErrors.CodeValidation, "idempotency_token must be 8-128 characters of [A-Za-z0-9_-]")
	}
	return nil
}

// CheckAndReserve returns true the first time token is seen and leaves it
// pending until Complete or Release. A retry of a completed request returns
// false. A retry while the first call is pending fails with CodeInProgress,
// and reusing the token for a different request fails with CodeConflict.
func (g *Guard) CheckAndReserve(ctx context.Context, token, fingerprint string) (bool, error) {
	if err := ValidateToken(token); err != nil {
		return false, err
	}
	now := requestcontext.Now(ctx)

	record, first, err := g.store.Reserve(ctx, token, fingerprint, now, g.pendingTTL)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to reserve idempotency token")
	}
	if first {
		g.inc((*metrics.Metrics).IncReserved)
		g.maybeSweep(ctx, now)
		return true, nil
	}

	switch {
	case !record.Matches(fingerprint):
		g.inc((*metrics.Metrics).IncMismatched)
		return false, dErrors.New(dErrors.CodeConflict, "idempotency_token was already used for a different request")
	case record.IsPending():
		g.inc((*metrics.Metrics).IncInFlight)
		return false, dErrors.New(dErrors.CodeInProgress, "a request with this idempotency_token is still in progress")
	}
	g.inc((*metrics.Metrics).IncReplayed)
	return false, nil
}

// Complete marks the token applied so retries become no-ops for the full TTL.
func (g *Guard) Complete(ctx context.Context, token, fingerprint string) error {
	if err := g.store.Complete(ctx, token, fingerprint, requestcontext.Now(ctx), g.ttl); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to complete idempotency token")
	}
	g.inc((*metrics.Metrics).IncCompleted)
	return nil
}

// Release deletes a reservation so a corrected retry with the same token can run.
func (g *Guard) Release(ctx context.Context, token string) error {
	if err := g.store.Release(ctx, token); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to release idempotency token")
	}
	g.inc((*metrics.Metrics).IncReleased)
	return nil
}

func (g *Guard) inc(fn func(*metrics.Metrics)) {
	if g.metrics != nil {
		fn(g.metrics)
	}
}

func (g *Guard) maybeSweep(ctx context.Context, now time.Time) {
	sweeper, ok := g.store.(Sweeper)
	if !ok || g.sweepPercent == 0 || g.roll() >= g.sweepPercent {
		return
	}
	removed, err := sweeper.Sweep(ctx, now)
	if err != nil {
		if g.logger != nil {
			g.logger.WarnContext(ctx, "idempotency sweep failed", "error", err)
		}
		return
	}
	if g.logger != nil && removed > 0 {
		g.logger.DebugContext(ctx, "idempotency sweep", "removed", removed)
	}
}

func defaultRoll() int {
	return rand.IntN(100)
}
