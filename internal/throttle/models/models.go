package models

import (
	"fmt"
	"slices"
	"strings"
	"time"

	dErrors "checkpoint/pkg/domain-errors"
)

const (
	PolicyConsoleLogin = "console_login"
	PolicyLookupMiss   = "lookup_miss"
)

// Policy is a sliding-window failure budget. MaxFailures inside any span of
// Window blocks the key for Cooldown.
type Policy struct {
	Name        string
	MaxFailures int
	Window      time.Duration
	Cooldown    time.Duration
}

func (p Policy) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return dErrors.New(dErrors.CodeInvariantViolation, "policy name cannot be empty")
	}
	if p.MaxFailures <= 0 {
		return dErrors.New(dErrors.CodeInvariantViolation, "max failures must be positive")
	}
	if p.Window <= 0 || p.Cooldown <= 0 {
		return dErrors.New(dErrors.CodeInvariantViolation, "window and cooldown must be positive")
	}
	return nil
}

// Key builds the storage key for a policy and its subject parts.
func (p Policy) Key(parts ...string) string {
	return "throttle:" + p.Name + ":" + strings.Join(parts, ":")
}

// Record is the persisted state for one throttle key: the failure times still
// inside the window, oldest first, and the block deadline if any.
type Record struct {
	Key          string      `json:"key"`
	Failures     []time.Time `json:"failures"`
	BlockedUntil *time.Time  `json:"blocked_until,omitempty"`
}

func NewRecord(key string) (*Record, error) {
	if key == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "throttle key cannot be empty")
	}
	return &Record{Key: key}, nil
}

func (r *Record) IsBlockedAt(now time.Time) bool {
	return r.BlockedUntil != nil && now.Before(*r.BlockedUntil)
}

// inWindow reports whether a failure at t still counts at now.
func inWindow(t, now time.Time, window time.Duration) bool {
	return t.After(now.Add(-window)) && !t.After(now)
}

// ActiveCount is the number of failures in the window ending at now.
func (r *Record) ActiveCount(now time.Time, window time.Duration) int {
	n := 0
	for _, t := range r.Failures {
		if inWindow(t, now, window) {
			n++
		}
	}
	return n
}

// Prune drops failures that slid out of the window ending at now.
func (r *Record) Prune(now time.Time, window time.Duration) {
	kept := r.Failures[:0]
	for _, t := range r.Failures {
		if t.After(now.Add(-window)) {
			kept = append(kept, t)
		}
	}
	r.Failures = kept
}

// RegisterFailure counts one failure and blocks the key once the policy budget
// is spent inside the window. It returns true when this failure triggered the block.
func (r *Record) RegisterFailure(now time.Time, policy Policy) bool {
	if r.BlockedUntil != nil && !now.Before(*r.BlockedUntil) {
		r.BlockedUntil = nil
	}
	r.Prune(now, policy.Window)
	r.Failures = append(r.Failures, now)
	if len(r.Failures) >= policy.MaxFailures && r.BlockedUntil == nil {
		until := now.Add(policy.Cooldown)
		r.BlockedUntil = &until
		r.Failures = nil
		return true
	}
	return false
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	c := &Record{Key: r.Key, Failures: slices.Clone(r.Failures)}
	if r.BlockedUntil != nil {
		until := *r.BlockedUntil
		c.BlockedUntil = &until
	}
	return c
}

// Decision is the outcome of a throttle check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
	// Triggered is set when the call that produced this decision caused the block.
	Triggered bool
}

// Evaluate derives a decision for the record at now. A nil record is a fresh key.
func Evaluate(r *Record, policy Policy, now time.Time) Decision {
	if r == nil {
		return Decision{Allowed: true, Remaining: policy.MaxFailures}
	}
	if r.IsBlockedAt(now) {
		return Decision{Allowed: false, RetryAfter: r.BlockedUntil.Sub(now)}
	}
	return Decision{
		Allowed:   true,
		Remaining: max(policy.MaxFailures-r.ActiveCount(now, policy.Window), 0),
	}
}

// BlockedError reports a throttled key. It unwraps to a too_many_requests domain error.
type BlockedError struct {
	Policy     string
	RetryAfter time.Duration
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("%s throttled, retry after %s", e.Policy, e.RetryAfter.Round(time.Second))
}

func (e *BlockedError) Unwrap() error {
	return dErrors.New(dErrors.CodeTooManyRequests, "too many attempts, try again later")
}

// RetryAfterSeconds rounds up so clients never retry early.
func (e *BlockedError) RetryAfterSeconds() int {
	secs := int(e.RetryAfter / time.Second)
	if e.RetryAfter%time.Second != 0 {
		secs++
	}
	return max(secs, 1)
}
