// Package models holds the idempotency record shared by the guard and its stores.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

type State string

const (
	// StatePending marks a token whose action is still running. Its lease is short.
	StatePending State = "pending"
	// StateCompleted marks a token whose action was applied. It lives for the full TTL.
	StateCompleted State = "completed"
)

func (s State) IsValid() bool {
	return s == StatePending || s == StateCompleted
}

// Record is what a store holds for a token.
type Record struct {
	Token       string    `json:"token"`
	Fingerprint string    `json:"fingerprint"`
	State       State     `json:"state"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (r *Record) IsExpiredAt(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

func (r *Record) IsPending() bool {
	return r.State == StatePending
}

// Matches reports whether a retry carries the same request as the first call.
func (r *Record) Matches(fingerprint string) bool {
	return r.Fingerprint == fingerprint
}

// Fingerprint hashes the parts of a request a token is bound to. Parts are
// joined with a separator that cannot appear in ids or codes.
func Fingerprint(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}
