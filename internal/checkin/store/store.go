// Package store persists events and registrations for the check-in console.
//
// Backends return pkg/platform/sentinel errors; the service translates them.
// Execute runs validate and mutate under the row lock (mutex in memory,
// SELECT ... FOR UPDATE in PostgreSQL) so legality is checked against the
// row that is actually written.
package store

const (
	DefaultRecentLimit = 20
	MaxRecentLimit     = 100
)

// ClampRecentLimit applies the recent-attendees default and ceiling.
func ClampRecentLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultRecentLimit
	case limit > MaxRecentLimit:
		return MaxRecentLimit
	default:
		return limit
	}
}
