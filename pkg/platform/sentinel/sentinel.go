package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into domain errors.
//
// - ErrNotFound: entity does not exist in store
// - ErrAlreadyExists: unique key (event_id, user_id) already taken
// - ErrReferenceInUse: unique key (event_id, reference_number) already taken
// - ErrCapacityReached: event capacity reached at creation time
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrReferenceInUse  = errors.New("reference number in use")
	ErrCapacityReached = errors.New("capacity reached")
)
