package audit

import (
	"context"

	id "checkpoint/pkg/domain"
)

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByEvent(ctx context.Context, eventID id.EventID) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}
