package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	id "checkpoint/pkg/domain"
	audit "checkpoint/pkg/platform/audit"
)

// Store implements audit.Store on the audit_events table.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const selectColumns = `
	category, occurred_at, event_id, registration_id, subject, action,
	outcome, reason, request_id, session_id, ip, device
`

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	query := `
		INSERT INTO audit_events (
			id, category, occurred_at, event_id, registration_id, subject, action,
			outcome, reason, request_id, session_id, ip, device
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	category := event.Category
	if category == "" {
		category = audit.AuditEvent(event.Action).Category()
	}
	_, err := s.pool.Exec(ctx, query,
		uuid.New(),
		string(category),
		event.Timestamp,
		nullableUUID(uuid.UUID(event.EventID)),
		nullableUUID(uuid.UUID(event.RegistrationID)),
		event.Subject,
		event.Action,
		event.Outcome,
		event.Reason,
		event.RequestID,
		event.SessionID,
		event.IP,
		event.Device,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *Store) ListByEvent(ctx context.Context, eventID id.EventID) ([]audit.Event, error) {
	query := `SELECT ` + selectColumns + ` FROM audit_events WHERE event_id = $1 ORDER BY occurred_at ASC`
	rows, err := s.pool.Query(ctx, query, uuid.UUID(eventID))
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	query := `SELECT ` + selectColumns + ` FROM audit_events ORDER BY occurred_at DESC LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows pgx.Rows) ([]audit.Event, error) {
	var events []audit.Event
	for rows.Next() {
		var (
			category       string
			event          audit.Event
			eventID        *uuid.UUID
			registrationID *uuid.UUID
		)
		if err := rows.Scan(
			&category,
			&event.Timestamp,
			&eventID,
			&registrationID,
			&event.Subject,
			&event.Action,
			&event.Outcome,
			&event.Reason,
			&event.RequestID,
			&event.SessionID,
			&event.IP,
			&event.Device,
		); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Category = audit.EventCategory(category)
		if eventID != nil {
			event.EventID = id.EventID(*eventID)
		}
		if registrationID != nil {
			event.RegistrationID = id.RegistrationID(*registrationID)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

func nullableUUID(u uuid.UUID) *uuid.UUID {
	if u == uuid.Nil {
		return nil
	}
	return &u
}
