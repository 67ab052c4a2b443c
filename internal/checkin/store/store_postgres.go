package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"checkpoint/internal/checkin/models"
	id "checkpoint/pkg/domain"
	"checkpoint/pkg/platform/sentinel"
)

const (
	uniqueViolation = "23505"
	referenceIndex  = "event_registrations_reference_key"
)

// uniqueErr maps a unique violation onto the sentinel for the key it hit.
func uniqueErr(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return nil
	}
	if pgErr.ConstraintName == referenceIndex {
		return sentinel.ErrReferenceInUse
	}
	return sentinel.ErrAlreadyExists
}

// PostgresStore persists events and registrations with pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const registrationColumns = `
	id, event_id, user_id, reference_number, status, checkin_time, checkout_time,
	vest_number, vest_returned, version, created_at, updated_at
`

func scanRegistration(row pgx.Row) (*models.Registration, error) {
	var (
		reg     models.Registration
		regID   uuid.UUID
		eventID uuid.UUID
		userID  uuid.UUID
		ref     *string
		status  string
	)
	err := row.Scan(&regID, &eventID, &userID, &ref, &status, &reg.CheckinTime, &reg.CheckoutTime,
		&reg.VestNumber, &reg.VestReturned, &reg.Version, &reg.CreatedAt, &reg.UpdatedAt)
	if err != nil {
		return nil, err
	}
	reg.ID = id.RegistrationID(regID)
	reg.EventID = id.EventID(eventID)
	reg.UserID = id.UserID(userID)
	if ref != nil {
		r := id.ReferenceNumber(*ref)
		reg.ReferenceNumber = &r
	}
	reg.Status, err = models.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

func referenceValue(ref *id.ReferenceNumber) *string {
	if ref == nil {
		return nil
	}
	s := ref.String()
	return &s
}

// SaveEvent upserts an event. Used by seeding and tests.
func (s *PostgresStore) SaveEvent(ctx context.Context, event *models.Event) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO events (id, slug, name, capacity, console_credential_hash)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET slug = EXCLUDED.slug, name = EXCLUDED.name, capacity = EXCLUDED.capacity,
		    console_credential_hash = EXCLUDED.console_credential_hash
	`, uuid.UUID(event.ID), event.Slug, event.Name, event.Capacity, event.CredentialHash)
	if err != nil {
		return fmt.Errorf("save event: %w", err)
	}
	return nil
}

// Save upserts a registration without capacity checks. Used by seeding and tests.
func (s *PostgresStore) Save(ctx context.Context, reg *models.Registration) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO event_registrations (`+registrationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (event_id, user_id) DO UPDATE
		SET reference_number = EXCLUDED.reference_number, status = EXCLUDED.status,
		    checkin_time = EXCLUDED.checkin_time, checkout_time = EXCLUDED.checkout_time,
		    vest_number = EXCLUDED.vest_number, vest_returned = EXCLUDED.vest_returned,
		    version = EXCLUDED.version, updated_at = EXCLUDED.updated_at
	`, registrationArgs(reg)...)
	if err != nil {
		return fmt.Errorf("save registration: %w", err)
	}
	return nil
}

func registrationArgs(reg *models.Registration) []any {
	return []any{
		uuid.UUID(reg.ID), uuid.UUID(reg.EventID), uuid.UUID(reg.UserID),
		referenceValue(reg.ReferenceNumber), string(reg.Status),
		reg.CheckinTime, reg.CheckoutTime, reg.VestNumber, reg.VestReturned,
		reg.Version, reg.CreatedAt, reg.UpdatedAt,
	}
}

func (s *PostgresStore) FindEvent(ctx context.Context, eventID id.EventID) (*models.Event, error) {
	var (
		event models.Event
		rawID uuid.UUID
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, slug, name, capacity, console_credential_hash
		FROM events WHERE id = $1
	`, uuid.UUID(eventID)).Scan(&rawID, &event.Slug, &event.Name, &event.Capacity, &event.CredentialHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find event: %w", err)
	}
	event.ID = id.EventID(rawID)
	return &event, nil
}

func (s *PostgresStore) FindByReference(ctx context.Context, eventID id.EventID, ref id.ReferenceNumber) (*models.Registration, error) {
	reg, err := scanRegistration(s.pool.QueryRow(ctx, `
		SELECT `+registrationColumns+`
		FROM event_registrations
		WHERE event_id = $1 AND reference_number = $2
		LIMIT 1
	`, uuid.UUID(eventID), ref.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find registration by reference: %w", err)
	}
	return reg, nil
}

func (s *PostgresStore) FindByEventAndUser(ctx context.Context, eventID id.EventID, userID id.UserID) (*models.Registration, error) {
	reg, err := scanRegistration(s.pool.QueryRow(ctx, `
		SELECT `+registrationColumns+`
		FROM event_registrations
		WHERE event_id = $1 AND user_id = $2
	`, uuid.UUID(eventID), uuid.UUID(userID)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find registration: %w", err)
	}
	return reg, nil
}

// Execute locks the registration row, runs validate and mutate on it, and
// writes the result in the same transaction.
func (s *PostgresStore) Execute(ctx context.Context, eventID id.EventID, userID id.UserID, validate func(*models.Registration) error, mutate func(*models.Registration)) (result *models.Registration, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin registration tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	reg, err := scanRegistration(tx.QueryRow(ctx, `
		SELECT `+registrationColumns+`
		FROM event_registrations
		WHERE event_id = $1 AND user_id = $2
		FOR UPDATE
	`, uuid.UUID(eventID), uuid.UUID(userID)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("lock registration: %w", err)
	}

	if err = validate(reg); err != nil {
		return reg, err
	}
	mutate(reg)

	_, err = tx.Exec(ctx, `
		UPDATE event_registrations
		SET reference_number = $2, status = $3, checkin_time = $4, checkout_time = $5,
		    vest_number = $6, vest_returned = $7, version = $8, updated_at = $9
		WHERE id = $1
	`, uuid.UUID(reg.ID), referenceValue(reg.ReferenceNumber), string(reg.Status),
		reg.CheckinTime, reg.CheckoutTime, reg.VestNumber, reg.VestReturned, reg.Version, reg.UpdatedAt)
	if err != nil {
		if taken := uniqueErr(err); taken != nil {
			return nil, taken
		}
		return nil, fmt.Errorf("update registration: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit registration tx: %w", err)
	}
	return reg, nil
}

// CreateWithCapacity locks the event row before counting, so concurrent
// creations for the same event queue behind each other and capacity holds.
func (s *PostgresStore) CreateWithCapacity(ctx context.Context, reg *models.Registration) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin create tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var capacity int
	err = tx.QueryRow(ctx, `SELECT capacity FROM events WHERE id = $1 FOR UPDATE`, uuid.UUID(reg.EventID)).Scan(&capacity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return sentinel.ErrNotFound
		}
		return fmt.Errorf("lock event: %w", err)
	}

	var exists bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM event_registrations WHERE event_id = $1 AND user_id = $2)
	`, uuid.UUID(reg.EventID), uuid.UUID(reg.UserID)).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check registration: %w", err)
	}
	if exists {
		return sentinel.ErrAlreadyExists
	}

	var count int
	if err = tx.QueryRow(ctx, `SELECT count(*) FROM event_registrations WHERE event_id = $1`, uuid.UUID(reg.EventID)).Scan(&count); err != nil {
		return fmt.Errorf("count registrations: %w", err)
	}
	event := models.Event{Capacity: capacity}
	if !event.HasRoomFor(count) {
		return sentinel.ErrCapacityReached
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO event_registrations (`+registrationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, registrationArgs(reg)...)
	if err != nil {
		if taken := uniqueErr(err); taken != nil {
			return taken
		}
		return fmt.Errorf("insert registration: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) Stats(ctx context.Context, eventID id.EventID) (models.Stats, error) {
	var stats models.Stats
	err := s.pool.QueryRow(ctx, `
		SELECT
			count(*),
			count(*) FILTER (WHERE status = 'checked_in'),
			count(*) FILTER (WHERE status = 'checked_out')
		FROM event_registrations
		WHERE event_id = $1
	`, uuid.UUID(eventID)).Scan(&stats.Total, &stats.CheckedIn, &stats.CheckedOut)
	if err != nil {
		return models.Stats{}, fmt.Errorf("registration stats: %w", err)
	}
	return stats, nil
}

func (s *PostgresStore) Recent(ctx context.Context, eventID id.EventID, limit int) ([]*models.Registration, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+registrationColumns+`
		FROM event_registrations
		WHERE event_id = $1 AND checkin_time IS NOT NULL
		ORDER BY updated_at DESC, id
		LIMIT $2
	`, uuid.UUID(eventID), ClampRecentLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query recent registrations: %w", err)
	}
	defer rows.Close()

	var regs []*models.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		regs = append(regs, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate registrations: %w", err)
	}
	return regs, nil
}
