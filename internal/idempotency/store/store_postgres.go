package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"checkpoint/internal/idempotency/models"
)

// PostgresStore records tokens in idempotency_records. Expired rows are
// overwritten on conflict and removed by Sweep.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Reserve retries once when the live row is released between the insert and the read.
func (s *PostgresStore) Reserve(ctx context.Context, token, fingerprint string, now time.Time, lease time.Duration) (*models.Record, bool, error) {
	query := `
		INSERT INTO idempotency_records (token, fingerprint, state, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (token) DO UPDATE SET
			fingerprint = EXCLUDED.fingerprint,
			state = EXCLUDED.state,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at
		WHERE idempotency_records.expires_at <= EXCLUDED.created_at
	`
	for range 2 {
		result, err := s.db.ExecContext(ctx, query, token, fingerprint, string(models.StatePending), now, now.Add(lease))
		if err != nil {
			return nil, false, fmt.Errorf("reserve idempotency token: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return nil, false, fmt.Errorf("reserve idempotency token rows affected: %w", err)
		}
		if rows == 1 {
			return &models.Record{
				Token:       token,
				Fingerprint: fingerprint,
				State:       models.StatePending,
				ExpiresAt:   now.Add(lease),
			}, true, nil
		}

		existing, err := s.find(ctx, token)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return nil, false, fmt.Errorf("reserve idempotency token: %s keeps disappearing", token)
}

func (s *PostgresStore) find(ctx context.Context, token string) (*models.Record, error) {
	record := &models.Record{Token: token}
	var state string
	err := s.db.QueryRowContext(ctx, `
		SELECT fingerprint, state, expires_at FROM idempotency_records WHERE token = $1
	`, token).Scan(&record.Fingerprint, &state, &record.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("load idempotency token: %w", err)
	}
	record.State = models.State(state)
	return record, nil
}

func (s *PostgresStore) Complete(ctx context.Context, token, fingerprint string, now time.Time, ttl time.Duration) error {
	query := `
		INSERT INTO idempotency_records (token, fingerprint, state, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (token) DO UPDATE SET
			fingerprint = EXCLUDED.fingerprint,
			state = EXCLUDED.state,
			expires_at = EXCLUDED.expires_at
	`
	if _, err := s.db.ExecContext(ctx, query, token, fingerprint, string(models.StateCompleted), now, now.Add(ttl)); err != nil {
		return fmt.Errorf("complete idempotency token: %w", err)
	}
	return nil
}

func (s *PostgresStore) Release(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_records WHERE token = $1`, token); err != nil {
		return fmt.Errorf("release idempotency token: %w", err)
	}
	return nil
}

func (s *PostgresStore) Sweep(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_records WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("sweep idempotency tokens: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep rows affected: %w", err)
	}
	return removed, nil
}
