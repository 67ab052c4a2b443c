package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"checkpoint/internal/throttle/models"
)

// PostgresStore keeps the block deadline in throttle_records and one row per
// failure in throttle_failures. Failures are recorded under a lock on the
// record row so concurrent consoles cannot overshoot the budget.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadRecord(ctx context.Context, q querier, key string, lock bool) (*models.Record, error) {
	query := `SELECT blocked_until FROM throttle_records WHERE key = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var blockedUntil sql.NullTime
	if err := q.QueryRowContext(ctx, query, key).Scan(&blockedUntil); err != nil {
		return nil, err
	}
	record := &models.Record{Key: key}
	if blockedUntil.Valid {
		until := blockedUntil.Time.UTC()
		record.BlockedUntil = &until
	}

	rows, err := q.QueryContext(ctx, `
		SELECT failed_at FROM throttle_failures
		WHERE key = $1
		ORDER BY failed_at
	`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var at time.Time
		if err := rows.Scan(&at); err != nil {
			return nil, err
		}
		record.Failures = append(record.Failures, at.UTC())
	}
	return record, rows.Err()
}

func (s *PostgresStore) Get(ctx context.Context, key string) (*models.Record, error) {
	record, err := loadRecord(ctx, s.db, key, false)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get throttle record: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) RecordFailure(ctx context.Context, key string, policy models.Policy, now time.Time) (record *models.Record, triggered bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin throttle tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO throttle_records (key, blocked_until, updated_at)
		VALUES ($1, NULL, $2)
		ON CONFLICT (key) DO NOTHING
	`, key, now); err != nil {
		return nil, false, fmt.Errorf("ensure throttle record: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `
		DELETE FROM throttle_failures WHERE key = $1 AND failed_at <= $2
	`, key, now.Add(-policy.Window)); err != nil {
		return nil, false, fmt.Errorf("prune throttle failures: %w", err)
	}
	record, err = loadRecord(ctx, tx, key, true)
	if err != nil {
		return nil, false, fmt.Errorf("lock throttle record: %w", err)
	}

	triggered = record.RegisterFailure(now, policy)

	if triggered {
		_, err = tx.ExecContext(ctx, `DELETE FROM throttle_failures WHERE key = $1`, key)
	} else {
		_, err = tx.ExecContext(ctx, `INSERT INTO throttle_failures (key, failed_at) VALUES ($1, $2)`, key, now)
	}
	if err != nil {
		return nil, false, fmt.Errorf("write throttle failures: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `
		UPDATE throttle_records SET blocked_until = $2, updated_at = $3 WHERE key = $1
	`, key, record.BlockedUntil, now); err != nil {
		return nil, false, fmt.Errorf("update throttle record: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit throttle tx: %w", err)
	}
	return record, triggered, nil
}

// Clear removes the record; its failures go with it through the foreign key.
func (s *PostgresStore) Clear(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM throttle_records WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("clear throttle record: %w", err)
	}
	return nil
}
