package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"checkpoint/internal/checkin/models"
	id "checkpoint/pkg/domain"
	"checkpoint/pkg/platform/sentinel"
)

// PostgresDirectory reads the users table.
type PostgresDirectory struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *PostgresDirectory {
	return &PostgresDirectory{pool: pool}
}

func (d *PostgresDirectory) Save(ctx context.Context, user *models.User) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO users (id, code, display_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET code = EXCLUDED.code, display_name = EXCLUDED.display_name
	`, uuid.UUID(user.ID), user.Code, user.DisplayName)
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

func (d *PostgresDirectory) FindByCode(ctx context.Context, code id.UserCode) (*models.User, error) {
	return d.findOne(ctx, `SELECT id, code, display_name FROM users WHERE upper(code) = upper($1)`, code.String())
}

func (d *PostgresDirectory) FindByID(ctx context.Context, userID id.UserID) (*models.User, error) {
	return d.findOne(ctx, `SELECT id, code, display_name FROM users WHERE id = $1`, uuid.UUID(userID))
}

func (d *PostgresDirectory) findOne(ctx context.Context, query string, arg any) (*models.User, error) {
	var (
		user  models.User
		rawID uuid.UUID
	)
	if err := d.pool.QueryRow(ctx, query, arg).Scan(&rawID, &user.Code, &user.DisplayName); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	user.ID = id.UserID(rawID)
	return &user, nil
}
