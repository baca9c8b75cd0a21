package repository

import (
	"context"
	"database/sql"
	"errors"

	"edge-guard/backend/internal/account/domain"
)

const accountColumns = `id, username, password_hash, enabled, created_at, updated_at`

// PostgresRepository reads and writes the users table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an account repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the account for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*domain.Account, error) {
	return r.getOne(ctx, `SELECT `+accountColumns+` FROM users WHERE id = $1`, id)
}

// GetByUsername returns the account for username, or nil if not found.
func (r *PostgresRepository) GetByUsername(ctx context.Context, username string) (*domain.Account, error) {
	return r.getOne(ctx, `SELECT `+accountColumns+` FROM users WHERE username = $1`, username)
}

// Create inserts a and sets its generated ID.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.Account) error {
	return r.db.QueryRowContext(ctx,
		`INSERT INTO users (username, password_hash, enabled, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		a.Username, a.PasswordHash, a.Enabled, a.CreatedAt, a.UpdatedAt,
	).Scan(&a.ID)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg any) (*domain.Account, error) {
	var a domain.Account
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&a.ID, &a.Username, &a.PasswordHash, &a.Enabled, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}
