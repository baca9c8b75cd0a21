package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"edge-guard/backend/internal/session/domain"
)

const sessionColumns = `id, user_id, token_hash, user_agent_hash, ip_prefix, device_id, device_name, ip_address, expires_at, revoked_at, created_at`

// PostgresRepository persists refresh sessions in the refresh_sessions table.
type PostgresRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db, now: time.Now}
}

// Create persists the session. The session must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.RefreshSession) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO refresh_sessions (`+sessionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		s.ID, s.UserID, s.TokenHash, s.UserAgentHash, s.IPPrefix,
		sql.NullString{String: s.DeviceID, Valid: s.DeviceID != ""},
		s.DeviceName, s.IPAddress, s.ExpiresAt, timeToNullTime(s.RevokedAt), s.CreatedAt,
	)
	return err
}

// GetByTokenHash returns the session for tokenHash, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.RefreshSession, error) {
	var (
		s        domain.RefreshSession
		deviceID sql.NullString
		revoked  sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM refresh_sessions WHERE token_hash = $1`, tokenHash).Scan(
		&s.ID, &s.UserID, &s.TokenHash, &s.UserAgentHash, &s.IPPrefix, &deviceID,
		&s.DeviceName, &s.IPAddress, &s.ExpiresAt, &revoked, &s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	s.DeviceID = deviceID.String
	s.RevokedAt = nullTimeToPtr(revoked)
	return &s, nil
}

// Rotate swaps the token hash of an active session, guarded on the old hash.
func (r *PostgresRepository) Rotate(ctx context.Context, id, oldHash, newHash string, expiresAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE refresh_sessions SET token_hash = $3, expires_at = $4
		 WHERE id = $1 AND token_hash = $2 AND revoked_at IS NULL`,
		id, oldHash, newHash, expiresAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// Revoke marks the session revoked. Revoking an already revoked session keeps the first timestamp.
func (r *PostgresRepository) Revoke(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE refresh_sessions SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`,
		id, r.now().UTC())
	return err
}

// RevokeAllByUser revokes every active session for userID.
func (r *PostgresRepository) RevokeAllByUser(ctx context.Context, userID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE refresh_sessions SET revoked_at = $2 WHERE user_id = $1 AND revoked_at IS NULL`,
		userID, r.now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteExpired deletes sessions whose expiry or revocation is older than before.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM refresh_sessions WHERE expires_at < $1 OR (revoked_at IS NOT NULL AND revoked_at < $1)`,
		before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func timeToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullTimeToPtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
