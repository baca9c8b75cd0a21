package repository

import (
	"context"
	"time"

	"edge-guard/backend/internal/session/domain"
)

// Repository defines persistence for refresh sessions.
type Repository interface {
	Create(ctx context.Context, s *domain.RefreshSession) error
	// GetByTokenHash returns the session whose token hash matches, or nil if none.
	GetByTokenHash(ctx context.Context, tokenHash string) (*domain.RefreshSession, error)
	// Rotate replaces the token hash and expiry of an active session. Returns false when the session
	// is missing or already revoked, so a concurrent rotation of the same token can only win once.
	Rotate(ctx context.Context, id, oldHash, newHash string, expiresAt time.Time) (bool, error)
	Revoke(ctx context.Context, id string) error
	// RevokeAllByUser revokes every active session of userID and returns how many were revoked.
	RevokeAllByUser(ctx context.Context, userID int64) (int64, error)
	// DeleteExpired removes sessions that expired or were revoked before the cutoff.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
