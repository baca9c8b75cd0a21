package repository

import (
	"context"

	"edge-guard/backend/internal/account/domain"
)

// Repository defines persistence for accounts. Lookups return (nil, nil) when no row matches.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*domain.Account, error)
	GetByUsername(ctx context.Context, username string) (*domain.Account, error)
	Create(ctx context.Context, a *domain.Account) error
}
