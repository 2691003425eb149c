package repository

import (
	"context"

	"identity-platform/trustcore/internal/user/domain"
)

// Repository defines persistence for users. Get methods return (nil, nil)
// when no row matches; errors are database failures only.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
}
