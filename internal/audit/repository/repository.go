package repository

import (
	"context"

	"identity-platform/trustcore/internal/audit/domain"
)

// Repository defines persistence for security events.
type Repository interface {
	Create(ctx context.Context, e *domain.SecurityEvent) error
	ListByOrg(ctx context.Context, orgID string, limit, offset int32) ([]*domain.SecurityEvent, error)
}
