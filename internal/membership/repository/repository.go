package repository

import (
	"context"

	"identity-platform/trustcore/internal/membership/domain"
)

// Repository defines read access to memberships and roles. The core never
// writes memberships; role administration is an external concern.
type Repository interface {
	// GetMembershipByUserAndOrg returns the membership, or nil if none exists.
	GetMembershipByUserAndOrg(ctx context.Context, userID, orgID string) (*domain.Membership, error)
	// GetRole returns the role, or nil if none exists.
	GetRole(ctx context.Context, roleID string) (*domain.Role, error)
}
