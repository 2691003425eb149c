package repository

import (
	"context"
	"time"

	"identity-platform/trustcore/internal/session/domain"
)

// Repository defines persistence for sessions. Get methods return (nil, nil)
// when no row matches; errors are database failures only.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	// GetByRefreshJTI returns the session currently holding the given refresh
	// token jti, or nil.
	GetByRefreshJTI(ctx context.Context, jti string) (*domain.Session, error)
	// ListByFamily returns every session in the refresh-token family,
	// including revoked ones.
	ListByFamily(ctx context.Context, family string) ([]*domain.Session, error)
	Create(ctx context.Context, s *domain.Session) error
	// UpdateTokens replaces the session's jtis and expiry only if the stored
	// refresh jti still equals prevRefreshJTI. Returns false when the row was
	// not updated (concurrent rotation already advanced it), so callers never
	// lose an update on the jti fields.
	UpdateTokens(ctx context.Context, sessionID, prevRefreshJTI, accessJTI, refreshJTI string, expiresAt time.Time) (bool, error)
	Revoke(ctx context.Context, id string) error
	// RevokeFamily marks every session in the family revoked.
	RevokeFamily(ctx context.Context, family string) error
	RevokeAllByUser(ctx context.Context, userID string) error
	UpdateLastSeen(ctx context.Context, id string, at time.Time) error
}
