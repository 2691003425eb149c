package repository

import (
	"context"

	"identity-platform/trustcore/internal/oauth/domain"
)

// Repository is the persistence interface for registered OAuth2 clients.
// The client registry is read-only to the authorization server; Create exists
// for seeding and admin tooling.
type Repository interface {
	GetByClientID(ctx context.Context, clientID string) (*domain.OAuthClient, error)
	Create(ctx context.Context, c *domain.OAuthClient) error
}
