package repository

import (
	"context"
	"database/sql"
	"errors"

	"identity-platform/trustcore/internal/oauth/domain"
)

// PostgresRepository implements Repository on Postgres.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an OAuth client repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByClientID returns the client with its registered redirect URIs and
// allowed scopes, or nil if none exists.
func (r *PostgresRepository) GetByClientID(ctx context.Context, clientID string) (*domain.OAuthClient, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT client_id, name, secret_hash, created_at
		FROM oauth_clients WHERE client_id = $1`, clientID)
	var c domain.OAuthClient
	var secret sql.NullString
	err := row.Scan(&c.ClientID, &c.Name, &secret, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.SecretHash = secret.String

	rows, err := r.db.QueryContext(ctx, `
		SELECT redirect_uri FROM oauth_client_redirect_uris WHERE client_id = $1 ORDER BY redirect_uri`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return nil, err
		}
		c.RedirectURIs = append(c.RedirectURIs, uri)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	scopeRows, err := r.db.QueryContext(ctx, `
		SELECT scope FROM oauth_client_scopes WHERE client_id = $1 ORDER BY scope`, clientID)
	if err != nil {
		return nil, err
	}
	defer scopeRows.Close()
	for scopeRows.Next() {
		var s string
		if err := scopeRows.Scan(&s); err != nil {
			return nil, err
		}
		c.Scopes = append(c.Scopes, s)
	}
	if err := scopeRows.Err(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Create inserts the client and its child rows in a single transaction.
func (r *PostgresRepository) Create(ctx context.Context, c *domain.OAuthClient) error {
	if err := c.Validate(); err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var secret sql.NullString
	if c.SecretHash != "" {
		secret = sql.NullString{String: c.SecretHash, Valid: true}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO oauth_clients (client_id, name, secret_hash, created_at)
		VALUES ($1, $2, $3, $4)`,
		c.ClientID, c.Name, secret, c.CreatedAt)
	if err != nil {
		return err
	}
	for _, uri := range c.RedirectURIs {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO oauth_client_redirect_uris (client_id, redirect_uri)
			VALUES ($1, $2)`, c.ClientID, uri)
		if err != nil {
			return err
		}
	}
	for _, scope := range c.Scopes {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO oauth_client_scopes (client_id, scope)
			VALUES ($1, $2)`, c.ClientID, scope)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}
