package repository

import (
	"context"
	"database/sql"

	"identity-platform/trustcore/internal/audit/domain"
)

// PostgresRepository implements Repository on Postgres.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a security event repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the event. The event must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, e *domain.SecurityEvent) error {
	uid := sql.NullString{String: e.UserID, Valid: e.UserID != ""}
	meta := sql.NullString{String: e.Metadata, Valid: e.Metadata != ""}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO security_events (id, org_id, user_id, action, resource, ip, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.OrgID, uid, e.Action, e.Resource, e.IP, meta, e.CreatedAt)
	return err
}

// ListByOrg returns events for the given org, newest first, paginated by
// limit and offset.
func (r *PostgresRepository) ListByOrg(ctx context.Context, orgID string, limit, offset int32) ([]*domain.SecurityEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, org_id, user_id, action, resource, ip, metadata, created_at
		FROM security_events WHERE org_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, orgID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.SecurityEvent
	for rows.Next() {
		var e domain.SecurityEvent
		var uid, meta sql.NullString
		if err := rows.Scan(&e.ID, &e.OrgID, &uid, &e.Action, &e.Resource, &e.IP, &meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.UserID = uid.String
		e.Metadata = meta.String
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
