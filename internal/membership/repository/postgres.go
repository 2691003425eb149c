package repository

import (
	"context"
	"database/sql"
	"errors"

	"identity-platform/trustcore/internal/membership/domain"
)

// PostgresRepository implements Repository on Postgres.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a membership repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetMembershipByUserAndOrg returns the membership for (user, org), or nil if none exists.
func (r *PostgresRepository) GetMembershipByUserAndOrg(ctx context.Context, userID, orgID string) (*domain.Membership, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, org_id, role_id, status, created_at
		FROM memberships WHERE user_id = $1 AND org_id = $2`, userID, orgID)
	var m domain.Membership
	var status string
	err := row.Scan(&m.ID, &m.UserID, &m.OrgID, &m.RoleID, &status, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.Status = domain.MembershipStatus(status)
	return &m, nil
}

// GetRole returns the role for roleID with its permission grants, or nil if none exists.
func (r *PostgresRepository) GetRole(ctx context.Context, roleID string) (*domain.Role, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, org_id, name, parent_role_id, created_at
		FROM roles WHERE id = $1`, roleID)
	var role domain.Role
	var parent sql.NullString
	err := row.Scan(&role.ID, &role.OrgID, &role.Name, &parent, &role.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	role.ParentRoleID = parent.String

	rows, err := r.db.QueryContext(ctx, `
		SELECT permission FROM role_permissions WHERE role_id = $1 ORDER BY permission`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		role.Permissions = append(role.Permissions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &role, nil
}
