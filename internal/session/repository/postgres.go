package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"identity-platform/trustcore/internal/session/domain"
)

// PostgresRepository implements Repository on Postgres.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const sessionColumns = `id, user_id, email, org_id, scopes, access_token_jti, refresh_token_jti, refresh_token_family,
	expires_at, revoked_at, last_seen_at, ip_address, created_at`

// GetByID returns the session for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

// GetByRefreshJTI returns the session currently holding jti, or nil.
func (r *PostgresRepository) GetByRefreshJTI(ctx context.Context, jti string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE refresh_token_jti = $1`, jti)
	return scanSession(row)
}

// ListByFamily returns every session in the refresh-token family, including revoked ones.
func (r *PostgresRepository) ListByFamily(ctx context.Context, family string) ([]*domain.Session, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE refresh_token_family = $1`, family)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		s, err := scanSessionRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Create persists the session. The session must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, email, org_id, scopes, access_token_jti, refresh_token_jti, refresh_token_family,
			expires_at, revoked_at, last_seen_at, ip_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		s.ID, s.UserID, s.Email, s.OrgID, strings.Join(s.Scopes, " "),
		s.AccessTokenJTI, s.RefreshTokenJTI, s.Family,
		s.ExpiresAt, timeToNull(s.RevokedAt), timeToNull(s.LastSeenAt),
		sql.NullString{String: s.IPAddress, Valid: s.IPAddress != ""}, s.CreatedAt,
	)
	return err
}

// UpdateTokens replaces the session's jtis and expiry with a compare-and-set
// on the previous refresh jti. Returns false when another rotation already
// advanced the row.
func (r *PostgresRepository) UpdateTokens(ctx context.Context, sessionID, prevRefreshJTI, accessJTI, refreshJTI string, expiresAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET access_token_jti = $3, refresh_token_jti = $4, expires_at = $5
		WHERE id = $1 AND refresh_token_jti = $2 AND revoked_at IS NULL`,
		sessionID, prevRefreshJTI, accessJTI, refreshJTI, expiresAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Revoke marks the session with the given id as revoked.
func (r *PostgresRepository) Revoke(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`,
		id, time.Now().UTC(),
	)
	return err
}

// RevokeFamily marks every session in the family revoked. Idempotent.
func (r *PostgresRepository) RevokeFamily(ctx context.Context, family string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET revoked_at = $2 WHERE refresh_token_family = $1 AND revoked_at IS NULL`,
		family, time.Now().UTC(),
	)
	return err
}

// RevokeAllByUser revokes all sessions for the given user.
func (r *PostgresRepository) RevokeAllByUser(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET revoked_at = $2 WHERE user_id = $1 AND revoked_at IS NULL`,
		userID, time.Now().UTC(),
	)
	return err
}

// UpdateLastSeen sets the session's last-seen timestamp.
func (r *PostgresRepository) UpdateLastSeen(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE sessions SET last_seen_at = $2 WHERE id = $1`, id, at)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInto(sc scanner) (*domain.Session, error) {
	var s domain.Session
	var revoked, lastSeen sql.NullTime
	var ip sql.NullString
	var scopes string
	err := sc.Scan(&s.ID, &s.UserID, &s.Email, &s.OrgID, &scopes, &s.AccessTokenJTI, &s.RefreshTokenJTI, &s.Family,
		&s.ExpiresAt, &revoked, &lastSeen, &ip, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	s.Scopes = strings.Fields(scopes)
	s.RevokedAt = nullToTime(revoked)
	s.LastSeenAt = nullToTime(lastSeen)
	s.IPAddress = ip.String
	return &s, nil
}

func scanSession(row *sql.Row) (*domain.Session, error) {
	s, err := scanInto(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

func scanSessionRows(rows *sql.Rows) (*domain.Session, error) {
	return scanInto(rows)
}

func timeToNull(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullToTime(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	return &n.Time
}
