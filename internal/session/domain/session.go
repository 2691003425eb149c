package domain

import "time"

// Session is one authenticated device/login. The stored jtis are replaced on
// every successful refresh rotation; Family is invariant for the whole
// rotation chain and is the unit of cascading revocation.
type Session struct {
	ID              string
	UserID          string
	Email           string
	OrgID           string
	Scopes          []string // granted at issuance, carried through every rotation
	AccessTokenJTI  string
	RefreshTokenJTI string
	Family          string
	ExpiresAt       time.Time
	RevokedAt       *time.Time // nil when not revoked
	LastSeenAt      *time.Time
	IPAddress       string
	CreatedAt       time.Time
}

// Revoked reports whether the session has been revoked.
func (s *Session) Revoked() bool {
	return s != nil && s.RevokedAt != nil
}

// Expired reports whether the session is past its expiry at the given time.
func (s *Session) Expired(now time.Time) bool {
	return s != nil && now.After(s.ExpiresAt)
}
