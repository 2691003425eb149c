package token

import (
	"errors"
	"fmt"
)

// Sentinel errors for token verification and rotation. Handlers map them to
// HTTP status codes; callers must handle expired, revoked, and malformed
// distinctly rather than treating all failures alike.
var (
	// ErrInvalidToken covers bad signature, wrong type, and malformed claims.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is distinct from invalid so clients can silently refresh.
	ErrExpiredToken = errors.New("expired token")
	// ErrRevokedToken means the credential was blacklisted or its user/family
	// revoked. Always logged as a security-relevant event.
	ErrRevokedToken = errors.New("revoked token")
	// ErrTheftDetected is a revocation subtype: a rotated refresh token was
	// replayed, and the whole family has been revoked as a side effect.
	ErrTheftDetected = fmt.Errorf("refresh token reuse detected: %w", ErrRevokedToken)
	// ErrSessionNotFound means no session holds the presented refresh token.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired means the session exists but is past its expiry.
	ErrSessionExpired = errors.New("session expired")
	// ErrInfrastructure surfaces store failures. Security checks never map it
	// to "not revoked": callers fail closed.
	ErrInfrastructure = errors.New("infrastructure failure")
)
