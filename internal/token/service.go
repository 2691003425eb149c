package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"identity-platform/trustcore/internal/cache"
	"identity-platform/trustcore/internal/security"
	sessiondomain "identity-platform/trustcore/internal/session/domain"
)

// SessionRepo is the minimal session repository needed by the token service.
type SessionRepo interface {
	GetByRefreshJTI(ctx context.Context, jti string) (*sessiondomain.Session, error)
	ListByFamily(ctx context.Context, family string) ([]*sessiondomain.Session, error)
	Create(ctx context.Context, s *sessiondomain.Session) error
	UpdateTokens(ctx context.Context, sessionID, prevRefreshJTI, accessJTI, refreshJTI string, expiresAt time.Time) (bool, error)
	Revoke(ctx context.Context, id string) error
	RevokeFamily(ctx context.Context, family string) error
	RevokeAllByUser(ctx context.Context, userID string) error
	UpdateLastSeen(ctx context.Context, id string, at time.Time) error
}

// EventRecorder records security-relevant events. Best-effort; implementations
// must not fail the calling request.
type EventRecorder interface {
	LogEvent(ctx context.Context, orgID, userID, action, resource, metadata string)
}

// Service mints, verifies, rotates, and revokes tokens. One long-lived
// instance is constructed at process start and shared by request handlers.
type Service struct {
	codec      *security.Codec
	store      cache.Store
	sessions   SessionRepo
	events     EventRecorder
	logger     *zap.Logger
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewService returns a token Service with the given dependencies. events may
// be nil; logger must not be.
func NewService(
	codec *security.Codec,
	store cache.Store,
	sessions SessionRepo,
	events EventRecorder,
	logger *zap.Logger,
	issuer, audience string,
	accessTTL, refreshTTL time.Duration,
) *Service {
	return &Service{
		codec:      codec,
		store:      store,
		sessions:   sessions,
		events:     events,
		logger:     logger,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// AccessTTL returns the configured access token lifetime.
func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

func blacklistKey(typ Type, jti string) string {
	return "blacklist:" + string(typ) + ":" + jti
}

func revokedUserKey(userID string) string {
	return "revoked_users:" + userID
}

// AccessParams describes an access token to mint.
type AccessParams struct {
	Subject string
	Email   string
	OrgID   string
	Scopes  []string
}

// CreateAccessToken mints a signed access token with a random jti. The
// caller persists the jti for future blacklisting; signing itself has no
// side effects.
func (s *Service) CreateAccessToken(p AccessParams) (token, jti string, expiresAt time.Time, err error) {
	jti, err = security.RandomID()
	if err != nil {
		return "", "", time.Time{}, err
	}
	now := s.now()
	expiresAt = now.Add(s.accessTTL)
	claims := &Claims{
		RegisteredClaims: s.registered(jti, p.Subject, now, expiresAt),
		Type:             TypeAccess,
		Email:            p.Email,
		OrgID:            p.OrgID,
		Scopes:           p.Scopes,
	}
	token, err = s.codec.Encode(claims)
	return token, jti, expiresAt, err
}

// CreateRefreshToken mints a signed refresh token. An empty family starts a
// new rotation chain (new login); a supplied family continues that chain.
func (s *Service) CreateRefreshToken(subject, family string) (token, jti, familyOut string, expiresAt time.Time, err error) {
	jti, err = security.RandomID()
	if err != nil {
		return "", "", "", time.Time{}, err
	}
	if family == "" {
		family, err = security.RandomID()
		if err != nil {
			return "", "", "", time.Time{}, err
		}
	}
	now := s.now()
	expiresAt = now.Add(s.refreshTTL)
	claims := &Claims{
		RegisteredClaims: s.registered(jti, subject, now, expiresAt),
		Type:             TypeRefresh,
		Family:           family,
	}
	token, err = s.codec.Encode(claims)
	return token, jti, family, expiresAt, err
}

// IDParams describes an OpenID Connect ID token to mint.
type IDParams struct {
	Subject     string
	Email       string
	Nonce       string
	AccessToken string // at_hash source; required
}

// CreateIDToken mints an ID token carrying nonce (when the authorize request
// supplied one) and at_hash binding it to the issued access token.
func (s *Service) CreateIDToken(p IDParams) (string, error) {
	jti, err := security.RandomID()
	if err != nil {
		return "", err
	}
	now := s.now()
	claims := &Claims{
		RegisteredClaims: s.registered(jti, p.Subject, now, now.Add(s.accessTTL)),
		Type:             TypeID,
		Email:            p.Email,
		Nonce:            p.Nonce,
		AtHash:           AccessTokenHash(p.AccessToken),
	}
	return s.codec.Encode(claims)
}

// VerifyToken decodes and validates signature, issuer, audience, expiry, and
// token type. It deliberately does not consult the revocation store: pure
// decode stays cheap and side-effect-free, and callers needing
// revocation-aware verification call IsRevoked explicitly.
func (s *Service) VerifyToken(tokenString string, expected Type) (*Claims, error) {
	var claims Claims
	if err := s.codec.Decode(tokenString, &claims); err != nil {
		if errors.Is(err, security.ErrExpiredToken) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if claims.Type != expected {
		return nil, ErrInvalidToken
	}
	if claims.Issuer != s.issuer {
		return nil, ErrInvalidToken
	}
	if !claimsHasAudience(&claims, s.audience) {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

// IsRevoked reports whether the token is blacklisted or its user revoked.
// Store failures are returned as ErrInfrastructure; callers fail closed.
func (s *Service) IsRevoked(ctx context.Context, typ Type, jti, userID string) (bool, error) {
	revoked, err := s.store.Exists(ctx, blacklistKey(typ, jti))
	if err != nil {
		return true, fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}
	if revoked {
		return true, nil
	}
	if userID != "" {
		revoked, err = s.store.Exists(ctx, revokedUserKey(userID))
		if err != nil {
			return true, fmt.Errorf("%w: %v", ErrInfrastructure, err)
		}
	}
	return revoked, nil
}

// BlacklistToken marks a jti unusable. Idempotent and safe to retry. ttl <= 0
// defaults to the full configured lifetime of the token type, which always
// covers the token's remaining validity.
func (s *Service) BlacklistToken(ctx context.Context, typ Type, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.accessTTL
		if typ == TypeRefresh {
			ttl = s.refreshTTL
		}
	}
	if err := s.store.Set(ctx, blacklistKey(typ, jti), "revoked", ttl); err != nil {
		return fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}
	return nil
}

// IssueParams describes a new login pair and session.
type IssueParams struct {
	UserID    string
	Email     string
	OrgID     string
	Scopes    []string
	IPAddress string
}

// IssueSession mints a new access/refresh pair under a fresh family and
// creates the Session row that tracks the pair's jtis.
func (s *Service) IssueSession(ctx context.Context, p IssueParams) (*Pair, *sessiondomain.Session, error) {
	refreshToken, refreshJTI, family, refreshExp, err := s.CreateRefreshToken(p.UserID, "")
	if err != nil {
		return nil, nil, err
	}
	accessToken, accessJTI, accessExp, err := s.CreateAccessToken(AccessParams{
		Subject: p.UserID, Email: p.Email, OrgID: p.OrgID, Scopes: p.Scopes,
	})
	if err != nil {
		return nil, nil, err
	}
	sess := &sessiondomain.Session{
		ID:              uuid.New().String(),
		UserID:          p.UserID,
		Email:           p.Email,
		OrgID:           p.OrgID,
		Scopes:          p.Scopes,
		AccessTokenJTI:  accessJTI,
		RefreshTokenJTI: refreshJTI,
		Family:          family,
		ExpiresAt:       refreshExp,
		IPAddress:       p.IPAddress,
		CreatedAt:       s.now(),
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, nil, err
	}
	pair := &Pair{
		AccessToken:      accessToken,
		AccessJTI:        accessJTI,
		AccessExpiresAt:  accessExp.Unix(),
		RefreshToken:     refreshToken,
		RefreshJTI:       refreshJTI,
		RefreshExpiresAt: refreshExp.Unix(),
		Family:           family,
	}
	return pair, sess, nil
}

// RefreshTokenPair rotates a refresh token: the presented token is verified,
// atomically retired, and replaced by a new pair in the same family.
//
// Two concurrent calls with the same token resolve to exactly one success:
// the blacklist claim is a check-and-set on the jti, so the loser observes
// the key already present, which is the theft signature. The entire family
// is then revoked before the failure is returned.
func (s *Service) RefreshTokenPair(ctx context.Context, refreshToken string) (*Pair, error) {
	claims, err := s.VerifyToken(refreshToken, TypeRefresh)
	if err != nil {
		return nil, err
	}
	jti := claims.ID
	userID := claims.Subject

	userRevoked, err := s.store.Exists(ctx, revokedUserKey(userID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}
	if userRevoked {
		return nil, ErrRevokedToken
	}

	remaining := claims.ExpiresAt.Time.Sub(s.now())
	if remaining <= 0 {
		return nil, ErrExpiredToken
	}
	claimed, err := s.store.SetNX(ctx, blacklistKey(TypeRefresh, jti), "rotated", remaining)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}
	if !claimed {
		// Replay of an already-rotated token. The cascade must complete even
		// though this caller only sees the failure.
		s.logger.Warn("refresh token reuse detected, revoking family",
			zap.String("user_id", userID), zap.String("family", claims.Family))
		if revErr := s.RevokeTokenFamily(ctx, claims.Family, "refresh token reuse"); revErr != nil {
			s.logger.Error("family revocation after reuse detection failed",
				zap.String("family", claims.Family), zap.Error(revErr))
		}
		s.recordEvent(ctx, claims.OrgID, userID, "theft_detected", "refresh_token", claims.Family)
		return nil, ErrTheftDetected
	}

	sess, err := s.sessions.GetByRefreshJTI(ctx, jti)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	if sess.Revoked() {
		return nil, ErrRevokedToken
	}
	if sess.Expired(s.now()) {
		return nil, ErrSessionExpired
	}

	newRefresh, newRefreshJTI, family, refreshExp, err := s.CreateRefreshToken(userID, claims.Family)
	if err != nil {
		return nil, err
	}
	// The rotated access token must carry the same grant the session was
	// issued with, not a stripped-down claim set.
	newAccess, newAccessJTI, accessExp, err := s.CreateAccessToken(AccessParams{
		Subject: userID, Email: sess.Email, OrgID: sess.OrgID, Scopes: sess.Scopes,
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.sessions.UpdateTokens(ctx, sess.ID, jti, newAccessJTI, newRefreshJTI, refreshExp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}
	if !updated {
		// The row moved under us (logout or revocation raced the rotation).
		// The presented token is already retired; fail closed.
		return nil, ErrRevokedToken
	}
	_ = s.sessions.UpdateLastSeen(ctx, sess.ID, s.now())

	s.recordEvent(ctx, sess.OrgID, userID, "refresh_rotated", "session", sess.ID)
	return &Pair{
		AccessToken:      newAccess,
		AccessJTI:        newAccessJTI,
		AccessExpiresAt:  accessExp.Unix(),
		RefreshToken:     newRefresh,
		RefreshJTI:       newRefreshJTI,
		RefreshExpiresAt: refreshExp.Unix(),
		Family:           family,
	}, nil
}

// RevokeTokenFamily revokes every session in a refresh-token family and
// blacklists both jtis of each. Used by theft detection and by explicit
// "log out everywhere". Idempotent: revoking an already-revoked family is a
// no-op. No transition leaves the revoked state.
func (s *Service) RevokeTokenFamily(ctx context.Context, family, reason string) error {
	sessions, err := s.sessions.ListByFamily(ctx, family)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}
	var firstErr error
	for _, sess := range sessions {
		if err := s.BlacklistToken(ctx, TypeAccess, sess.AccessTokenJTI, 0); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := s.BlacklistToken(ctx, TypeRefresh, sess.RefreshTokenJTI, 0); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.sessions.RevokeFamily(ctx, family); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}
	if len(sessions) > 0 {
		s.recordEvent(ctx, sessions[0].OrgID, sessions[0].UserID, "family_revoked", "session", reason)
	}
	return firstErr
}

// RevokeUser marks every credential of the user unusable: a revoked_users
// marker covers tokens the store has no jti entry for, and all sessions are
// revoked.
func (s *Service) RevokeUser(ctx context.Context, userID string) error {
	if err := s.store.Set(ctx, revokedUserKey(userID), "revoked", s.refreshTTL); err != nil {
		return fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}
	if err := s.sessions.RevokeAllByUser(ctx, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}
	s.recordEvent(ctx, "", userID, "user_revoked", "user", "")
	return nil
}

// RevokeSession revokes one session and blacklists its current jtis. Used by
// single-device logout.
func (s *Service) RevokeSession(ctx context.Context, sess *sessiondomain.Session) error {
	if err := s.BlacklistToken(ctx, TypeAccess, sess.AccessTokenJTI, 0); err != nil {
		return err
	}
	if err := s.BlacklistToken(ctx, TypeRefresh, sess.RefreshTokenJTI, 0); err != nil {
		return err
	}
	if err := s.sessions.Revoke(ctx, sess.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}
	return nil
}

func (s *Service) recordEvent(ctx context.Context, orgID, userID, action, resource, metadata string) {
	if s.events == nil {
		return
	}
	s.events.LogEvent(ctx, orgID, userID, action, resource, metadata)
}

func (s *Service) registered(jti, subject string, now, expiresAt time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        jti,
		Subject:   subject,
		Issuer:    s.issuer,
		Audience:  jwt.ClaimStrings{s.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
}

func claimsHasAudience(c *Claims, audience string) bool {
	for _, a := range c.Audience {
		if a == audience {
			return true
		}
	}
	return false
}
