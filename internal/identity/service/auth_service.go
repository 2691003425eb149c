package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	membershipdomain "identity-platform/trustcore/internal/membership/domain"
	"identity-platform/trustcore/internal/security"
	sessiondomain "identity-platform/trustcore/internal/session/domain"
	"identity-platform/trustcore/internal/token"
	userdomain "identity-platform/trustcore/internal/user/domain"
)

// Sentinel errors for the auth service; handlers map them to HTTP codes.
// Login failures collapse into ErrInvalidCredentials so responses never
// reveal whether an email is registered.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account temporarily locked")
)

// UserRepo is the minimal user repository needed by the auth service.
type UserRepo interface {
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
	Create(ctx context.Context, u *userdomain.User) error
}

// MembershipRepo is the minimal membership repository needed by the auth service.
type MembershipRepo interface {
	GetMembershipByUserAndOrg(ctx context.Context, userID, orgID string) (*membershipdomain.Membership, error)
}

// SessionRepo is the minimal session repository needed for logout.
type SessionRepo interface {
	GetByRefreshJTI(ctx context.Context, jti string) (*sessiondomain.Session, error)
}

// EventRecorder records security-relevant events. Best-effort.
type EventRecorder interface {
	LogEvent(ctx context.Context, orgID, userID, action, resource, metadata string)
}

// AuthService implements password login with lockout, federated
// provisioning, and logout on top of the token service.
type AuthService struct {
	users       UserRepo
	memberships MembershipRepo
	sessions    SessionRepo
	hasher      *security.Hasher
	tokens      *token.Service
	lockout     *Lockout
	events      EventRecorder
	logger      *zap.Logger
}

// NewAuthService returns an AuthService with the given dependencies.
func NewAuthService(
	users UserRepo,
	memberships MembershipRepo,
	sessions SessionRepo,
	hasher *security.Hasher,
	tokens *token.Service,
	lockout *Lockout,
	events EventRecorder,
	logger *zap.Logger,
) *AuthService {
	return &AuthService{
		users:       users,
		memberships: memberships,
		sessions:    sessions,
		hasher:      hasher,
		tokens:      tokens,
		lockout:     lockout,
		events:      events,
		logger:      logger,
	}
}

// LoginResult holds the issued pair and the resolved principal.
type LoginResult struct {
	Pair   *token.Pair
	UserID string
	OrgID  string
}

// Login authenticates with email/password scoped to an org, enforces the
// lockout counter, and issues a session under a fresh token family.
func (s *AuthService) Login(ctx context.Context, email, password, orgID, ipAddress string) (*LoginResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	orgID = strings.TrimSpace(orgID)
	if email == "" || password == "" || orgID == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil || user.Status != userdomain.UserStatusActive {
		return nil, ErrInvalidCredentials
	}
	locked, err := s.lockout.Locked(ctx, user.ID)
	if err != nil {
		s.logger.Warn("lockout check failed", zap.Error(err), zap.String("user_id", user.ID))
	}
	if locked {
		s.recordEvent(ctx, orgID, user.ID, "login_locked_out", "user:"+user.ID, ipAddress)
		return nil, ErrAccountLocked
	}
	if err := s.hasher.Compare(user.PasswordHash, []byte(password)); err != nil {
		if err := s.lockout.RecordFailure(ctx, user.ID); err != nil {
			s.logger.Warn("lockout record failed", zap.Error(err), zap.String("user_id", user.ID))
		}
		s.recordEvent(ctx, orgID, user.ID, "login_failed", "user:"+user.ID, ipAddress)
		return nil, ErrInvalidCredentials
	}
	membership, err := s.memberships.GetMembershipByUserAndOrg(ctx, user.ID, orgID)
	if err != nil {
		return nil, err
	}
	if membership == nil || !membership.Active() {
		return nil, ErrInvalidCredentials
	}
	if err := s.lockout.Reset(ctx, user.ID); err != nil {
		s.logger.Warn("lockout reset failed", zap.Error(err), zap.String("user_id", user.ID))
	}

	pair, _, err := s.tokens.IssueSession(ctx, token.IssueParams{
		UserID:    user.ID,
		Email:     user.Email,
		OrgID:     orgID,
		IPAddress: ipAddress,
	})
	if err != nil {
		return nil, err
	}
	s.recordEvent(ctx, orgID, user.ID, "login", "user:"+user.ID, ipAddress)
	return &LoginResult{Pair: pair, UserID: user.ID, OrgID: orgID}, nil
}

// ProvisionFederated accepts a normalized SSO record and returns the matching
// user, creating one on first sight. Assertion parsing happens upstream; this
// service only consumes the already-verified provisioning data.
func (s *AuthService) ProvisionFederated(ctx context.Context, data userdomain.ProvisioningData) (*userdomain.User, error) {
	email := strings.TrimSpace(strings.ToLower(data.Email))
	if email == "" {
		return nil, errors.New("provisioning: email is required")
	}
	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	now := time.Now().UTC()
	user := &userdomain.User{
		ID:        uuid.New().String(),
		Email:     email,
		FirstName: strings.TrimSpace(data.FirstName),
		LastName:  strings.TrimSpace(data.LastName),
		Status:    userdomain.UserStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := user.Validate(); err != nil {
		return nil, err
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	s.recordEvent(ctx, "", user.ID, "user_provisioned", "user:"+user.ID, email)
	return user, nil
}

// Logout revokes the session identified by the refresh token and blacklists
// its jtis. Invalid tokens are a no-op: logout is idempotent from the
// client's point of view.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.tokens.VerifyToken(refreshToken, token.TypeRefresh)
	if err != nil {
		return nil
	}
	sess, err := s.sessions.GetByRefreshJTI(ctx, claims.ID)
	if err != nil {
		return err
	}
	if sess == nil {
		return nil
	}
	if err := s.tokens.RevokeSession(ctx, sess); err != nil {
		return err
	}
	s.recordEvent(ctx, sess.OrgID, sess.UserID, "logout", "session:"+sess.ID, "")
	return nil
}

// LogoutAll revokes the whole token family behind the presented refresh
// token, logging the user out of every session descended from the same login.
func (s *AuthService) LogoutAll(ctx context.Context, refreshToken string) error {
	claims, err := s.tokens.VerifyToken(refreshToken, token.TypeRefresh)
	if err != nil {
		return nil
	}
	return s.tokens.RevokeTokenFamily(ctx, claims.Family, "logout_all")
}

func (s *AuthService) recordEvent(ctx context.Context, orgID, userID, action, resource, metadata string) {
	if s.events == nil {
		return
	}
	s.events.LogEvent(ctx, orgID, userID, action, resource, metadata)
}
