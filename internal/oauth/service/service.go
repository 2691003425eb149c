package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"identity-platform/trustcore/internal/cache"
	"identity-platform/trustcore/internal/oauth/domain"
	"identity-platform/trustcore/internal/security"
	"identity-platform/trustcore/internal/token"
	userdomain "identity-platform/trustcore/internal/user/domain"
)

// ScopeOpenID triggers ID token issuance on code exchange.
const ScopeOpenID = "openid"

const (
	// DefaultCodeTTL bounds the authorize-to-exchange window.
	DefaultCodeTTL = 2 * time.Minute
	// DefaultConsentTTL bounds the authorize-to-consent window.
	DefaultConsentTTL = 10 * time.Minute
)

// ClientRepo is the minimal client registry needed by the authorization server.
type ClientRepo interface {
	GetByClientID(ctx context.Context, clientID string) (*domain.OAuthClient, error)
}

// UserRepo is the minimal user directory needed for token claims and userinfo.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
}

// EventRecorder records security-relevant events. Best-effort.
type EventRecorder interface {
	LogEvent(ctx context.Context, orgID, userID, action, resource, metadata string)
}

// Service implements the Authorization Code + PKCE protocol surface on top of
// the token service. Authorization codes and consent CSRF tokens live in the
// shared TTL store; both are single-use.
type Service struct {
	clients    ClientRepo
	users      UserRepo
	store      cache.Store
	tokens     *token.Service
	hasher     *security.Hasher
	events     EventRecorder
	logger     *zap.Logger
	codeTTL    time.Duration
	consentTTL time.Duration
	now        func() time.Time
}

// NewService returns an authorization server with the given dependencies.
func NewService(
	clients ClientRepo,
	users UserRepo,
	store cache.Store,
	tokens *token.Service,
	hasher *security.Hasher,
	events EventRecorder,
	logger *zap.Logger,
	codeTTL, consentTTL time.Duration,
) *Service {
	if codeTTL <= 0 {
		codeTTL = DefaultCodeTTL
	}
	if consentTTL <= 0 {
		consentTTL = DefaultConsentTTL
	}
	return &Service{
		clients:    clients,
		users:      users,
		store:      store,
		tokens:     tokens,
		hasher:     hasher,
		events:     events,
		logger:     logger,
		codeTTL:    codeTTL,
		consentTTL: consentTTL,
		now:        time.Now,
	}
}

func authCodeKey(code string) string { return "authcode:" + code }
func csrfKey(tok string) string      { return "csrf:" + tok }

// AuthorizeRequest carries the parameters of an authorization request. UserID
// identifies the already-authenticated end user; the protocol layer fills it
// from the bearer session, never from client input.
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Nonce               string
	UserID              string
	OrgID               string
}

// ConsentChallenge is returned by Authorize. The caller renders it to the
// user and posts it back, with the CSRF token, to Consent.
type ConsentChallenge struct {
	CSRFToken  string
	ClientID   string
	ClientName string
	Scopes     []string
}

// Authorize validates an authorization request and issues a single-use CSRF
// token binding the subsequent consent POST to the requesting user. Errors
// before redirect_uri validation are plain ProtocolErrors and must never be
// delivered by redirect.
func (s *Service) Authorize(ctx context.Context, req AuthorizeRequest) (*ConsentChallenge, error) {
	client, err := s.validateAuthorizeRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	csrf, err := security.RandomID()
	if err != nil {
		return nil, redirectErr(req.RedirectURI, req.State, CodeServerError, "failed to generate consent token")
	}
	if err := s.store.Set(ctx, csrfKey(csrf), req.UserID, s.consentTTL); err != nil {
		s.logger.Error("failed to store consent token", zap.Error(err))
		return nil, redirectErr(req.RedirectURI, req.State, CodeServerError, "failed to store consent token")
	}

	return &ConsentChallenge{
		CSRFToken:  csrf,
		ClientID:   client.ClientID,
		ClientName: client.Name,
		Scopes:     splitScope(req.Scope),
	}, nil
}

// Consent consumes the CSRF token, mints a single-use authorization code
// bound to the request, and returns the client redirect URL carrying the code
// and the caller's state.
func (s *Service) Consent(ctx context.Context, req AuthorizeRequest, csrfToken string) (string, error) {
	if _, err := s.validateAuthorizeRequest(ctx, req); err != nil {
		return "", err
	}

	if err := s.consumeConsentToken(ctx, csrfToken, req.UserID); err != nil {
		return "", err
	}

	code, err := security.RandomID()
	if err != nil {
		return "", redirectErr(req.RedirectURI, req.State, CodeServerError, "failed to generate authorization code")
	}
	state := domain.AuthorizationRequestState{
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		Scope:               req.Scope,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		Nonce:               req.Nonce,
		UserID:              req.UserID,
		OrgID:               req.OrgID,
		CreatedAt:           s.now().UTC(),
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return "", redirectErr(req.RedirectURI, req.State, CodeServerError, "failed to encode authorization state")
	}
	if err := s.store.Set(ctx, authCodeKey(code), string(raw), s.codeTTL); err != nil {
		s.logger.Error("failed to store authorization code", zap.Error(err))
		return "", redirectErr(req.RedirectURI, req.State, CodeServerError, "failed to store authorization code")
	}

	s.recordEvent(ctx, req.OrgID, req.UserID, "consent_granted", "oauth_client:"+req.ClientID, req.Scope)

	return buildRedirectURL(req.RedirectURI, code, req.State), nil
}

// consumeConsentToken enforces single use: the token must exist, must belong
// to the user, and exactly one concurrent consumer observes the delete.
func (s *Service) consumeConsentToken(ctx context.Context, csrfToken, userID string) error {
	if csrfToken == "" {
		return protocolErr(CodeAccessDenied, "missing consent token")
	}
	owner, ok, err := s.store.Get(ctx, csrfKey(csrfToken))
	if err != nil {
		s.logger.Error("consent token lookup failed", zap.Error(err))
		return protocolErr(CodeServerError, "consent token unavailable")
	}
	if !ok || owner != userID {
		return protocolErr(CodeAccessDenied, "invalid or expired consent token")
	}
	existed, err := s.store.Delete(ctx, csrfKey(csrfToken))
	if err != nil {
		s.logger.Error("consent token delete failed", zap.Error(err))
		return protocolErr(CodeServerError, "consent token unavailable")
	}
	if !existed {
		return protocolErr(CodeAccessDenied, "consent token already used")
	}
	return nil
}

// validateAuthorizeRequest checks the client, redirect_uri, response_type,
// requested scopes, and PKCE parameters. Client and redirect_uri failures
// return non-redirectable errors.
func (s *Service) validateAuthorizeRequest(ctx context.Context, req AuthorizeRequest) (*domain.OAuthClient, error) {
	if req.ClientID == "" {
		return nil, protocolErr(CodeInvalidRequest, "client_id is required")
	}
	if req.RedirectURI == "" {
		return nil, protocolErr(CodeInvalidRequest, "redirect_uri is required")
	}
	if req.UserID == "" {
		return nil, protocolErr(CodeAccessDenied, "authorization requires an authenticated user")
	}
	client, err := s.clients.GetByClientID(ctx, req.ClientID)
	if err != nil {
		s.logger.Error("client lookup failed", zap.Error(err), zap.String("client_id", req.ClientID))
		return nil, protocolErr(CodeServerError, "client lookup failed")
	}
	if client == nil {
		return nil, protocolErr(CodeInvalidRequest, "unknown client")
	}
	if !client.RedirectURIRegistered(req.RedirectURI) {
		s.logger.Warn("redirect_uri not registered",
			zap.String("client_id", req.ClientID),
			zap.String("redirect_uri", req.RedirectURI))
		return nil, protocolErr(CodeInvalidRequest, "redirect_uri does not match registered URIs")
	}

	// From here errors may be delivered on the validated redirect_uri.
	if req.ResponseType != "code" {
		return nil, redirectErr(req.RedirectURI, req.State, CodeUnsupportedResponseType, "only response_type=code is supported")
	}
	for _, scope := range splitScope(req.Scope) {
		if !client.ScopeAllowed(scope) {
			return nil, redirectErr(req.RedirectURI, req.State, CodeInvalidScope, "scope not allowed for client: "+scope)
		}
	}
	if req.CodeChallengeMethod != "" && req.CodeChallengeMethod != PKCEMethodS256 {
		return nil, redirectErr(req.RedirectURI, req.State, CodeInvalidRequest, "code_challenge_method must be S256")
	}
	if req.CodeChallenge != "" && req.CodeChallengeMethod == "" {
		return nil, redirectErr(req.RedirectURI, req.State, CodeInvalidRequest, "code_challenge_method is required with code_challenge")
	}
	if client.Public() && req.CodeChallenge == "" {
		return nil, redirectErr(req.RedirectURI, req.State, CodeInvalidRequest, "code_challenge is required for public clients")
	}
	return client, nil
}

// TokenResponse is the token endpoint success body.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// ExchangeRequest carries the authorization_code grant parameters.
type ExchangeRequest struct {
	ClientID     string
	ClientSecret string
	Code         string
	RedirectURI  string
	CodeVerifier string
	IPAddress    string
}

// Exchange redeems an authorization code for a token pair. The code is
// claimed by delete before any token is minted, so a concurrent double spend
// succeeds at most once.
func (s *Service) Exchange(ctx context.Context, req ExchangeRequest) (*TokenResponse, error) {
	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}
	if req.Code == "" {
		return nil, protocolErr(CodeInvalidRequest, "code is required")
	}

	raw, ok, err := s.store.Get(ctx, authCodeKey(req.Code))
	if err != nil {
		s.logger.Error("authorization code lookup failed", zap.Error(err))
		return nil, protocolErr(CodeServerError, "authorization code unavailable")
	}
	if !ok {
		return nil, protocolErr(CodeInvalidGrant, "authorization code is invalid or expired")
	}
	existed, err := s.store.Delete(ctx, authCodeKey(req.Code))
	if err != nil {
		s.logger.Error("authorization code delete failed", zap.Error(err))
		return nil, protocolErr(CodeServerError, "authorization code unavailable")
	}
	if !existed {
		// Lost the claim to a concurrent exchange of the same code.
		return nil, protocolErr(CodeInvalidGrant, "authorization code already used")
	}

	var state domain.AuthorizationRequestState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, protocolErr(CodeServerError, "malformed authorization state")
	}
	if state.ClientID != client.ClientID {
		return nil, protocolErr(CodeInvalidGrant, "authorization code was issued to a different client")
	}
	if state.RedirectURI != req.RedirectURI {
		return nil, protocolErr(CodeInvalidGrant, "redirect_uri does not match the authorization request")
	}
	if state.CodeChallenge != "" {
		if !verifyPKCE(state.CodeChallenge, req.CodeVerifier) {
			return nil, protocolErr(CodeInvalidGrant, "code_verifier does not match code_challenge")
		}
	} else if req.CodeVerifier != "" {
		return nil, protocolErr(CodeInvalidGrant, "code_verifier provided but no code_challenge was registered")
	}

	user, err := s.users.GetByID(ctx, state.UserID)
	if err != nil {
		s.logger.Error("user lookup failed", zap.Error(err), zap.String("user_id", state.UserID))
		return nil, protocolErr(CodeServerError, "user lookup failed")
	}
	if user == nil || user.Status != userdomain.UserStatusActive {
		return nil, protocolErr(CodeInvalidGrant, "user is not active")
	}

	scopes := splitScope(state.Scope)
	pair, _, err := s.tokens.IssueSession(ctx, token.IssueParams{
		UserID:    user.ID,
		Email:     user.Email,
		OrgID:     state.OrgID,
		Scopes:    scopes,
		IPAddress: req.IPAddress,
	})
	if err != nil {
		s.logger.Error("token issuance failed", zap.Error(err))
		return nil, protocolErr(CodeServerError, "token issuance failed")
	}

	resp := &TokenResponse{
		AccessToken:  pair.AccessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.tokens.AccessTTL().Seconds()),
		RefreshToken: pair.RefreshToken,
		Scope:        state.Scope,
	}
	if hasScope(scopes, ScopeOpenID) {
		idToken, err := s.tokens.CreateIDToken(token.IDParams{
			Subject:     user.ID,
			Email:       user.Email,
			Nonce:       state.Nonce,
			AccessToken: pair.AccessToken,
		})
		if err != nil {
			s.logger.Error("id token issuance failed", zap.Error(err))
			return nil, protocolErr(CodeServerError, "token issuance failed")
		}
		resp.IDToken = idToken
	}

	s.recordEvent(ctx, state.OrgID, user.ID, "code_exchanged", "oauth_client:"+client.ClientID, state.Scope)
	return resp, nil
}

// RefreshRequest carries the refresh_token grant parameters.
type RefreshRequest struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// Refresh rotates a refresh token via the token service's rotation path,
// inheriting its reuse and theft detection.
func (s *Service) Refresh(ctx context.Context, req RefreshRequest) (*TokenResponse, error) {
	if _, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret); err != nil {
		return nil, err
	}
	if req.RefreshToken == "" {
		return nil, protocolErr(CodeInvalidRequest, "refresh_token is required")
	}
	pair, err := s.tokens.RefreshTokenPair(ctx, req.RefreshToken)
	if err != nil {
		return nil, err
	}
	return &TokenResponse{
		AccessToken:  pair.AccessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.tokens.AccessTTL().Seconds()),
		RefreshToken: pair.RefreshToken,
	}, nil
}

// authenticateClient resolves the client and, for confidential clients,
// verifies the presented secret against the stored bcrypt hash.
func (s *Service) authenticateClient(ctx context.Context, clientID, clientSecret string) (*domain.OAuthClient, error) {
	if clientID == "" {
		return nil, protocolErr(CodeInvalidRequest, "client_id is required")
	}
	client, err := s.clients.GetByClientID(ctx, clientID)
	if err != nil {
		s.logger.Error("client lookup failed", zap.Error(err), zap.String("client_id", clientID))
		return nil, protocolErr(CodeServerError, "client lookup failed")
	}
	if client == nil {
		return nil, protocolErr(CodeInvalidClient, "unknown client")
	}
	if client.Public() {
		return client, nil
	}
	if clientSecret == "" {
		return nil, protocolErr(CodeInvalidClient, "client secret is required")
	}
	if err := s.hasher.Compare(client.SecretHash, []byte(clientSecret)); err != nil {
		s.logger.Warn("client secret mismatch", zap.String("client_id", clientID))
		return nil, protocolErr(CodeInvalidClient, "invalid client credentials")
	}
	return client, nil
}

// UserInfo returns the claims for a valid, non-revoked access token, gated by
// the token's granted scopes.
func (s *Service) UserInfo(ctx context.Context, accessToken string) (map[string]any, error) {
	claims, err := s.tokens.VerifyToken(accessToken, token.TypeAccess)
	if err != nil {
		return nil, err
	}
	revoked, err := s.tokens.IsRevoked(ctx, token.TypeAccess, claims.ID, claims.Subject)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, token.ErrRevokedToken
	}

	info := map[string]any{"sub": claims.Subject}
	if hasScope(claims.Scopes, "email") && claims.Email != "" {
		info["email"] = claims.Email
	}
	if claims.OrgID != "" {
		info["org_id"] = claims.OrgID
	}
	if hasScope(claims.Scopes, "profile") {
		user, err := s.users.GetByID(ctx, claims.Subject)
		if err != nil {
			s.logger.Error("user lookup failed", zap.Error(err), zap.String("user_id", claims.Subject))
			return nil, err
		}
		if user != nil {
			if user.FirstName != "" {
				info["given_name"] = user.FirstName
			}
			if user.LastName != "" {
				info["family_name"] = user.LastName
			}
			if name := strings.TrimSpace(user.FirstName + " " + user.LastName); name != "" {
				info["name"] = name
			}
		}
	}
	return info, nil
}

func (s *Service) recordEvent(ctx context.Context, orgID, userID, action, resource, metadata string) {
	if s.events == nil {
		return
	}
	s.events.LogEvent(ctx, orgID, userID, action, resource, metadata)
}

func splitScope(scope string) []string {
	return strings.Fields(scope)
}

func hasScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}
