package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"identity-platform/trustcore/internal/cache"
	"identity-platform/trustcore/internal/oauth/domain"
	"identity-platform/trustcore/internal/security"
	sessiondomain "identity-platform/trustcore/internal/session/domain"
	"identity-platform/trustcore/internal/token"
	userdomain "identity-platform/trustcore/internal/user/domain"
)

type fakeClientRepo struct {
	clients map[string]*domain.OAuthClient
	err     error
}

func (r *fakeClientRepo) GetByClientID(ctx context.Context, clientID string) (*domain.OAuthClient, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.clients[clientID], nil
}

type fakeUserRepo struct {
	users map[string]*userdomain.User
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id string) (*userdomain.User, error) {
	return r.users[id], nil
}

type memSessionRepo struct {
	mu sync.Mutex
	m  map[string]*sessiondomain.Session
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{m: make(map[string]*sessiondomain.Session)}
}

func (r *memSessionRepo) GetByRefreshJTI(ctx context.Context, jti string) (*sessiondomain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.m {
		if s.RefreshTokenJTI == jti {
			s2 := *s
			return &s2, nil
		}
	}
	return nil, nil
}

func (r *memSessionRepo) ListByFamily(ctx context.Context, family string) ([]*sessiondomain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*sessiondomain.Session
	for _, s := range r.m {
		if s.Family == family {
			s2 := *s
			out = append(out, &s2)
		}
	}
	return out, nil
}

func (r *memSessionRepo) Create(ctx context.Context, s *sessiondomain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s2 := *s
	r.m[s.ID] = &s2
	return nil
}

func (r *memSessionRepo) UpdateTokens(ctx context.Context, sessionID, prevRefreshJTI, accessJTI, refreshJTI string, expiresAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.m[sessionID]
	if !ok || s.RevokedAt != nil || s.RefreshTokenJTI != prevRefreshJTI {
		return false, nil
	}
	s.AccessTokenJTI = accessJTI
	s.RefreshTokenJTI = refreshJTI
	s.ExpiresAt = expiresAt
	return true, nil
}

func (r *memSessionRepo) Revoke(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.m[id]; ok && s.RevokedAt == nil {
		t := time.Now().UTC()
		s.RevokedAt = &t
	}
	return nil
}

func (r *memSessionRepo) RevokeFamily(ctx context.Context, family string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := time.Now().UTC()
	for _, s := range r.m {
		if s.Family == family && s.RevokedAt == nil {
			s.RevokedAt = &t
		}
	}
	return nil
}

func (r *memSessionRepo) RevokeAllByUser(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := time.Now().UTC()
	for _, s := range r.m {
		if s.UserID == userID && s.RevokedAt == nil {
			s.RevokedAt = &t
		}
	}
	return nil
}

func (r *memSessionRepo) UpdateLastSeen(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.m[id]; ok {
		s.LastSeenAt = &at
	}
	return nil
}

type testHarness struct {
	svc     *Service
	tokens  *token.Service
	store   *cache.MemoryStore
	clients *fakeClientRepo
	hasher  *security.Hasher
}

const (
	testRedirectURI = "https://app.example.com/callback"
	testUserID      = "user-1"
	testOrgID       = "org-1"
)

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	keys, err := security.NewTestKeyProvider()
	if err != nil {
		t.Fatalf("test key provider: %v", err)
	}
	store := cache.NewMemoryStore()
	sessions := newMemSessionRepo()
	tokens := token.NewService(
		security.NewCodec(keys), store, sessions, nil, zap.NewNop(),
		"test-issuer", "test-audience", 15*time.Minute, 24*time.Hour,
	)
	hasher := security.NewHasher(4)
	secretHash, err := hasher.Hash([]byte("confidential-secret"))
	if err != nil {
		t.Fatalf("hash secret: %v", err)
	}
	clients := &fakeClientRepo{clients: map[string]*domain.OAuthClient{
		"public-app": {
			ClientID:     "public-app",
			Name:         "Public App",
			RedirectURIs: []string{testRedirectURI},
		},
		"server-app": {
			ClientID:     "server-app",
			Name:         "Server App",
			SecretHash:   secretHash,
			RedirectURIs: []string{testRedirectURI},
		},
		"scoped-app": {
			ClientID:     "scoped-app",
			Name:         "Scoped App",
			RedirectURIs: []string{testRedirectURI},
			Scopes:       []string{"openid", "email"},
		},
	}}
	users := &fakeUserRepo{users: map[string]*userdomain.User{
		testUserID: {
			ID:        testUserID,
			Email:     "alice@example.com",
			FirstName: "Alice",
			LastName:  "Smith",
			Status:    userdomain.UserStatusActive,
		},
	}}
	svc := NewService(clients, users, store, tokens, hasher, nil, zap.NewNop(), time.Minute, time.Minute)
	return &testHarness{svc: svc, tokens: tokens, store: store, clients: clients, hasher: hasher}
}

func baseAuthorizeRequest(verifier string) AuthorizeRequest {
	return AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            "public-app",
		RedirectURI:         testRedirectURI,
		Scope:               "openid email profile",
		State:               "client-state",
		CodeChallenge:       ComputePKCEChallenge(verifier),
		CodeChallengeMethod: PKCEMethodS256,
		Nonce:               "nonce-123",
		UserID:              testUserID,
		OrgID:               testOrgID,
	}
}

// authorizeAndConsent runs the two-step front channel and returns the code
// extracted from the redirect URL.
func authorizeAndConsent(t *testing.T, h *testHarness, req AuthorizeRequest) string {
	t.Helper()
	ctx := context.Background()
	challenge, err := h.svc.Authorize(ctx, req)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	redirect, err := h.svc.Consent(ctx, req, challenge.CSRFToken)
	if err != nil {
		t.Fatalf("Consent: %v", err)
	}
	u, err := url.Parse(redirect)
	if err != nil {
		t.Fatalf("parse redirect: %v", err)
	}
	if got := u.Query().Get("state"); got != req.State {
		t.Fatalf("redirect state = %q, want %q", got, req.State)
	}
	code := u.Query().Get("code")
	if code == "" {
		t.Fatal("redirect is missing code")
	}
	return code
}

func TestAuthorizationCodeFlow(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	verifier := GeneratePKCEVerifier()
	req := baseAuthorizeRequest(verifier)
	code := authorizeAndConsent(t, h, req)

	resp, err := h.svc.Exchange(ctx, ExchangeRequest{
		ClientID:     "public-app",
		Code:         code,
		RedirectURI:  testRedirectURI,
		CodeVerifier: verifier,
	})
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if resp.TokenType != "Bearer" {
		t.Errorf("token_type = %q, want Bearer", resp.TokenType)
	}
	if resp.ExpiresIn != int64((15 * time.Minute).Seconds()) {
		t.Errorf("expires_in = %d", resp.ExpiresIn)
	}
	if resp.RefreshToken == "" {
		t.Error("missing refresh_token")
	}
	claims, err := h.tokens.VerifyToken(resp.AccessToken, token.TypeAccess)
	if err != nil {
		t.Fatalf("issued access token does not verify: %v", err)
	}
	if claims.Subject != testUserID || claims.OrgID != testOrgID {
		t.Errorf("access claims subject/org = %q/%q", claims.Subject, claims.OrgID)
	}
	if !strings.Contains(resp.Scope, "openid") {
		t.Errorf("scope = %q", resp.Scope)
	}

	idClaims, err := h.tokens.VerifyToken(resp.IDToken, token.TypeID)
	if err != nil {
		t.Fatalf("issued id token does not verify: %v", err)
	}
	if idClaims.Nonce != "nonce-123" {
		t.Errorf("id token nonce = %q", idClaims.Nonce)
	}
	if idClaims.AtHash != token.AccessTokenHash(resp.AccessToken) {
		t.Error("id token at_hash does not bind to the access token")
	}
}

func TestAuthorize_Validation(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	verifier := GeneratePKCEVerifier()

	t.Run("unknown client never redirects", func(t *testing.T) {
		req := baseAuthorizeRequest(verifier)
		req.ClientID = "nope"
		_, err := h.svc.Authorize(ctx, req)
		var rerr *RedirectableError
		if errors.As(err, &rerr) {
			t.Fatal("unknown client must not produce a redirectable error")
		}
		var perr *ProtocolError
		if !errors.As(err, &perr) || perr.Code != CodeInvalidRequest {
			t.Fatalf("err = %v, want invalid_request", err)
		}
	})

	t.Run("unregistered redirect_uri never redirects", func(t *testing.T) {
		req := baseAuthorizeRequest(verifier)
		req.RedirectURI = "https://evil.example.com/callback"
		_, err := h.svc.Authorize(ctx, req)
		var rerr *RedirectableError
		if errors.As(err, &rerr) {
			t.Fatal("unregistered redirect_uri must not produce a redirectable error")
		}
	})

	t.Run("redirect_uri is matched exactly", func(t *testing.T) {
		req := baseAuthorizeRequest(verifier)
		req.RedirectURI = testRedirectURI + "/"
		if _, err := h.svc.Authorize(ctx, req); err == nil {
			t.Fatal("trailing slash variant must be rejected")
		}
	})

	t.Run("unsupported response_type redirects with error", func(t *testing.T) {
		req := baseAuthorizeRequest(verifier)
		req.ResponseType = "token"
		_, err := h.svc.Authorize(ctx, req)
		var rerr *RedirectableError
		if !errors.As(err, &rerr) || rerr.Code != CodeUnsupportedResponseType {
			t.Fatalf("err = %v, want redirectable unsupported_response_type", err)
		}
		loc := ErrorRedirectURL(rerr)
		u, _ := url.Parse(loc)
		if u.Query().Get("error") != CodeUnsupportedResponseType || u.Query().Get("state") != "client-state" {
			t.Errorf("error redirect = %q", loc)
		}
	})

	t.Run("public client requires PKCE", func(t *testing.T) {
		req := baseAuthorizeRequest(verifier)
		req.CodeChallenge = ""
		req.CodeChallengeMethod = ""
		_, err := h.svc.Authorize(ctx, req)
		var rerr *RedirectableError
		if !errors.As(err, &rerr) || rerr.Code != CodeInvalidRequest {
			t.Fatalf("err = %v, want redirectable invalid_request", err)
		}
	})

	t.Run("plain challenge method is rejected", func(t *testing.T) {
		req := baseAuthorizeRequest(verifier)
		req.CodeChallenge = verifier
		req.CodeChallengeMethod = "plain"
		if _, err := h.svc.Authorize(ctx, req); err == nil {
			t.Fatal("plain method must be rejected")
		}
	})

	t.Run("scope outside client allow-list", func(t *testing.T) {
		req := baseAuthorizeRequest(verifier)
		req.ClientID = "scoped-app"
		req.Scope = "openid payments"
		_, err := h.svc.Authorize(ctx, req)
		var rerr *RedirectableError
		if !errors.As(err, &rerr) || rerr.Code != CodeInvalidScope {
			t.Fatalf("err = %v, want invalid_scope", err)
		}
	})

	t.Run("unauthenticated request is denied", func(t *testing.T) {
		req := baseAuthorizeRequest(verifier)
		req.UserID = ""
		_, err := h.svc.Authorize(ctx, req)
		var perr *ProtocolError
		if !errors.As(err, &perr) || perr.Code != CodeAccessDenied {
			t.Fatalf("err = %v, want access_denied", err)
		}
	})
}

func TestConsent_CSRFBinding(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	verifier := GeneratePKCEVerifier()
	req := baseAuthorizeRequest(verifier)

	challenge, err := h.svc.Authorize(ctx, req)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	if _, err := h.svc.Consent(ctx, req, "forged-token"); err == nil {
		t.Fatal("forged consent token must be rejected")
	}

	otherUser := req
	otherUser.UserID = "user-2"
	if _, err := h.svc.Consent(ctx, otherUser, challenge.CSRFToken); err == nil {
		t.Fatal("consent token bound to a different user must be rejected")
	}

	if _, err := h.svc.Consent(ctx, req, challenge.CSRFToken); err != nil {
		t.Fatalf("Consent: %v", err)
	}
	_, err = h.svc.Consent(ctx, req, challenge.CSRFToken)
	var perr *ProtocolError
	if !errors.As(err, &perr) || perr.Code != CodeAccessDenied {
		t.Fatalf("reused consent token: err = %v, want access_denied", err)
	}
}

func TestExchange_SingleUseCode(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	verifier := GeneratePKCEVerifier()
	code := authorizeAndConsent(t, h, baseAuthorizeRequest(verifier))

	ex := ExchangeRequest{
		ClientID:     "public-app",
		Code:         code,
		RedirectURI:  testRedirectURI,
		CodeVerifier: verifier,
	}
	if _, err := h.svc.Exchange(ctx, ex); err != nil {
		t.Fatalf("first exchange: %v", err)
	}
	_, err := h.svc.Exchange(ctx, ex)
	var perr *ProtocolError
	if !errors.As(err, &perr) || perr.Code != CodeInvalidGrant {
		t.Fatalf("second exchange: err = %v, want invalid_grant", err)
	}
}

func TestExchange_PKCE(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	verifier := GeneratePKCEVerifier()

	t.Run("wrong verifier fails and burns the code", func(t *testing.T) {
		code := authorizeAndConsent(t, h, baseAuthorizeRequest(verifier))
		_, err := h.svc.Exchange(ctx, ExchangeRequest{
			ClientID:     "public-app",
			Code:         code,
			RedirectURI:  testRedirectURI,
			CodeVerifier: GeneratePKCEVerifier(),
		})
		var perr *ProtocolError
		if !errors.As(err, &perr) || perr.Code != CodeInvalidGrant {
			t.Fatalf("err = %v, want invalid_grant", err)
		}
		// The failed attempt consumed the code; the right verifier is too late.
		_, err = h.svc.Exchange(ctx, ExchangeRequest{
			ClientID:     "public-app",
			Code:         code,
			RedirectURI:  testRedirectURI,
			CodeVerifier: verifier,
		})
		if !errors.As(err, &perr) || perr.Code != CodeInvalidGrant {
			t.Fatalf("retry after failed PKCE: err = %v, want invalid_grant", err)
		}
	})

	t.Run("missing verifier fails", func(t *testing.T) {
		code := authorizeAndConsent(t, h, baseAuthorizeRequest(verifier))
		_, err := h.svc.Exchange(ctx, ExchangeRequest{
			ClientID:    "public-app",
			Code:        code,
			RedirectURI: testRedirectURI,
		})
		var perr *ProtocolError
		if !errors.As(err, &perr) || perr.Code != CodeInvalidGrant {
			t.Fatalf("err = %v, want invalid_grant", err)
		}
	})
}

func TestExchange_BindingChecks(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	verifier := GeneratePKCEVerifier()

	t.Run("redirect_uri must match the authorization request", func(t *testing.T) {
		code := authorizeAndConsent(t, h, baseAuthorizeRequest(verifier))
		_, err := h.svc.Exchange(ctx, ExchangeRequest{
			ClientID:     "public-app",
			Code:         code,
			RedirectURI:  "https://app.example.com/other",
			CodeVerifier: verifier,
		})
		var perr *ProtocolError
		if !errors.As(err, &perr) || perr.Code != CodeInvalidGrant {
			t.Fatalf("err = %v, want invalid_grant", err)
		}
	})

	t.Run("code issued to another client is rejected", func(t *testing.T) {
		code := authorizeAndConsent(t, h, baseAuthorizeRequest(verifier))
		_, err := h.svc.Exchange(ctx, ExchangeRequest{
			ClientID:     "server-app",
			ClientSecret: "confidential-secret",
			Code:         code,
			RedirectURI:  testRedirectURI,
			CodeVerifier: verifier,
		})
		var perr *ProtocolError
		if !errors.As(err, &perr) || perr.Code != CodeInvalidGrant {
			t.Fatalf("err = %v, want invalid_grant", err)
		}
	})
}

func TestConfidentialClientAuthentication(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	verifier := GeneratePKCEVerifier()
	req := baseAuthorizeRequest(verifier)
	req.ClientID = "server-app"
	req.CodeChallenge = ""
	req.CodeChallengeMethod = ""

	code := authorizeAndConsent(t, h, req)

	_, err := h.svc.Exchange(ctx, ExchangeRequest{
		ClientID:     "server-app",
		ClientSecret: "wrong",
		Code:         code,
		RedirectURI:  testRedirectURI,
	})
	var perr *ProtocolError
	if !errors.As(err, &perr) || perr.Code != CodeInvalidClient {
		t.Fatalf("wrong secret: err = %v, want invalid_client", err)
	}

	resp, err := h.svc.Exchange(ctx, ExchangeRequest{
		ClientID:     "server-app",
		ClientSecret: "confidential-secret",
		Code:         code,
		RedirectURI:  testRedirectURI,
	})
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if resp.AccessToken == "" {
		t.Error("missing access token")
	}
}

func TestRefreshGrant(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	verifier := GeneratePKCEVerifier()
	code := authorizeAndConsent(t, h, baseAuthorizeRequest(verifier))

	first, err := h.svc.Exchange(ctx, ExchangeRequest{
		ClientID:     "public-app",
		Code:         code,
		RedirectURI:  testRedirectURI,
		CodeVerifier: verifier,
	})
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}

	second, err := h.svc.Refresh(ctx, RefreshRequest{
		ClientID:     "public-app",
		RefreshToken: first.RefreshToken,
	})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Error("refresh grant must rotate the refresh token")
	}
	if _, err := h.tokens.VerifyToken(second.AccessToken, token.TypeAccess); err != nil {
		t.Errorf("rotated access token does not verify: %v", err)
	}
	// The rotated token keeps the original grant: userinfo still answers the
	// email and profile claims consented to at authorization time.
	info, err := h.svc.UserInfo(ctx, second.AccessToken)
	if err != nil {
		t.Fatalf("UserInfo after refresh: %v", err)
	}
	if info["sub"] != testUserID {
		t.Errorf("sub after refresh = %v", info["sub"])
	}
	if info["email"] != "alice@example.com" {
		t.Errorf("email after refresh = %v, want alice@example.com", info["email"])
	}

	// Replaying the consumed refresh token trips reuse detection.
	_, err = h.svc.Refresh(ctx, RefreshRequest{
		ClientID:     "public-app",
		RefreshToken: first.RefreshToken,
	})
	if !errors.Is(err, token.ErrRevokedToken) {
		t.Fatalf("replay: err = %v, want revoked", err)
	}
}

func TestUserInfo(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	verifier := GeneratePKCEVerifier()
	code := authorizeAndConsent(t, h, baseAuthorizeRequest(verifier))
	resp, err := h.svc.Exchange(ctx, ExchangeRequest{
		ClientID:     "public-app",
		Code:         code,
		RedirectURI:  testRedirectURI,
		CodeVerifier: verifier,
	})
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}

	info, err := h.svc.UserInfo(ctx, resp.AccessToken)
	if err != nil {
		t.Fatalf("UserInfo: %v", err)
	}
	if info["sub"] != testUserID {
		t.Errorf("sub = %v", info["sub"])
	}
	if info["email"] != "alice@example.com" {
		t.Errorf("email = %v", info["email"])
	}
	if info["given_name"] != "Alice" || info["family_name"] != "Smith" {
		t.Errorf("profile claims = %v/%v", info["given_name"], info["family_name"])
	}

	t.Run("scopes gate claims", func(t *testing.T) {
		req := baseAuthorizeRequest(verifier)
		req.Scope = "openid"
		code := authorizeAndConsent(t, h, req)
		resp, err := h.svc.Exchange(ctx, ExchangeRequest{
			ClientID:     "public-app",
			Code:         code,
			RedirectURI:  testRedirectURI,
			CodeVerifier: verifier,
		})
		if err != nil {
			t.Fatalf("Exchange: %v", err)
		}
		info, err := h.svc.UserInfo(ctx, resp.AccessToken)
		if err != nil {
			t.Fatalf("UserInfo: %v", err)
		}
		if _, ok := info["email"]; ok {
			t.Error("email claim present without email scope")
		}
		if _, ok := info["given_name"]; ok {
			t.Error("profile claim present without profile scope")
		}
	})

	t.Run("revoked token is rejected", func(t *testing.T) {
		claims, err := h.tokens.VerifyToken(resp.AccessToken, token.TypeAccess)
		if err != nil {
			t.Fatalf("VerifyToken: %v", err)
		}
		if err := h.tokens.BlacklistToken(ctx, token.TypeAccess, claims.ID, 0); err != nil {
			t.Fatalf("BlacklistToken: %v", err)
		}
		if _, err := h.svc.UserInfo(ctx, resp.AccessToken); !errors.Is(err, token.ErrRevokedToken) {
			t.Fatalf("err = %v, want revoked", err)
		}
	})

	t.Run("garbage token is rejected", func(t *testing.T) {
		if _, err := h.svc.UserInfo(ctx, "garbage"); err == nil {
			t.Fatal("garbage token must be rejected")
		}
	})
}
