package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"identity-platform/trustcore/internal/oauth/service"
	"identity-platform/trustcore/internal/server/middleware"
	"identity-platform/trustcore/internal/token"
)

// Handler exposes the OAuth2 protocol surface over HTTP.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

// New returns an OAuth handler backed by the given authorization server.
func New(svc *service.Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// authorizeRequest binds the authorize/consent form fields.
type authorizeRequest struct {
	ResponseType        string `form:"response_type"`
	ClientID            string `form:"client_id"`
	RedirectURI         string `form:"redirect_uri"`
	Scope               string `form:"scope"`
	State               string `form:"state"`
	CodeChallenge       string `form:"code_challenge"`
	CodeChallengeMethod string `form:"code_challenge_method"`
	Nonce               string `form:"nonce"`
	CSRFToken           string `form:"csrf_token"`
}

func (r *authorizeRequest) toService(userID, orgID string) service.AuthorizeRequest {
	return service.AuthorizeRequest{
		ResponseType:        r.ResponseType,
		ClientID:            r.ClientID,
		RedirectURI:         r.RedirectURI,
		Scope:               r.Scope,
		State:               r.State,
		CodeChallenge:       r.CodeChallenge,
		CodeChallengeMethod: r.CodeChallengeMethod,
		Nonce:               r.Nonce,
		UserID:              userID,
		OrgID:               orgID,
	}
}

// Authorize validates an authorization request for the authenticated user and
// returns the consent challenge the client must post back.
func (h *Handler) Authorize(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Authentication required."})
		return
	}
	var req authorizeRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": service.CodeInvalidRequest, "error_description": "Invalid payload."})
		return
	}

	challenge, err := h.svc.Authorize(c.Request.Context(), req.toService(claims.Subject, claims.OrgID))
	if err != nil {
		h.respondAuthorizeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"csrf_token":  challenge.CSRFToken,
		"client_id":   challenge.ClientID,
		"client_name": challenge.ClientName,
		"scopes":      challenge.Scopes,
	})
}

// Consent consumes the consent token and redirects back to the client with an
// authorization code.
func (h *Handler) Consent(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Authentication required."})
		return
	}
	var req authorizeRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": service.CodeInvalidRequest, "error_description": "Invalid payload."})
		return
	}

	redirect, err := h.svc.Consent(c.Request.Context(), req.toService(claims.Subject, claims.OrgID), req.CSRFToken)
	if err != nil {
		h.respondAuthorizeError(c, err)
		return
	}
	c.Redirect(http.StatusFound, redirect)
}

// tokenRequest binds the token endpoint form fields.
type tokenRequest struct {
	GrantType    string `form:"grant_type"`
	Code         string `form:"code"`
	RedirectURI  string `form:"redirect_uri"`
	ClientID     string `form:"client_id"`
	ClientSecret string `form:"client_secret"`
	CodeVerifier string `form:"code_verifier"`
	RefreshToken string `form:"refresh_token"`
}

// Token handles the authorization_code and refresh_token grants.
func (h *Handler) Token(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": service.CodeInvalidRequest, "error_description": "Invalid payload."})
		return
	}

	var (
		resp *service.TokenResponse
		err  error
	)
	switch req.GrantType {
	case "authorization_code":
		resp, err = h.svc.Exchange(c.Request.Context(), service.ExchangeRequest{
			ClientID:     req.ClientID,
			ClientSecret: req.ClientSecret,
			Code:         req.Code,
			RedirectURI:  req.RedirectURI,
			CodeVerifier: req.CodeVerifier,
			IPAddress:    c.ClientIP(),
		})
	case "refresh_token":
		resp, err = h.svc.Refresh(c.Request.Context(), service.RefreshRequest{
			ClientID:     req.ClientID,
			ClientSecret: req.ClientSecret,
			RefreshToken: req.RefreshToken,
		})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": service.CodeUnsupportedGrantType, "error_description": "Unsupported grant_type."})
		return
	}
	if err != nil {
		h.respondTokenError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, resp)
}

// UserInfo returns the claims for the presented access token, gated by its
// granted scopes. Revocation is checked inside the service.
func (h *Handler) UserInfo(c *gin.Context) {
	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Bearer token required."})
		return
	}
	info, err := h.svc.UserInfo(c.Request.Context(), parts[1])
	if err != nil {
		c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Invalid access token."})
		return
	}
	c.JSON(http.StatusOK, info)
}

// respondAuthorizeError delivers validated-redirect errors to the client's
// redirect_uri and everything else as a direct error response.
func (h *Handler) respondAuthorizeError(c *gin.Context, err error) {
	var rerr *service.RedirectableError
	if errors.As(err, &rerr) {
		c.Redirect(http.StatusFound, service.ErrorRedirectURL(rerr))
		return
	}
	var perr *service.ProtocolError
	if errors.As(err, &perr) {
		status := http.StatusBadRequest
		if perr.Code == service.CodeServerError {
			status = http.StatusInternalServerError
		}
		c.JSON(status, gin.H{"error": perr.Code, "error_description": perr.Description})
		return
	}
	h.logger.Error("authorize failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": service.CodeServerError, "error_description": "Internal error."})
}

// respondTokenError maps service and token-layer failures onto the OAuth
// error body. Revoked and reused refresh tokens surface as invalid_grant.
func (h *Handler) respondTokenError(c *gin.Context, err error) {
	var perr *service.ProtocolError
	if errors.As(err, &perr) {
		status := http.StatusBadRequest
		switch perr.Code {
		case service.CodeInvalidClient:
			status = http.StatusUnauthorized
			c.Header("WWW-Authenticate", `Basic realm="oauth"`)
		case service.CodeServerError:
			status = http.StatusInternalServerError
		}
		c.JSON(status, gin.H{"error": perr.Code, "error_description": perr.Description})
		return
	}
	switch {
	case errors.Is(err, token.ErrTheftDetected):
		c.JSON(http.StatusBadRequest, gin.H{"error": service.CodeInvalidGrant, "error_description": "Refresh token reuse detected; all sessions for this token family were revoked."})
	case errors.Is(err, token.ErrRevokedToken),
		errors.Is(err, token.ErrExpiredToken),
		errors.Is(err, token.ErrInvalidToken),
		errors.Is(err, token.ErrSessionNotFound),
		errors.Is(err, token.ErrSessionExpired):
		c.JSON(http.StatusBadRequest, gin.H{"error": service.CodeInvalidGrant, "error_description": "Refresh token is invalid, expired, or revoked."})
	default:
		h.logger.Error("token grant failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": service.CodeServerError, "error_description": "Internal error."})
	}
}
