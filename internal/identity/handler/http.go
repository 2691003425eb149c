package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"identity-platform/trustcore/internal/identity/service"
)

// Handler exposes password login and logout over HTTP.
type Handler struct {
	auth   *service.AuthService
	logger *zap.Logger
}

// New returns an identity handler backed by the given auth service.
func New(auth *service.AuthService, logger *zap.Logger) *Handler {
	return &Handler{auth: auth, logger: logger}
}

// Login authenticates with email/password scoped to an org and returns a
// token pair.
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		OrgID    string `json:"org_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid payload."})
		return
	}

	res, err := h.auth.Login(c.Request.Context(), req.Email, req.Password, req.OrgID, c.ClientIP())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAccountLocked):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "account_locked", "error_description": "Too many failed attempts. Try again later."})
		case errors.Is(err, service.ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials", "error_description": "Invalid email, password, or organization."})
		default:
			h.logger.Error("login failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Internal error."})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token":  res.Pair.AccessToken,
		"token_type":    "Bearer",
		"expires_at":    res.Pair.AccessExpiresAt,
		"refresh_token": res.Pair.RefreshToken,
		"user_id":       res.UserID,
		"org_id":        res.OrgID,
	})
}

// Logout revokes the session behind the presented refresh token.
func (h *Handler) Logout(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid payload."})
		return
	}
	if err := h.auth.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		h.logger.Error("logout failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Internal error."})
		return
	}
	c.Status(http.StatusNoContent)
}

// LogoutAll revokes every session in the token family behind the presented
// refresh token.
func (h *Handler) LogoutAll(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid payload."})
		return
	}
	if err := h.auth.LogoutAll(c.Request.Context(), req.RefreshToken); err != nil {
		h.logger.Error("logout all failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Internal error."})
		return
	}
	c.Status(http.StatusNoContent)
}
