package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"identity-platform/trustcore/internal/token"
)

const claimsKey = "accessClaims"

// Auth validates the Authorization bearer token and attaches its claims to
// the request context. Revoked tokens are rejected here, so handlers behind
// this middleware never see a blacklisted credential.
type Auth struct {
	Tokens *token.Service
	Logger *zap.Logger
}

// RequireBearer ensures the request carries a valid, non-revoked access token.
func (m *Auth) RequireBearer(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if header == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Authorization header required."})
		return
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Bearer token required."})
		return
	}
	claims, err := m.Tokens.VerifyToken(parts[1], token.TypeAccess)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Invalid access token."})
		return
	}
	revoked, err := m.Tokens.IsRevoked(c.Request.Context(), token.TypeAccess, claims.ID, claims.Subject)
	if err != nil {
		m.Logger.Error("revocation check failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "server_error", "error_description": "Revocation check unavailable."})
		return
	}
	if revoked {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Token has been revoked."})
		return
	}
	c.Set(claimsKey, claims)
	c.Next()
}

// GetClaims exposes the verified access token claims to handlers.
func GetClaims(c *gin.Context) (*token.Claims, bool) {
	value, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := value.(*token.Claims)
	return claims, ok
}
