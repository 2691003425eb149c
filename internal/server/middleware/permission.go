package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// PermissionChecker decides whether a principal may perform an action on a
// resource type within an org. A false answer is always safe.
type PermissionChecker interface {
	CheckPermission(ctx context.Context, userID, orgID, resourceType, action string) bool
}

// RequirePermission gates a route on an RBAC check. It must run after
// RequireBearer so claims are present; requests whose token carries no org,
// or whose org does not match the :org_id path parameter, are rejected
// before the engine is consulted.
func RequirePermission(engine PermissionChecker, resource, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := GetClaims(c)
		if !ok || claims.Subject == "" || claims.OrgID == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		if orgID := c.Param("org_id"); orgID != "" && orgID != claims.OrgID {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		if !engine.CheckPermission(c.Request.Context(), claims.Subject, claims.OrgID, resource, action) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
