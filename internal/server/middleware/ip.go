package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
)

type ipCtxKey struct{}

// ClientIP copies the resolved client IP into the request context so layers
// below the handlers (audit logging in particular) can record it without
// depending on gin.
func ClientIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := context.WithValue(c.Request.Context(), ipCtxKey{}, c.ClientIP())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// ClientIPFromContext returns the IP stored by ClientIP, or "unknown".
func ClientIPFromContext(ctx context.Context) string {
	if ip, ok := ctx.Value(ipCtxKey{}).(string); ok && ip != "" {
		return ip
	}
	return "unknown"
}
