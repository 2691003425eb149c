package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RateLimitHook decides whether a request keyed by client identity may
// proceed. Enforcement policy lives outside this service; the default hook
// allows everything.
type RateLimitHook interface {
	Allow(key string) bool
}

// AllowAll is the default hook when no external limiter is plugged in.
type AllowAll struct{}

// Allow always permits the request.
func (AllowAll) Allow(string) bool { return true }

// RateLimit consults the hook with the client IP and rejects with 429 when
// the hook denies.
func RateLimit(hook RateLimitHook) gin.HandlerFunc {
	if hook == nil {
		hook = AllowAll{}
	}
	return func(c *gin.Context) {
		if !hook.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":             "rate_limited",
				"error_description": "Too many requests.",
			})
			return
		}
		c.Next()
	}
}
