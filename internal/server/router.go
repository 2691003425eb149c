// Package server wires the HTTP surface: routing, auth middleware, discovery
// documents, and graceful shutdown.
package server

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	audithandler "identity-platform/trustcore/internal/audit/handler"
	healthhandler "identity-platform/trustcore/internal/health/handler"
	identityhandler "identity-platform/trustcore/internal/identity/handler"
	oauthhandler "identity-platform/trustcore/internal/oauth/handler"
	"identity-platform/trustcore/internal/server/middleware"
)

// ServiceName identifies this process in traces and metrics.
const ServiceName = "trustcore"

// Deps holds the handlers and middleware the router mounts.
type Deps struct {
	OAuth     *oauthhandler.Handler
	Identity  *identityhandler.Handler
	Health    *healthhandler.Handler
	Audit     *audithandler.Handler
	WellKnown *WellKnown
	Auth      *middleware.Auth
	RBAC      middleware.PermissionChecker
	// RateLimit decides request admission. Nil means allow-all; enforcement
	// policy is owned by infrastructure in front of this service.
	RateLimit middleware.RateLimitHook
	Logger    *zap.Logger
}

// NewRouter wires Gin routes and middleware.
func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.ClientIP())
	r.Use(middleware.RateLimit(deps.RateLimit))
	r.Use(otelgin.Middleware(ServiceName))
	r.HandleMethodNotAllowed = true
	r.ForwardedByClientIP = true

	r.GET("/healthz", deps.Health.Healthz)
	r.GET("/.well-known/jwks.json", deps.WellKnown.JWKS)
	r.GET("/.well-known/openid-configuration", deps.WellKnown.OpenIDConfig)

	auth := r.Group("/auth")
	{
		auth.POST("/login", deps.Identity.Login)
		auth.POST("/logout", deps.Identity.Logout)
		auth.POST("/logout-all", deps.Identity.LogoutAll)
	}

	oauth := r.Group("/oauth")
	{
		oauth.POST("/authorize", deps.Auth.RequireBearer, deps.OAuth.Authorize)
		oauth.POST("/consent", deps.Auth.RequireBearer, deps.OAuth.Consent)
		oauth.POST("/token", deps.OAuth.Token)
		oauth.GET("/userinfo", deps.OAuth.UserInfo)
	}

	orgs := r.Group("/orgs", deps.Auth.RequireBearer)
	{
		orgs.GET("/:org_id/events",
			middleware.RequirePermission(deps.RBAC, "audit", "read"),
			deps.Audit.ListEvents)
	}

	return r
}
