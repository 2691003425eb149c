// Package handler exposes readiness and liveness endpoints for Kubernetes,
// load balancers, and CI.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger reports whether a backing dependency is reachable (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// CachePinger reports whether the TTL store is reachable.
type CachePinger interface {
	Ping(ctx context.Context) error
}

// Handler serves health checks over HTTP.
type Handler struct {
	db    Pinger
	cache CachePinger
}

// New returns a health handler. Either dependency may be nil; a nil
// dependency is skipped rather than reported unhealthy.
func New(db Pinger, cache CachePinger) *Handler {
	return &Handler{db: db, cache: cache}
}

// Healthz reports readiness: 200 when every configured dependency answers a
// ping within the deadline, 503 otherwise.
func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	healthy := true
	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			checks["database"] = "unreachable"
			healthy = false
		} else {
			checks["database"] = "ok"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			checks["cache"] = "unreachable"
			healthy = false
		} else {
			checks["cache"] = "ok"
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"status": statusWord(healthy), "checks": checks})
}

func statusWord(healthy bool) string {
	if healthy {
		return "ok"
	}
	return "degraded"
}
