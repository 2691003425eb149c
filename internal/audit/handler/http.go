// Package handler exposes the security-event trail over HTTP for org
// operators. Access is gated by the RBAC middleware upstream.
package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	auditrepo "identity-platform/trustcore/internal/audit/repository"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type Handler struct {
	repo   auditrepo.Repository
	logger *zap.Logger
}

func NewHandler(repo auditrepo.Repository, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

type eventResponse struct {
	ID        string `json:"id"`
	OrgID     string `json:"org_id"`
	UserID    string `json:"user_id,omitempty"`
	Action    string `json:"action"`
	Resource  string `json:"resource"`
	IP        string `json:"ip"`
	Metadata  string `json:"metadata,omitempty"`
	CreatedAt string `json:"created_at"`
}

// ListEvents returns the org's security events, newest first.
// GET /orgs/:org_id/events?limit=&offset=
func (h *Handler) ListEvents(c *gin.Context) {
	orgID := c.Param("org_id")
	if orgID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "org_id is required"})
		return
	}
	limit := parsePositive(c.Query("limit"), defaultPageSize)
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := parsePositive(c.Query("offset"), 0)

	events, err := h.repo.ListByOrg(c.Request.Context(), orgID, limit, offset)
	if err != nil {
		h.logger.Error("list security events", zap.String("org_id", orgID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, eventResponse{
			ID:        e.ID,
			OrgID:     e.OrgID,
			UserID:    e.UserID,
			Action:    e.Action,
			Resource:  e.Resource,
			IP:        e.IP,
			Metadata:  e.Metadata,
			CreatedAt: e.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	c.JSON(http.StatusOK, gin.H{"events": out})
}

func parsePositive(s string, fallback int32) int32 {
	if s == "" {
		return fallback
	}
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil || n < 0 {
		return fallback
	}
	return int32(n)
}
