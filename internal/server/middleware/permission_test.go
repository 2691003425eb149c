package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"identity-platform/trustcore/internal/token"
)

// fakeChecker allows one (user, org, resource, action) tuple.
type fakeChecker struct {
	userID, orgID, resource, action string
	calls                           int
}

func (f *fakeChecker) CheckPermission(_ context.Context, userID, orgID, resourceType, action string) bool {
	f.calls++
	return userID == f.userID && orgID == f.orgID && resourceType == f.resource && action == f.action
}

func permissionRouter(checker PermissionChecker, claims *token.Claims) *gin.Engine {
	r := gin.New()
	r.GET("/orgs/:org_id/events", func(c *gin.Context) {
		if claims != nil {
			c.Set(claimsKey, claims)
		}
		c.Next()
	}, RequirePermission(checker, "audit", "read"), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func accessClaims(sub, org string) *token.Claims {
	return &token.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: sub},
		Type:             token.TypeAccess,
		OrgID:            org,
	}
}

func getEvents(r *gin.Engine, orgID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/orgs/"+orgID+"/events", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequirePermission(t *testing.T) {
	t.Run("grant passes", func(t *testing.T) {
		checker := &fakeChecker{userID: "user-1", orgID: "org-1", resource: "audit", action: "read"}
		r := permissionRouter(checker, accessClaims("user-1", "org-1"))
		if w := getEvents(r, "org-1"); w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		if checker.calls != 1 {
			t.Errorf("engine consulted %d times, want 1", checker.calls)
		}
	})

	t.Run("denied by engine", func(t *testing.T) {
		checker := &fakeChecker{userID: "someone-else"}
		r := permissionRouter(checker, accessClaims("user-1", "org-1"))
		if w := getEvents(r, "org-1"); w.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", w.Code)
		}
	})

	t.Run("no claims", func(t *testing.T) {
		checker := &fakeChecker{userID: "user-1", orgID: "org-1", resource: "audit", action: "read"}
		r := permissionRouter(checker, nil)
		if w := getEvents(r, "org-1"); w.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", w.Code)
		}
		if checker.calls != 0 {
			t.Error("engine must not be consulted without claims")
		}
	})

	t.Run("token without org", func(t *testing.T) {
		checker := &fakeChecker{userID: "user-1", resource: "audit", action: "read"}
		r := permissionRouter(checker, accessClaims("user-1", ""))
		if w := getEvents(r, "org-1"); w.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", w.Code)
		}
	})

	t.Run("path org mismatch", func(t *testing.T) {
		checker := &fakeChecker{userID: "user-1", orgID: "org-1", resource: "audit", action: "read"}
		r := permissionRouter(checker, accessClaims("user-1", "org-1"))
		if w := getEvents(r, "org-2"); w.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", w.Code)
		}
		if checker.calls != 0 {
			t.Error("engine must not be consulted for a foreign org")
		}
	})
}
