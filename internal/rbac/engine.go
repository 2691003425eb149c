// Package rbac answers allow/deny questions from cached role-permission
// grants. It is independent of tokens: token issuance embeds its results as
// entitlements, and request authorization consults it directly.
package rbac

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"identity-platform/trustcore/internal/membership/domain"
)

// maxRoleDepth bounds parent-role traversal so a cyclic role graph cannot
// hang permission resolution.
const maxRoleDepth = 16

// DefaultCacheTTL is how long a resolved permission set is reused.
// Membership and role changes are infrequent relative to request volume.
const DefaultCacheTTL = 30 * time.Second

// PermissionAdmin as the action segment of a grant implies every action on
// that resource.
const PermissionAdmin = "admin"

// MembershipRepo is the read access the engine needs.
type MembershipRepo interface {
	GetMembershipByUserAndOrg(ctx context.Context, userID, orgID string) (*domain.Membership, error)
	GetRole(ctx context.Context, roleID string) (*domain.Role, error)
}

type cachedPerms struct {
	perms     []string
	expiresAt time.Time
}

// Engine resolves and checks permissions. One long-lived instance is shared
// by request handlers; the per-(user, org) cache is internally synchronized.
type Engine struct {
	memberships MembershipRepo
	logger      *zap.Logger
	cacheTTL    time.Duration
	now         func() time.Time

	mu    sync.RWMutex
	cache map[string]cachedPerms
}

// NewEngine returns an Engine with the given membership source. cacheTTL <= 0
// uses DefaultCacheTTL.
func NewEngine(memberships MembershipRepo, logger *zap.Logger, cacheTTL time.Duration) *Engine {
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	return &Engine{
		memberships: memberships,
		logger:      logger,
		cacheTTL:    cacheTTL,
		now:         func() time.Time { return time.Now().UTC() },
		cache:       make(map[string]cachedPerms),
	}
}

// CheckPermission reports whether the principal may perform action on
// resourceType within the org. Fails closed: missing org scope, missing or
// inactive membership, and any internal error all deny.
func (e *Engine) CheckPermission(ctx context.Context, userID, orgID, resourceType, action string) bool {
	if userID == "" || orgID == "" || resourceType == "" || action == "" {
		return false
	}
	perms, err := e.GetUserPermissions(ctx, userID, orgID)
	if err != nil {
		e.logger.Warn("permission check failed closed",
			zap.String("user_id", userID), zap.String("org_id", orgID), zap.Error(err))
		return false
	}
	for _, granted := range perms {
		if permissionMatches(granted, resourceType, action) {
			return true
		}
	}
	return false
}

// HasAnyPermission reports whether the principal holds at least one of the
// requested "resource:action" permissions.
func (e *Engine) HasAnyPermission(ctx context.Context, userID, orgID string, required ...string) bool {
	for _, req := range required {
		resource, action, ok := splitPermission(req)
		if ok && e.CheckPermission(ctx, userID, orgID, resource, action) {
			return true
		}
	}
	return false
}

// HasAllPermissions reports whether the principal holds every requested
// "resource:action" permission. An empty list denies.
func (e *Engine) HasAllPermissions(ctx context.Context, userID, orgID string, required ...string) bool {
	if len(required) == 0 {
		return false
	}
	for _, req := range required {
		resource, action, ok := splitPermission(req)
		if !ok || !e.CheckPermission(ctx, userID, orgID, resource, action) {
			return false
		}
	}
	return true
}

// GetUserPermissions returns the resolved permission set for (user, org):
// the union of the membership role's grants and all ancestor roles',
// deduplicated. Only active memberships resolve; anything else returns an
// empty set. Results are cached for a short TTL.
func (e *Engine) GetUserPermissions(ctx context.Context, userID, orgID string) ([]string, error) {
	key := userID + "|" + orgID
	e.mu.RLock()
	c, ok := e.cache[key]
	e.mu.RUnlock()
	if ok && c.expiresAt.After(e.now()) {
		return c.perms, nil
	}

	m, err := e.memberships.GetMembershipByUserAndOrg(ctx, userID, orgID)
	if err != nil {
		return nil, err
	}
	var perms []string
	if m.Active() {
		perms, err = e.resolveRolePermissions(ctx, m.RoleID)
		if err != nil {
			return nil, err
		}
	}
	if perms == nil {
		perms = []string{}
	}

	e.mu.Lock()
	e.cache[key] = cachedPerms{perms: perms, expiresAt: e.now().Add(e.cacheTTL)}
	e.mu.Unlock()
	return perms, nil
}

// Invalidate drops the cached permission set for (user, org). Called when a
// membership or role change must take effect before the TTL lapses.
func (e *Engine) Invalidate(userID, orgID string) {
	e.mu.Lock()
	delete(e.cache, userID+"|"+orgID)
	e.mu.Unlock()
}

func (e *Engine) resolveRolePermissions(ctx context.Context, roleID string) ([]string, error) {
	seen := make(map[string]bool)
	set := make(map[string]bool)
	for depth := 0; roleID != "" && depth < maxRoleDepth; depth++ {
		if seen[roleID] {
			break
		}
		seen[roleID] = true
		role, err := e.memberships.GetRole(ctx, roleID)
		if err != nil {
			return nil, err
		}
		if role == nil {
			break
		}
		for _, p := range role.Permissions {
			set[p] = true
		}
		roleID = role.ParentRoleID
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// permissionMatches reports whether the granted permission string covers
// (resource, action). "*" matches any single segment, and an "admin" action
// grant implies every action on its resource.
func permissionMatches(granted, resource, action string) bool {
	gRes, gAct, ok := splitPermission(granted)
	if !ok {
		return false
	}
	if gRes != "*" && gRes != resource {
		return false
	}
	if gAct == "*" || gAct == action {
		return true
	}
	return gAct == PermissionAdmin
}

func splitPermission(p string) (resource, action string, ok bool) {
	i := strings.IndexByte(p, ':')
	if i <= 0 || i == len(p)-1 {
		return "", "", false
	}
	return p[:i], p[i+1:], true
}
