package domain

import "time"

// Membership ties a user to a role within an organization. Only active
// memberships grant access; any other status denies regardless of role.
type Membership struct {
	ID        string
	UserID    string
	OrgID     string
	RoleID    string
	Status    MembershipStatus
	CreatedAt time.Time
}

type MembershipStatus string

const (
	MembershipStatusActive    MembershipStatus = "active"
	MembershipStatusInvited   MembershipStatus = "invited"
	MembershipStatusSuspended MembershipStatus = "suspended"
)

// Active reports whether the membership grants access.
func (m *Membership) Active() bool {
	return m != nil && m.Status == MembershipStatusActive
}

// Role is a named grant of permission strings within an organization.
// ParentRoleID forms a hierarchy: a role's effective grants are the union of
// its own permissions and all of its ancestors' (a child inherits and can
// only add).
type Role struct {
	ID           string
	OrgID        string
	Name         string
	ParentRoleID string // empty for root roles
	Permissions  []string
	CreatedAt    time.Time
}
