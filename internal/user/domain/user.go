package domain

import (
	"errors"
	"time"
)

// User is the principal record consumed by token issuance and RBAC. The core
// only reads and provisions users; profile management lives elsewhere.
type User struct {
	ID           string
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string // empty for federated-only users
	Status       UserStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.Email == "" {
		return errors.New("email is required")
	}
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	return nil
}

// ProvisioningData is the normalized record produced by an SSO federation
// adapter (SAML/OIDC upstream). The core accepts it as an authenticated
// principal and never parses federation wire formats itself.
type ProvisioningData struct {
	Email      string
	FirstName  string
	LastName   string
	Attributes map[string]string
}
