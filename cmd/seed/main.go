// seed inserts development sample data for local testing.
// Idempotent: skips inserts if the dev user (dev@example.com) already exists.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"identity-platform/trustcore/internal/config"
	"identity-platform/trustcore/internal/db"
	oauthdomain "identity-platform/trustcore/internal/oauth/domain"
	oauthrepo "identity-platform/trustcore/internal/oauth/repository"
	"identity-platform/trustcore/internal/security"
	userdomain "identity-platform/trustcore/internal/user/domain"
	userrepo "identity-platform/trustcore/internal/user/repository"
)

const (
	devUserEmail    = "dev@example.com"
	devPassword     = "password123"
	devUserID       = "dev-user-001"
	devOrgID        = "dev-org-001"
	devAdminRoleID  = "dev-role-admin"
	devMemberRoleID = "dev-role-member"
	devMembershipID = "dev-membership-001"

	devClientID     = "dev-client-001"
	devClientSecret = "dev-client-secret"
	devRedirectURI  = "http://localhost:3000/callback"

	memberEmail  = "member@example.com"
	memberUserID = "dev-user-002"
	member2ID    = "dev-membership-002"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	ctx := context.Background()
	users := userrepo.NewPostgresRepository(conn)
	clients := oauthrepo.NewPostgresRepository(conn)

	existing, err := users.GetByEmail(ctx, devUserEmail)
	if err != nil {
		log.Fatalf("seed check: %v", err)
	}
	if existing != nil {
		log.Println("Seed already applied (dev@example.com exists). Skipping.")
		os.Exit(0)
	}

	hasher := security.NewHasher(cfg.BcryptCost)
	passwordHash, err := hasher.Hash([]byte(devPassword))
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	now := time.Now().UTC()

	for _, u := range []*userdomain.User{
		{ID: devUserID, Email: devUserEmail, FirstName: "Dev", LastName: "User",
			PasswordHash: passwordHash, Status: userdomain.UserStatusActive, CreatedAt: now, UpdatedAt: now},
		{ID: memberUserID, Email: memberEmail, FirstName: "Member", LastName: "User",
			PasswordHash: passwordHash, Status: userdomain.UserStatusActive, CreatedAt: now, UpdatedAt: now},
	} {
		if err := users.Create(ctx, u); err != nil {
			log.Fatalf("create user %s: %v", u.Email, err)
		}
	}

	if _, err := conn.ExecContext(ctx, `
		INSERT INTO roles (id, org_id, name, parent_role_id, created_at)
		VALUES ($1, $2, 'member', NULL, $3)`, devMemberRoleID, devOrgID, now); err != nil {
		log.Fatalf("create member role: %v", err)
	}
	if _, err := conn.ExecContext(ctx, `
		INSERT INTO roles (id, org_id, name, parent_role_id, created_at)
		VALUES ($1, $2, 'admin', $3, $4)`, devAdminRoleID, devOrgID, devMemberRoleID, now); err != nil {
		log.Fatalf("create admin role: %v", err)
	}
	grants := []struct {
		roleID, permission string
	}{
		{devMemberRoleID, "session:read"},
		{devAdminRoleID, "audit:read"},
		{devAdminRoleID, "*:*"},
	}
	for _, g := range grants {
		if _, err := conn.ExecContext(ctx, `
			INSERT INTO role_permissions (role_id, permission) VALUES ($1, $2)`,
			g.roleID, g.permission); err != nil {
			log.Fatalf("grant %s to %s: %v", g.permission, g.roleID, err)
		}
	}

	memberships := []struct {
		id, userID, roleID string
	}{
		{devMembershipID, devUserID, devAdminRoleID},
		{member2ID, memberUserID, devMemberRoleID},
	}
	for _, m := range memberships {
		if _, err := conn.ExecContext(ctx, `
			INSERT INTO memberships (id, user_id, org_id, role_id, status, created_at)
			VALUES ($1, $2, $3, $4, 'active', $5)`,
			m.id, m.userID, devOrgID, m.roleID, now); err != nil {
			log.Fatalf("create membership %s: %v", m.id, err)
		}
	}

	secretHash, err := hasher.Hash([]byte(devClientSecret))
	if err != nil {
		log.Fatalf("hash client secret: %v", err)
	}
	if err := clients.Create(ctx, &oauthdomain.OAuthClient{
		ClientID:     devClientID,
		Name:         "Dev Console",
		SecretHash:   secretHash,
		RedirectURIs: []string{devRedirectURI},
		Scopes:       []string{"openid", "email", "profile"},
		CreatedAt:    now,
	}); err != nil {
		log.Fatalf("create oauth client: %v", err)
	}

	log.Println("Seed completed successfully.")
	fmt.Printf("Dev login: %s / %s (org %s)\n", devUserEmail, devPassword, devOrgID)
	fmt.Printf("Member login: %s / %s\n", memberEmail, devPassword)
	fmt.Printf("OAuth client: %s / %s with redirect %s\n", devClientID, devClientSecret, devRedirectURI)
}
