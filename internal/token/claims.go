// Package token implements signed-token lifecycle management: issuance of
// access/refresh/ID tokens, refresh-token-family rotation with theft
// detection, and blacklisting backed by the shared TTL store.
//
// Revocation-store key naming is a compatibility surface for external
// auditing tooling: "blacklist:{access|refresh}:{jti}" and
// "revoked_users:{user_id}".
package token

import (
	"crypto/sha256"
	"encoding/base64"

	"github.com/golang-jwt/jwt/v5"
)

// Type discriminates the token kinds minted by the service. A token is only
// accepted where its embedded type matches the expected one.
type Type string

const (
	TypeAccess  Type = "access"
	TypeRefresh Type = "refresh"
	TypeID      Type = "id"
)

// Claims is the claim set for every token the service mints. Access tokens
// carry email/org/scopes; refresh tokens carry the rotation family; ID
// tokens carry nonce and at_hash per OpenID Connect. Immutable once signed.
type Claims struct {
	jwt.RegisteredClaims
	Type   Type     `json:"type"`
	Email  string   `json:"email,omitempty"`
	OrgID  string   `json:"org_id,omitempty"`
	Scopes []string `json:"scopes,omitempty"`
	Family string   `json:"family,omitempty"`
	Nonce  string   `json:"nonce,omitempty"`
	AtHash string   `json:"at_hash,omitempty"`
}

// Pair is a freshly-minted access/refresh token pair. Family is shared by
// every refresh token descending from the same login.
type Pair struct {
	AccessToken      string
	AccessJTI        string
	AccessExpiresAt  int64
	RefreshToken     string
	RefreshJTI       string
	RefreshExpiresAt int64
	Family           string
}

// AccessTokenHash computes the OIDC at_hash for an access token signed with
// a SHA-256 based algorithm: base64url of the left half of SHA256(token).
func AccessTokenHash(accessToken string) string {
	sum := sha256.Sum256([]byte(accessToken))
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2])
}
