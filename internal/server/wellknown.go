package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"identity-platform/trustcore/internal/security"
)

// WellKnown serves the JWKS and OpenID discovery documents.
type WellKnown struct {
	keys   *security.KeyProvider
	issuer string
}

// NewWellKnown returns the discovery handler. issuer is the externally
// reachable base URL of this server.
func NewWellKnown(keys *security.KeyProvider, issuer string) *WellKnown {
	return &WellKnown{keys: keys, issuer: issuer}
}

// JWKS exposes the public verification keys. Empty for a symmetric
// deployment, which never serves production traffic.
func (w *WellKnown) JWKS(c *gin.Context) {
	c.JSON(http.StatusOK, w.keys.JWKS())
}

// OpenIDConfig returns the OpenID Connect discovery document.
func (w *WellKnown) OpenIDConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"issuer":                                w.issuer,
		"authorization_endpoint":                w.issuer + "/oauth/authorize",
		"token_endpoint":                        w.issuer + "/oauth/token",
		"userinfo_endpoint":                     w.issuer + "/oauth/userinfo",
		"jwks_uri":                              w.issuer + "/.well-known/jwks.json",
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code", "refresh_token"},
		"code_challenge_methods_supported":      []string{"S256"},
		"scopes_supported":                      []string{"openid", "email", "profile"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{w.keys.Active().Alg},
		"token_endpoint_auth_methods_supported": []string{"client_secret_post", "none"},
	})
}
