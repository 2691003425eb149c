package domain

import (
	"errors"
	"time"
)

// OAuthClient is a registered OAuth2 client application. Public clients have
// no secret and must use PKCE; confidential clients authenticate with a
// bcrypt-hashed secret.
type OAuthClient struct {
	ClientID     string
	Name         string
	SecretHash   string // empty for public clients
	RedirectURIs []string
	Scopes       []string
	CreatedAt    time.Time
}

// Public reports whether the client is a public client (no secret on file).
func (c *OAuthClient) Public() bool {
	return c.SecretHash == ""
}

// RedirectURIRegistered reports whether uri exactly matches one of the
// client's registered redirect URIs. No normalization, no prefix matching.
func (c *OAuthClient) RedirectURIRegistered(uri string) bool {
	for _, registered := range c.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// ScopeAllowed reports whether the client may request the given scope. A
// client with no scope list may request anything.
func (c *OAuthClient) ScopeAllowed(scope string) bool {
	if len(c.Scopes) == 0 {
		return true
	}
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Validate checks required fields.
func (c *OAuthClient) Validate() error {
	if c.ClientID == "" {
		return errors.New("oauth client: client_id is required")
	}
	if len(c.RedirectURIs) == 0 {
		return errors.New("oauth client: at least one redirect URI is required")
	}
	return nil
}
