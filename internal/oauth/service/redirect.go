package service

import "net/url"

// buildRedirectURL appends code and state to a redirect URI that was already
// validated against the client's registered set.
func buildRedirectURL(redirectURI, code, state string) string {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return redirectURI
	}
	q := u.Query()
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// ErrorRedirectURL builds the error redirect for a RedirectableError. The
// URI inside the error came from a validated authorization request, never
// from unchecked caller data.
func ErrorRedirectURL(e *RedirectableError) string {
	u, err := url.Parse(e.RedirectURI)
	if err != nil {
		return e.RedirectURI
	}
	q := u.Query()
	q.Set("error", e.Code)
	if e.Description != "" {
		q.Set("error_description", e.Description)
	}
	if e.State != "" {
		q.Set("state", e.State)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
