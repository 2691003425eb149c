package domain

import "time"

// AuthorizationRequestState is the pending authorization bound to an issued
// code. It lives in the shared TTL store keyed by the code and is deleted on
// first successful exchange.
type AuthorizationRequestState struct {
	ClientID            string    `json:"client_id"`
	RedirectURI         string    `json:"redirect_uri"`
	Scope               string    `json:"scope"`
	CodeChallenge       string    `json:"code_challenge,omitempty"`
	CodeChallengeMethod string    `json:"code_challenge_method,omitempty"`
	Nonce               string    `json:"nonce,omitempty"`
	UserID              string    `json:"user_id"`
	OrgID               string    `json:"org_id,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}
