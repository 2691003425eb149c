package service

import "fmt"

// OAuth2 error codes from RFC 6749 section 4.1.2.1 and 5.2.
const (
	CodeInvalidRequest          = "invalid_request"
	CodeInvalidClient           = "invalid_client"
	CodeInvalidGrant            = "invalid_grant"
	CodeUnauthorizedClient      = "unauthorized_client"
	CodeAccessDenied            = "access_denied"
	CodeUnsupportedResponseType = "unsupported_response_type"
	CodeUnsupportedGrantType    = "unsupported_grant_type"
	CodeInvalidScope            = "invalid_scope"
	CodeServerError             = "server_error"
)

// ProtocolError is an OAuth2 protocol failure carrying the RFC 6749 error
// code. Handlers serialize it into the standard {error, error_description}
// body or error redirect.
type ProtocolError struct {
	Code        string
	Description string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("oauth: %s: %s", e.Code, e.Description)
}

func protocolErr(code, description string) *ProtocolError {
	return &ProtocolError{Code: code, Description: description}
}

// RedirectableError is a ProtocolError raised after the client and
// redirect_uri were validated, so the handler may deliver it to the client
// via an error redirect. Errors raised before that validation must never
// redirect.
type RedirectableError struct {
	ProtocolError
	RedirectURI string
	State       string
}

func redirectErr(redirectURI, state, code, description string) *RedirectableError {
	return &RedirectableError{
		ProtocolError: ProtocolError{Code: code, Description: description},
		RedirectURI:   redirectURI,
		State:         state,
	}
}
