package security

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformedToken is returned when a token cannot be parsed or its signature is invalid.
	ErrMalformedToken = errors.New("malformed token")
	// ErrExpiredToken is returned when a token parsed and verified but is past exp.
	ErrExpiredToken = errors.New("expired token")
	// ErrAlgorithmMismatch is returned when a token's alg header does not match
	// the configured signing algorithm.
	ErrAlgorithmMismatch = errors.New("token algorithm mismatch")
)

// Codec encodes and decodes signed tokens against the active signing key.
// It is a pure claims<->compact-token transform; it knows nothing about
// revocation or what the claims mean.
type Codec struct {
	keys *KeyProvider
}

// NewCodec returns a Codec backed by the given key provider.
func NewCodec(keys *KeyProvider) *Codec {
	return &Codec{keys: keys}
}

// Encode signs claims with the active key and returns the compact token.
// The key id is set in the token header so external verifiers can select
// the right key from the published set.
func (c *Codec) Encode(claims jwt.Claims) (string, error) {
	key := c.keys.Active()
	if key == nil {
		return "", ErrInvalidKey
	}
	method := jwt.GetSigningMethod(key.Alg)
	if method == nil {
		return "", ErrInvalidKey
	}
	t := jwt.NewWithClaims(method, claims)
	t.Header["kid"] = key.KID
	if key.Symmetric() {
		return t.SignedString(key.Secret)
	}
	return t.SignedString(key.Signer)
}

// Decode parses token into claims, verifying signature and expiry. A token
// whose alg header differs from the configured algorithm is rejected before
// key material is consulted, so an RS256 deployment can never be tricked
// into HMAC verification with the public key.
func (c *Codec) Decode(tokenString string, claims jwt.Claims) error {
	key := c.keys.Active()
	if key == nil {
		return ErrInvalidKey
	}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != key.Alg {
			return nil, fmt.Errorf("%w: got %s, want %s", ErrAlgorithmMismatch, t.Method.Alg(), key.Alg)
		}
		if key.Symmetric() {
			return key.Secret, nil
		}
		return key.Public, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredToken
		}
		if errors.Is(err, ErrAlgorithmMismatch) {
			return ErrAlgorithmMismatch
		}
		return ErrMalformedToken
	}
	if !token.Valid {
		return ErrMalformedToken
	}
	return nil
}

// DecodeUnsafe parses token into claims without verifying the signature.
// For non-authoritative inspection only (diagnostics, log enrichment);
// never use the result for an authorization decision.
func (c *Codec) DecodeUnsafe(tokenString string, claims jwt.Claims) error {
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return ErrMalformedToken
	}
	return nil
}
