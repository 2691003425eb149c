package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"strings"
	"sync/atomic"

	"github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"
)

// ErrInvalidKey is returned when PEM content or the key type is invalid.
var ErrInvalidKey = errors.New("invalid key")

// SigningKey is the immutable signing material for one key generation.
// Asymmetric keys carry Signer+Public; symmetric keys carry Secret only.
// A SigningKey is never mutated after construction; rotation replaces the
// whole value.
type SigningKey struct {
	KID    string
	Alg    string // RS256, ES256, or HS256
	Signer crypto.Signer
	Public crypto.PublicKey
	Secret []byte
}

// Symmetric reports whether the key signs with an HMAC secret.
func (k *SigningKey) Symmetric() bool {
	return k.Signer == nil
}

// NewAsymmetricKey parses PEM private/public material (inline or file path)
// and returns a SigningKey with the algorithm derived from the key type
// (RS256 for RSA, ES256 for ECDSA P-256). kid may be empty; a random one is
// assigned.
func NewAsymmetricKey(kid, privatePEM, publicPEM string) (*SigningKey, error) {
	signer, err := ParsePrivateKey(privatePEM)
	if err != nil {
		return nil, err
	}
	pub, err := ParsePublicKey(publicPEM)
	if err != nil {
		return nil, err
	}
	alg := keyAlg(pub)
	if alg == "" {
		return nil, ErrInvalidKey
	}
	if kid == "" {
		kid = uuid.NewString()
	}
	return &SigningKey{KID: kid, Alg: alg, Signer: signer, Public: pub}, nil
}

// NewSymmetricKey returns an HS256 SigningKey for development and tests.
// Production deployments must use NewAsymmetricKey; config.Load enforces this.
func NewSymmetricKey(kid string, secret []byte) (*SigningKey, error) {
	if len(secret) < 32 {
		return nil, ErrInvalidKey
	}
	if kid == "" {
		kid = uuid.NewString()
	}
	return &SigningKey{KID: kid, Alg: "HS256", Secret: secret}, nil
}

// KeyProvider holds the currently-active signing key. The key is read-mostly
// and swapped atomically on rotation, so in-flight sign/verify calls using
// the previous key complete safely.
type KeyProvider struct {
	active atomic.Pointer[SigningKey]
}

// NewKeyProvider returns a KeyProvider with the given active key.
func NewKeyProvider(k *SigningKey) *KeyProvider {
	p := &KeyProvider{}
	p.active.Store(k)
	return p
}

// Active returns the current signing key.
func (p *KeyProvider) Active() *SigningKey {
	return p.active.Load()
}

// Rotate replaces the active key. The previous key value is left intact for
// callers that already loaded it.
func (p *KeyProvider) Rotate(k *SigningKey) {
	p.active.Store(k)
}

// JWKS returns the public key set for external verifiers. Symmetric keys are
// never published; the set is empty in symmetric mode.
func (p *KeyProvider) JWKS() jose.JSONWebKeySet {
	k := p.Active()
	if k == nil || k.Symmetric() {
		return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{}}
	}
	jwk := jose.JSONWebKey{
		Key:       k.Public,
		KeyID:     k.KID,
		Algorithm: k.Alg,
		Use:       "sig",
	}
	return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk.Public()}}
}

// LoadPEM reads content from path if s does not look like inline PEM; otherwise returns s as bytes.
func LoadPEM(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidKey
	}
	if strings.HasPrefix(s, "-----BEGIN") {
		// Env files often carry literal \n in inline PEM.
		return []byte(strings.ReplaceAll(s, `\n`, "\n")), nil
	}
	return os.ReadFile(s)
}

// ParsePrivateKey parses a PEM-encoded private key (RSA or ECDSA). s may be inline PEM or a file path.
func ParsePrivateKey(s string) (crypto.Signer, error) {
	pemBytes, err := LoadPEM(s)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, ErrInvalidKey
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, ErrInvalidKey
		}
		return signer, nil
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	default:
		return nil, ErrInvalidKey
	}
}

// ParsePublicKey parses a PEM-encoded public key (RSA or ECDSA). s may be inline PEM or a file path.
func ParsePublicKey(s string) (crypto.PublicKey, error) {
	pemBytes, err := LoadPEM(s)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, ErrInvalidKey
	}
	switch block.Type {
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	case "PUBLIC KEY":
		return x509.ParsePKIXPublicKey(block.Bytes)
	default:
		return nil, ErrInvalidKey
	}
}

func keyAlg(pub crypto.PublicKey) string {
	switch pub.(type) {
	case *rsa.PublicKey:
		return "RS256"
	case *ecdsa.PublicKey:
		return "ES256"
	default:
		return ""
	}
}
