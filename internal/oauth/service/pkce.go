package service

import (
	"crypto/subtle"

	"golang.org/x/oauth2"
)

// PKCEMethodS256 is the only accepted code_challenge_method. The "plain"
// method defeats the purpose of PKCE and is always rejected.
const PKCEMethodS256 = "S256"

// GeneratePKCEVerifier returns a new code_verifier per RFC 7636.
func GeneratePKCEVerifier() string {
	return oauth2.GenerateVerifier()
}

// ComputePKCEChallenge derives the S256 code_challenge for a verifier.
func ComputePKCEChallenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// verifyPKCE recomputes the S256 challenge from the presented verifier and
// compares it in constant time against the challenge stored at authorize time.
func verifyPKCE(storedChallenge, verifier string) bool {
	if storedChallenge == "" || verifier == "" {
		return false
	}
	computed := ComputePKCEChallenge(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedChallenge)) == 1
}
