package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// PKCECodes holds a PKCE verifier and its S256 challenge.
type PKCECodes struct {
	CodeVerifier  string
	CodeChallenge string
}

// GeneratePKCECodes creates a fresh verifier/challenge pair. The verifier is
// 32 random bytes base64url-encoded without padding, and the challenge is
// the unpadded base64url SHA-256 of the verifier string.
func GeneratePKCECodes() (*PKCECodes, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	enc := base64.URLEncoding.WithPadding(base64.NoPadding)
	verifier := enc.EncodeToString(raw)
	sum := sha256.Sum256([]byte(verifier))
	return &PKCECodes{
		CodeVerifier:  verifier,
		CodeChallenge: enc.EncodeToString(sum[:]),
	}, nil
}
