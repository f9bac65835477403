package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// OpaqueTokenBytes is the entropy of refresh tokens (32 bytes = 256 bits)
const OpaqueTokenBytes = 32

// GenerateOpaqueToken returns a URL-safe random token
func GenerateOpaqueToken() (string, error) {
	randomBytes := make([]byte, OpaqueTokenBytes)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(randomBytes), nil
}
