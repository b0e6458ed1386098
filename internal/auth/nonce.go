package auth

import (
	"crypto/rand"
	"encoding/base64"
)

// GenerateNonce returns 32 cryptographically random bytes, base64 encoded.
func GenerateNonce() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
