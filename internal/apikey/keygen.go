package apikey

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Key format: mg_<48 hex chars>. The prefix makes gateway keys easy to spot
// in logs and configs without revealing anything about the owner.
const keySecretBytes = 24

// GenerateKey returns a new cryptographically-random access key string.
func GenerateKey() (string, error) {
	secret := make([]byte, keySecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("generate key secret: %w", err)
	}
	return "mg_" + hex.EncodeToString(secret), nil
}
