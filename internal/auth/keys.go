// Package auth holds the service secret check shared by the controller's
// internal endpoints.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// HashKey returns a SHA-256 hex digest of the trimmed key.
func HashKey(key string) string {
	key = strings.TrimSpace(key)

	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// SecretMatches reports whether token equals secret. Both sides are hashed
// first so the comparison time does not depend on the secret's length.
// An empty secret never matches.
func SecretMatches(token, secret string) bool {
	if strings.TrimSpace(secret) == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashKey(token)), []byte(HashKey(secret))) == 1
}
