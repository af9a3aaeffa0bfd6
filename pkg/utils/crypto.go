package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// KeyFingerprint returns a short, non-reversible identifier for an API key.
// Raw key material must never appear in logs; log this instead.
func KeyFingerprint(key string) string {
	if key == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:6])
}
