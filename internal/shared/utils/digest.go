package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// ModuleDigest computes the hex SHA-256 digest of module bytes.
// The digest is deterministic (same bytes = same digest), so it doubles
// as a stable identifier for log correlation across invocations.
func ModuleDigest(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// ShortDigest returns a short (12-character) digest for display
func ShortDigest(fullDigest string) string {
	if len(fullDigest) < 12 {
		return fullDigest
	}
	return fullDigest[:12]
}
