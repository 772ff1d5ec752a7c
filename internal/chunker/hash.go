package chunker

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash returns the hex-encoded SHA-256 digest of the exact chunk text bytes.
// Identical text always yields an identical hash, which is what makes the
// embedding cache reusable across documents and over time within a tenant.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
