// Package crypto provides one-way hashing of external identities. Verification
// rows store only the hash so a database leak cannot recover usernames.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher produces stable auth ids from external usernames. An optional salt
// (AUTH_HASH_SALT) hardens the hash against offline dictionary attacks; changing
// the salt invalidates every existing verification, so treat it as immutable
// once set in production.
type Hasher struct {
	salt string
}

// NewHasher returns a Hasher using the given salt. Empty salt is allowed.
func NewHasher(salt string) *Hasher {
	return &Hasher{salt: salt}
}

// Hash returns the hex-encoded SHA-256 of salt+value.
func (h *Hasher) Hash(value string) string {
	sum := sha256.Sum256([]byte(h.salt + value))
	return hex.EncodeToString(sum[:])
}
