package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashOwnerKey returns a path-safe directory name for an owner ID.
func HashOwnerKey(ownerID string) string {
	sum := sha256.Sum256([]byte(ownerID))
	return hex.EncodeToString(sum[:])
}
