package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashID returns a deterministic SHA-256 hex digest of the pipe-joined parts.
// Identical inputs always map to the same artifact key, so resubmitting an
// export overwrites the previous object instead of duplicating it.
func HashID(parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h[:])
}
