package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
)

// ScopedKey derives a stable store key from a scope and caller-supplied parts.
// Parts are length-delimited so ("ab","c") and ("a","bc") never collide.
func ScopedKey(scope string, parts ...string) string {
	h := sha256.New()
	for _, part := range parts {
		var size [4]byte
		n := len(part)
		size[0], size[1], size[2], size[3] = byte(n>>24), byte(n>>16), byte(n>>8), byte(n)
		h.Write(size[:])
		h.Write([]byte(part))
	}

	return scope + ":" + hex.EncodeToString(h.Sum(nil))
}
