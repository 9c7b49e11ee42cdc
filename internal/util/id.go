package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a 24-character hex ID from crypto/rand. Used for request
// IDs and opaque session tokens.
func NewID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
