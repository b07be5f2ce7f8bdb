package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a short URL-safe hex identifier.
func NewID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// NewSecret returns a hex string built from n random bytes. Used for
// password-reset tokens where a longer value is wanted.
func NewSecret(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
