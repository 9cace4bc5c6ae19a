package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"
)

// NewToken returns n random bytes encoded base64url without padding.
// Used for CSRF tokens and other opaque per-session secrets.
func NewToken(n int) (string, error) {
	raw := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// HashToken returns the base64url-encoded SHA-256 digest of token. The
// store only ever holds digests of refresh tokens, never the tokens
// themselves.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
