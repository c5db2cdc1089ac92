package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// RandomToken returns n random bytes from r encoded as unpadded base64url.
func RandomToken(r io.Reader, n int) (string, error) {
	if r == nil {
		r = rand.Reader
	}

	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}
