package security

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	DefaultIterations = 10000
	KeyLength         = 64 // 512-bit derived key
	SaltLength        = 32
)

var ErrMalformedHash = errors.New("malformed password hash")

// Hasher derives salted PBKDF2-SHA512 password hashes.
type Hasher struct {
	iterations int
	random     io.Reader
}

type HasherOption func(*Hasher)

// WithRandom replaces the salt entropy source, mostly for deterministic tests.
func WithRandom(r io.Reader) HasherOption {
	return func(h *Hasher) {
		if r != nil {
			h.random = r
		}
	}
}

func WithIterations(n int) HasherOption {
	return func(h *Hasher) {
		if n > 0 {
			h.iterations = n
		}
	}
}

func NewHasher(opts ...HasherOption) *Hasher {
	h := &Hasher{
		iterations: DefaultIterations,
		random:     rand.Reader,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Hash derives a hash for password. A fresh random salt is generated when
// salt is empty. Both values are returned hex encoded.
func (h *Hasher) Hash(password, salt string) (hash string, usedSalt string, err error) {
	var saltBytes []byte

	if salt == "" {
		saltBytes = make([]byte, SaltLength)
		if _, err = io.ReadFull(h.random, saltBytes); err != nil {
			return "", "", fmt.Errorf("read salt: %w", err)
		}
	} else {
		saltBytes, err = hex.DecodeString(salt)
		if err != nil {
			return "", "", ErrMalformedHash
		}
	}

	key := h.derive(password, saltBytes)

	return hex.EncodeToString(key), hex.EncodeToString(saltBytes), nil
}

// Verify recomputes the derivation and compares in constant time.
func (h *Hasher) Verify(password, hash, salt string) bool {
	want, err := hex.DecodeString(hash)
	if err != nil || len(want) != KeyLength {
		// still burn a derivation so malformed records cost the same
		h.derive(password, make([]byte, SaltLength))
		return false
	}

	saltBytes, err := hex.DecodeString(salt)
	if err != nil || len(saltBytes) == 0 {
		h.derive(password, make([]byte, SaltLength))
		return false
	}

	got := h.derive(password, saltBytes)

	return subtle.ConstantTimeCompare(got, want) == 1
}

// Burn runs one derivation against a throwaway salt. Used for unknown
// accounts so response timing does not reveal which emails exist.
func (h *Hasher) Burn(password string) {
	h.derive(password, make([]byte, SaltLength))
}

func (h *Hasher) derive(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, h.iterations, KeyLength, sha512.New)
}
