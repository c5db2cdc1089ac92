package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/geocoder89/authcore/internal/domain/user"
	"github.com/geocoder89/authcore/internal/rbac"
	"github.com/geocoder89/authcore/internal/security"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	MinSecretLength = 32
	TokenTypeAccess = "access"

	refreshSecretBytes = 32
)

var ErrMissingSecret = fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLength)

type Claims struct {
	UserID      string   `json:"sub"`
	Email       string   `json:"email"`
	Role        string   `json:"role"`
	Permissions []string `json:"perms"`
	SessionID   string   `json:"sid,omitempty"`
	TokenType   string   `json:"typ"`
	jwt.RegisteredClaims
}

func (c *Claims) GrantedPermissions() []rbac.Permission {
	return rbac.FromStrings(c.Permissions)
}

// TokenManager signs and verifies access tokens and mints opaque refresh
// tokens. Only HS256 is accepted.
type TokenManager struct {
	secret []byte
	issuer string
	now    func() time.Time
	random io.Reader
}

type TokenOption func(*TokenManager)

func WithTokenClock(now func() time.Time) TokenOption {
	return func(m *TokenManager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithTokenRandom(r io.Reader) TokenOption {
	return func(m *TokenManager) {
		if r != nil {
			m.random = r
		}
	}
}

func WithIssuer(iss string) TokenOption {
	return func(m *TokenManager) {
		m.issuer = iss
	}
}

// NewTokenManager refuses to start without a usable secret.
func NewTokenManager(secret string, opts ...TokenOption) (*TokenManager, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrMissingSecret
	}

	m := &TokenManager{
		secret: []byte(secret),
		issuer: "authcore",
		now:    time.Now,
		random: rand.Reader,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *TokenManager) IssueAccessToken(u user.User, sessionID string, ttl time.Duration) (string, time.Time, error) {
	now := m.now().UTC()
	expiresAt := now.Add(ttl)

	claims := Claims{
		UserID:      u.ID,
		Email:       u.Email,
		Role:        string(u.Role),
		Permissions: rbac.Strings(u.Permissions),
		SessionID:   sessionID,
		TokenType:   TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks signature, algorithm, issuer and expiry. Expired tokens come
// back as ErrTokenExpired, everything else as ErrTokenInvalid.
func (m *TokenManager) Verify(tokenStr string) (*Claims, error) {
	if tokenStr == "" {
		return nil, ErrTokenInvalid
	}

	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		// unused trailing bits of the last base64 character must be zero,
		// otherwise a changed final character still verifies
		jwt.WithStrictDecoding(),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.TokenType != TokenTypeAccess || claims.UserID == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// IssueRefreshToken returns "<sessionID>.<secret>" and the HMAC of the
// secret. Only the hash is ever stored.
func (m *TokenManager) IssueRefreshToken(sessionID string) (raw string, hash string, err error) {
	secret, err := security.RandomToken(m.random, refreshSecretBytes)
	if err != nil {
		return "", "", fmt.Errorf("refresh token: %w", err)
	}
	return sessionID + "." + secret, m.HashRefreshSecret(secret), nil
}

// ParseRefreshToken splits a raw refresh token into its session id and the
// hash to compare against the stored one.
func (m *TokenManager) ParseRefreshToken(raw string) (sessionID string, hash string, err error) {
	sessionID, secret, ok := strings.Cut(raw, ".")
	if !ok || sessionID == "" || secret == "" || strings.Contains(secret, ".") {
		return "", "", ErrTokenInvalid
	}
	return sessionID, m.HashRefreshSecret(secret), nil
}

// Deterministic HMAC hash (server-side pepper = JWT secret bytes).
func (m *TokenManager) HashRefreshSecret(secret string) string {
	h := hmac.New(sha256.New, m.secret)
	h.Write([]byte(secret))
	return hex.EncodeToString(h.Sum(nil))
}

func hashesEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return hmac.Equal([]byte(a), []byte(b))
}
