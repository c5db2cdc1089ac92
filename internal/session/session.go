package session

import (
	"time"
)

// Session is the server-side record of one successful login. It outlives
// any single access token; refresh tokens are bound to it.
type Session struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`

	// Token is the most recently issued access token for this session.
	Token          string    `json:"token"`
	TokenExpiresAt time.Time `json:"tokenExpiresAt"`

	// RefreshToken is only populated on values returned from Create or
	// Rotate. Stores keep RefreshHash.
	RefreshToken    string `json:"-"`
	RefreshHash     string `json:"refreshHash"`
	PrevRefreshHash string `json:"prevRefreshHash,omitempty"`

	RememberMe      bool       `json:"rememberMe"`
	ExpiresAt       time.Time  `json:"expiresAt"`
	CreatedAt       time.Time  `json:"createdAt"`
	LastRefreshedAt *time.Time `json:"lastRefreshedAt,omitempty"`
}

// Expired is the single expiry rule used by lazy reads and the sweeper.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Tokens is what an issuer hands back for a session being created or rotated.
type Tokens struct {
	AccessToken     string
	AccessExpiresAt time.Time
	RefreshToken    string
	RefreshHash     string
}

// IssueFunc mints the token pair for a session id before anything is stored.
type IssueFunc func(sessionID string, expiresAt time.Time) (Tokens, error)

// View is the client-facing shape: no tokens, no hashes.
type View struct {
	ID              string     `json:"id"`
	RememberMe      bool       `json:"rememberMe"`
	ExpiresAt       time.Time  `json:"expiresAt"`
	CreatedAt       time.Time  `json:"createdAt"`
	LastRefreshedAt *time.Time `json:"lastRefreshedAt,omitempty"`
	Current         bool       `json:"current,omitempty"`
}

func (s Session) View() View {
	return View{
		ID:              s.ID,
		RememberMe:      s.RememberMe,
		ExpiresAt:       s.ExpiresAt,
		CreatedAt:       s.CreatedAt,
		LastRefreshedAt: s.LastRefreshedAt,
	}
}
