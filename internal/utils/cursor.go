package utils

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"
)

var ErrInvalidCursor = errors.New("invalid cursor")

// UserCursor points just past the last user of a page, in
// (createdAt, id) order.
type UserCursor struct {
	CreatedAt time.Time `json:"createdAt"`
	ID        string    `json:"id"`
}

func EncodeUserCursor(createdAt time.Time, id string) (string, error) {
	b, err := json.Marshal(UserCursor{CreatedAt: createdAt, ID: id})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func DecodeUserCursor(cursor string) (UserCursor, error) {
	if cursor == "" {
		return UserCursor{}, ErrInvalidCursor
	}

	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return UserCursor{}, ErrInvalidCursor
	}

	var c UserCursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return UserCursor{}, ErrInvalidCursor
	}
	if c.ID == "" || c.CreatedAt.IsZero() {
		return UserCursor{}, ErrInvalidCursor
	}
	return c, nil
}

// After reports whether (createdAt, id) sorts strictly after the cursor.
func (c UserCursor) After(createdAt time.Time, id string) bool {
	if createdAt.Equal(c.CreatedAt) {
		return id > c.ID
	}
	return createdAt.After(c.CreatedAt)
}
