package user

import (
	"errors"
	"time"

	"github.com/geocoder89/authcore/internal/rbac"
)

// Directory implementations report these; callers map them to auth errors.
var (
	ErrNotFound          = errors.New("user not found")
	ErrEmailAlreadyTaken = errors.New("email already used")
)

type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
)

func ValidStatus(s Status) bool {
	switch s {
	case StatusActive, StatusInactive, StatusSuspended:
		return true
	}
	return false
}

type User struct {
	ID          string            `json:"id"`
	Email       string            `json:"email"`
	Name        string            `json:"name"`
	Phone       string            `json:"phone,omitempty"`
	Role        rbac.Role         `json:"role"`
	Permissions []rbac.Permission `json:"permissions"`
	Status      Status            `json:"status"`

	// never expose credentials in JSON
	PasswordHash     string `json:"-"`
	Salt             string `json:"-"`
	TwoFactorEnabled bool   `json:"twoFactorEnabled"`
	TwoFactorSecret  string `json:"-"`

	LoginAttempts int        `json:"loginAttempts"`
	LockedUntil   *time.Time `json:"lockedUntil,omitempty"`
	LastLoginAt   *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

func (u User) GrantedPermissions() []rbac.Permission {
	return u.Permissions
}

// AssignRole sets the role and re-materializes the permission set from the
// role table. It is the only place Permissions is written.
func (u *User) AssignRole(r rbac.Role) {
	u.Role = r
	u.Permissions = rbac.PermissionsFor(r)
}

// Public returns a copy safe to hand to callers: all secrets stripped and
// slices/pointers detached from the stored record.
func (u User) Public() User {
	out := u
	out.PasswordHash = ""
	out.Salt = ""
	out.TwoFactorSecret = ""
	out.Permissions = append([]rbac.Permission(nil), u.Permissions...)
	if u.LockedUntil != nil {
		t := *u.LockedUntil
		out.LockedUntil = &t
	}
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		out.LastLoginAt = &t
	}
	return out
}

// Clone is Public without stripping, for directories handing out records
// that callers may mutate before Save.
func (u User) Clone() User {
	out := u.Public()
	out.PasswordHash = u.PasswordHash
	out.Salt = u.Salt
	out.TwoFactorSecret = u.TwoFactorSecret
	return out
}

type CreateUserRequest struct {
	Email    string    `json:"email" binding:"required,email"`
	Password string    `json:"password" binding:"required,min=8"`
	Name     string    `json:"name" binding:"required"`
	Phone    string    `json:"phone"`
	Role     rbac.Role `json:"role" binding:"required,oneof=admin manager agent viewer"`
}

// UpdateUserRequest carries optional changes; nil means unchanged.
type UpdateUserRequest struct {
	Email  *string    `json:"email" binding:"omitempty,email"`
	Name   *string    `json:"name"`
	Phone  *string    `json:"phone"`
	Role   *rbac.Role `json:"role" binding:"omitempty,oneof=admin manager agent viewer"`
	Status *Status    `json:"status" binding:"omitempty,oneof=active inactive suspended"`
}

type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Name     string `json:"name" binding:"required"`
	Phone    string `json:"phone"`
}
