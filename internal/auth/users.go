package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/geocoder89/authcore/internal/domain/user"
	"github.com/geocoder89/authcore/internal/notifications"
	"github.com/geocoder89/authcore/internal/rbac"
	"github.com/geocoder89/authcore/internal/security"
	"github.com/geocoder89/authcore/internal/utils"
	"github.com/google/uuid"
)

type PasswordChange struct {
	UserID  string
	Current string
	New     string

	// KeepSessionID survives the change; every other session of the user
	// is revoked. Empty revokes them all.
	KeepSessionID string
}

// authorize re-reads the actor so a demoted or deactivated account loses
// access immediately, whatever its token still claims.
func (m *Manager) authorize(ctx context.Context, actorID string, perm rbac.Permission) (user.User, error) {
	if actorID == "" {
		return user.User{}, ErrForbidden
	}

	actor, err := m.users.GetByID(ctx, actorID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return user.User{}, ErrForbidden
		}
		return user.User{}, fmt.Errorf("load actor: %w", err)
	}

	if actor.Status != user.StatusActive || !rbac.HasPermission(actor, perm) {
		m.log.WarnContext(ctx, "forbidden", "actor_id", actorID, "permission", string(perm))
		return user.User{}, ErrForbidden
	}
	return actor, nil
}

// Register is self sign-up. New accounts get the viewer role.
func (m *Manager) Register(ctx context.Context, req user.RegisterRequest) (user.User, error) {
	return m.createUser(ctx, user.CreateUserRequest{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Phone:    req.Phone,
		Role:     rbac.RoleViewer,
	})
}

func (m *Manager) CreateUser(ctx context.Context, actorID string, req user.CreateUserRequest) (user.User, error) {
	if _, err := m.authorize(ctx, actorID, rbac.PermUsersCreate); err != nil {
		return user.User{}, err
	}

	u, err := m.createUser(ctx, req)
	if err != nil {
		return user.User{}, err
	}

	m.log.InfoContext(ctx, "user created", "actor_id", actorID, "user_id", u.ID, "role", string(u.Role))
	return u, nil
}

func (m *Manager) createUser(ctx context.Context, req user.CreateUserRequest) (user.User, error) {
	email := security.NormalizeEmail(req.Email)
	if err := security.ValidateEmail(email); err != nil {
		return user.User{}, ErrInvalidInput
	}
	if !rbac.ValidRole(req.Role) {
		return user.User{}, ErrInvalidInput
	}
	if err := security.ValidatePassword(req.Password); err != nil {
		return user.User{}, ErrWeakPassword
	}

	unlock := m.locks.Lock("email:" + email)
	defer unlock()

	if _, err := m.users.GetByEmail(ctx, email); err == nil {
		return user.User{}, ErrEmailAlreadyExists
	} else if !errors.Is(err, user.ErrNotFound) {
		return user.User{}, fmt.Errorf("check email: %w", err)
	}

	hash, salt, err := m.hashPassword(req.Password)
	if err != nil {
		return user.User{}, fmt.Errorf("hash password: %w", err)
	}

	now := m.now().UTC()
	u := user.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         strings.TrimSpace(req.Name),
		Phone:        strings.TrimSpace(req.Phone),
		Status:       user.StatusActive,
		PasswordHash: hash,
		Salt:         salt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	u.AssignRole(req.Role)

	if err := m.users.Save(ctx, u); err != nil {
		if errors.Is(err, user.ErrEmailAlreadyTaken) {
			return user.User{}, ErrEmailAlreadyExists
		}
		return user.User{}, fmt.Errorf("save user: %w", err)
	}

	return u.Public(), nil
}

// EnsureAdmin creates an admin account for email unless one already
// exists. It reports whether a user was created.
func (m *Manager) EnsureAdmin(ctx context.Context, email, password, name string) (bool, error) {
	_, err := m.users.GetByEmail(ctx, security.NormalizeEmail(email))
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, user.ErrNotFound) {
		return false, fmt.Errorf("check admin: %w", err)
	}

	u, err := m.createUser(ctx, user.CreateUserRequest{
		Email:    email,
		Password: password,
		Name:     name,
		Role:     rbac.RoleAdmin,
	})
	if err != nil {
		if errors.Is(err, ErrEmailAlreadyExists) {
			return false, nil
		}
		return false, err
	}

	m.log.InfoContext(ctx, "admin seeded", "user_id", u.ID, "email", security.MaskEmail(u.Email))
	return true, nil
}

func (m *Manager) GetUser(ctx context.Context, actorID, id string) (user.User, error) {
	// anyone may read their own record
	if actorID != id {
		if _, err := m.authorize(ctx, actorID, rbac.PermUsersRead); err != nil {
			return user.User{}, err
		}
	}
	return m.loadPublic(ctx, id)
}

func (m *Manager) loadPublic(ctx context.Context, id string) (user.User, error) {
	u, err := m.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return user.User{}, ErrUserNotFound
		}
		return user.User{}, fmt.Errorf("get user: %w", err)
	}
	return u.Public(), nil
}

func (m *Manager) ListUsers(ctx context.Context, actorID string) ([]user.User, error) {
	if _, err := m.authorize(ctx, actorID, rbac.PermUsersRead); err != nil {
		return nil, err
	}

	all, err := m.users.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	out := make([]user.User, len(all))
	for i, u := range all {
		out[i] = u.Public()
	}
	return out, nil
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

type UserPage struct {
	Items      []user.User `json:"items"`
	NextCursor string      `json:"nextCursor,omitempty"`
}

// ListUsersPage returns up to limit users after cursor, oldest first. An
// empty NextCursor means the listing is complete.
func (m *Manager) ListUsersPage(ctx context.Context, actorID, cursor string, limit int) (UserPage, error) {
	if _, err := m.authorize(ctx, actorID, rbac.PermUsersRead); err != nil {
		return UserPage{}, err
	}

	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	var after *utils.UserCursor
	if cursor != "" {
		c, err := utils.DecodeUserCursor(cursor)
		if err != nil {
			return UserPage{}, ErrInvalidInput
		}
		after = &c
	}

	all, err := m.users.ListAll(ctx)
	if err != nil {
		return UserPage{}, fmt.Errorf("list users: %w", err)
	}

	page := UserPage{Items: make([]user.User, 0, limit)}
	for _, u := range all {
		if after != nil && !after.After(u.CreatedAt, u.ID) {
			continue
		}
		if len(page.Items) == limit {
			last := page.Items[limit-1]
			next, err := utils.EncodeUserCursor(last.CreatedAt, last.ID)
			if err != nil {
				return UserPage{}, fmt.Errorf("encode cursor: %w", err)
			}
			page.NextCursor = next
			break
		}
		page.Items = append(page.Items, u.Public())
	}
	return page, nil
}

// UpdateUser applies the non-nil fields of req. A role change re-derives the
// permission set; deactivation revokes every session.
func (m *Manager) UpdateUser(ctx context.Context, actorID, id string, req user.UpdateUserRequest) (user.User, error) {
	if _, err := m.authorize(ctx, actorID, rbac.PermUsersUpdate); err != nil {
		return user.User{}, err
	}

	if req.Role != nil && !rbac.ValidRole(*req.Role) {
		return user.User{}, ErrInvalidInput
	}
	if req.Status != nil && !user.ValidStatus(*req.Status) {
		return user.User{}, ErrInvalidInput
	}

	var newEmail string
	if req.Email != nil {
		newEmail = security.NormalizeEmail(*req.Email)
		if err := security.ValidateEmail(newEmail); err != nil {
			return user.User{}, ErrInvalidInput
		}
		unlockEmail := m.locks.Lock("email:" + newEmail)
		defer unlockEmail()
	}

	unlock := m.locks.Lock(id)
	defer unlock()

	u, err := m.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return user.User{}, ErrUserNotFound
		}
		return user.User{}, fmt.Errorf("get user: %w", err)
	}

	if newEmail != "" && newEmail != u.Email {
		if other, err := m.users.GetByEmail(ctx, newEmail); err == nil && other.ID != u.ID {
			return user.User{}, ErrEmailAlreadyExists
		} else if err != nil && !errors.Is(err, user.ErrNotFound) {
			return user.User{}, fmt.Errorf("check email: %w", err)
		}
		u.Email = newEmail
	}
	if req.Name != nil {
		u.Name = strings.TrimSpace(*req.Name)
	}
	if req.Phone != nil {
		u.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.Role != nil && *req.Role != u.Role {
		u.AssignRole(*req.Role)
	}

	deactivated := false
	if req.Status != nil && *req.Status != u.Status {
		deactivated = *req.Status != user.StatusActive
		u.Status = *req.Status
	}

	u.UpdatedAt = m.now().UTC()

	if err := m.users.Save(ctx, u); err != nil {
		if errors.Is(err, user.ErrEmailAlreadyTaken) {
			return user.User{}, ErrEmailAlreadyExists
		}
		return user.User{}, fmt.Errorf("save user: %w", err)
	}

	if deactivated {
		if _, err := m.sessions.InvalidateAllForUser(ctx, u.ID); err != nil {
			return user.User{}, fmt.Errorf("revoke sessions: %w", err)
		}
	}

	m.log.InfoContext(ctx, "user updated", "actor_id", actorID, "user_id", u.ID)
	return u.Public(), nil
}

// DeleteUser removes the user and every session they hold.
func (m *Manager) DeleteUser(ctx context.Context, actorID, id string) error {
	if _, err := m.authorize(ctx, actorID, rbac.PermUsersDelete); err != nil {
		return err
	}

	unlock := m.locks.Lock(id)
	defer unlock()

	if _, err := m.users.GetByID(ctx, id); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("get user: %w", err)
	}

	n, err := m.sessions.InvalidateAllForUser(ctx, id)
	if err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}

	if err := m.users.Delete(ctx, id); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("delete user: %w", err)
	}

	m.log.InfoContext(ctx, "user deleted", "actor_id", actorID, "user_id", id, "sessions", n)
	return nil
}

// UnlockUser clears a lockout before it expires.
func (m *Manager) UnlockUser(ctx context.Context, actorID, id string) (user.User, error) {
	if _, err := m.authorize(ctx, actorID, rbac.PermUsersUnlock); err != nil {
		return user.User{}, err
	}

	unlock := m.locks.Lock(id)
	defer unlock()

	u, err := m.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return user.User{}, ErrUserNotFound
		}
		return user.User{}, fmt.Errorf("get user: %w", err)
	}

	m.lockout.Unlock(&u)
	u.UpdatedAt = m.now().UTC()

	if err := m.users.Save(ctx, u); err != nil {
		return user.User{}, fmt.Errorf("save user: %w", err)
	}

	m.log.InfoContext(ctx, "user unlocked", "actor_id", actorID, "user_id", id)
	return u.Public(), nil
}

// ChangePassword re-checks the current password, stores a fresh hash and
// salt, and revokes the user's other sessions.
func (m *Manager) ChangePassword(ctx context.Context, req PasswordChange) error {
	if err := security.ValidatePassword(req.New); err != nil {
		return ErrWeakPassword
	}

	unlock := m.locks.Lock(req.UserID)
	defer unlock()

	u, err := m.users.GetByID(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("get user: %w", err)
	}

	if !m.verifyPassword(u, req.Current) {
		return ErrInvalidCredentials
	}

	hash, salt, err := m.hashPassword(req.New)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	u.PasswordHash = hash
	u.Salt = salt
	u.UpdatedAt = m.now().UTC()

	if err := m.users.Save(ctx, u); err != nil {
		return fmt.Errorf("save user: %w", err)
	}

	n, err := m.sessions.InvalidateOthersForUser(ctx, u.ID, req.KeepSessionID)
	if err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}

	m.log.InfoContext(ctx, "password changed", "user_id", u.ID, "revoked_sessions", n)
	m.notify(ctx, notifications.AlertPasswordChanged, u, nil)
	return nil
}
