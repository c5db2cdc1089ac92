package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/geocoder89/authcore/internal/domain/user"
)

// UsersRepo keeps users in process memory. Records go in and come out as
// clones, so callers never share slices or pointers with the map.
type UsersRepo struct {
	mu      sync.RWMutex
	items   map[string]user.User
	byEmail map[string]string
}

func NewUsersRepo() *UsersRepo {
	return &UsersRepo{
		items:   make(map[string]user.User),
		byEmail: make(map[string]string),
	}
}

func (r *UsersRepo) GetByID(_ context.Context, id string) (user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.items[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return u.Clone(), nil
}

func (r *UsersRepo) GetByEmail(_ context.Context, email string) (user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[email]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return r.items[id].Clone(), nil
}

// Save inserts or replaces the record with u.ID.
func (r *UsersRepo) Save(_ context.Context, u user.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.byEmail[u.Email]; ok && owner != u.ID {
		return user.ErrEmailAlreadyTaken
	}

	if prev, ok := r.items[u.ID]; ok && prev.Email != u.Email {
		delete(r.byEmail, prev.Email)
	}

	r.items[u.ID] = u.Clone()
	r.byEmail[u.Email] = u.ID
	return nil
}

func (r *UsersRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.items[id]
	if !ok {
		return user.ErrNotFound
	}
	delete(r.items, id)
	delete(r.byEmail, u.Email)
	return nil
}

// ListAll returns users ordered by creation time.
func (r *UsersRepo) ListAll(_ context.Context) ([]user.User, error) {
	r.mu.RLock()
	out := make([]user.User, 0, len(r.items))
	for _, u := range r.items {
		out = append(out, u.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
