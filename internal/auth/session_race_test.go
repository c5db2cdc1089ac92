package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/geocoder89/authcore/internal/kv"
	"github.com/geocoder89/authcore/internal/rbac"
	"github.com/geocoder89/authcore/internal/session"
)

// pausedWrites holds the next session write once armed until release is
// closed.
type pausedWrites struct {
	kv.Store[session.Session]

	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func newPausedWrites() *pausedWrites {
	return &pausedWrites{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (p *pausedWrites) wrap(next kv.Store[session.Session]) kv.Store[session.Session] {
	p.Store = next
	return p
}

func (p *pausedWrites) Set(ctx context.Context, key string, val session.Session, ttl time.Duration) error {
	if p.armed.CompareAndSwap(true, false) {
		close(p.entered)
		<-p.release
	}
	return p.Store.Set(ctx, key, val, ttl)
}

func (p *pausedWrites) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-p.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("session write never started")
	}
}

func TestLogin_DeleteDuringSessionWriteLeavesNoSession(t *testing.T) {
	gate := newPausedWrites()
	h := newHarnessWithBackend(t, DefaultConfig(), gate.wrap)
	admin := h.seed(t, "admin@example.com", rbac.RoleAdmin)
	target := h.seed(t, "racing@example.com", rbac.RoleAgent)
	ctx := context.Background()

	gate.armed.Store(true)

	var (
		wg       sync.WaitGroup
		res      *LoginResult
		loginErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		res, loginErr = h.login("racing@example.com", goodPassword)
	}()
	gate.waitEntered(t)

	deleted := make(chan error, 1)
	go func() { deleted <- h.m.DeleteUser(ctx, admin.ID, target.ID) }()

	// let the delete run as far as it can while the session write is held
	time.Sleep(20 * time.Millisecond)
	close(gate.release)
	wg.Wait()

	if err := <-deleted; err != nil {
		t.Fatalf("DeleteUser error: %v", err)
	}
	if loginErr != nil {
		t.Fatalf("Login error: %v", loginErr)
	}

	list, err := h.sessions.ListForUser(ctx, target.ID)
	if err != nil {
		t.Fatalf("ListForUser error: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("deleted user still has %d session(s)", len(list))
	}
	if _, err := h.m.VerifyToken(ctx, res.AccessToken); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
}

func TestRefresh_LogoutDuringRotationWins(t *testing.T) {
	gate := newPausedWrites()
	h := newHarnessWithBackend(t, DefaultConfig(), gate.wrap)
	h.seed(t, "rotating@example.com", rbac.RoleViewer)
	ctx := context.Background()

	res, err := h.login("rotating@example.com", goodPassword)
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}

	gate.armed.Store(true)

	var (
		wg         sync.WaitGroup
		refreshed  *LoginResult
		refreshErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		refreshed, refreshErr = h.m.Refresh(ctx, res.RefreshToken)
	}()
	gate.waitEntered(t)

	loggedOut := make(chan error, 1)
	go func() { loggedOut <- h.m.Logout(ctx, res.Session.ID) }()

	time.Sleep(20 * time.Millisecond)
	close(gate.release)
	wg.Wait()

	if err := <-loggedOut; err != nil {
		t.Fatalf("Logout error: %v", err)
	}
	if refreshErr != nil {
		t.Fatalf("Refresh error: %v", refreshErr)
	}

	if _, ok, _ := h.sessions.Get(ctx, res.Session.ID); ok {
		t.Fatalf("session came back after logout")
	}
	if _, err := h.m.VerifyToken(ctx, refreshed.AccessToken); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired for the rotated token, got %v", err)
	}
}

func TestRevokeSession_OtherUsersSessionUntouched(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	owner := h.seed(t, "owner@example.com", rbac.RoleViewer)
	other := h.seed(t, "other@example.com", rbac.RoleViewer)
	ctx := context.Background()

	res, err := h.login("owner@example.com", goodPassword)
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}

	if err := h.m.RevokeSession(ctx, other.ID, res.Session.ID); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if _, ok, _ := h.sessions.Get(ctx, res.Session.ID); !ok {
		t.Fatalf("session of %s should survive", owner.ID)
	}
}
