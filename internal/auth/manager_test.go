package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/geocoder89/authcore/internal/domain/user"
	"github.com/geocoder89/authcore/internal/kv"
	"github.com/geocoder89/authcore/internal/ratelimit"
	"github.com/geocoder89/authcore/internal/rbac"
	"github.com/geocoder89/authcore/internal/repo/memory"
	"github.com/geocoder89/authcore/internal/security"
	"github.com/geocoder89/authcore/internal/session"
	"github.com/pquerna/otp/totp"
)

const (
	testSecret   = "0123456789abcdef0123456789abcdef"
	goodPassword = "Correct-Horse-42"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	clock    *fakeClock
	users    *memory.UsersRepo
	sessions *session.Store
	tokens   *TokenManager
	pool     *security.HashPool
	m        *Manager
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	return newHarnessWithBackend(t, cfg, nil, opts...)
}

// newHarnessWithBackend lets a test wrap the session backend, e.g. to pause
// writes at a chosen point.
func newHarnessWithBackend(t *testing.T, cfg Config, wrap func(kv.Store[session.Session]) kv.Store[session.Session], opts ...Option) *harness {
	t.Helper()

	clock := &fakeClock{t: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
	users := memory.NewUsersRepo()

	var backend kv.Store[session.Session] = kv.NewMemoryStore[session.Session](kv.WithClock(clock.Now))
	if wrap != nil {
		backend = wrap(backend)
	}
	sessions := session.NewStore(backend, session.WithClock(clock.Now))

	tokens, err := NewTokenManager(testSecret, WithTokenClock(clock.Now))
	if err != nil {
		t.Fatalf("NewTokenManager error: %v", err)
	}

	pool := security.NewHashPool(4)
	base := []Option{
		WithClock(clock.Now),
		WithHasher(security.NewHasher(security.WithIterations(50))),
		WithHashPool(pool),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}

	m := NewManager(cfg, users, sessions, tokens, append(base, opts...)...)

	return &harness{clock: clock, users: users, sessions: sessions, tokens: tokens, pool: pool, m: m}
}

func (h *harness) seed(t *testing.T, email string, role rbac.Role) user.User {
	t.Helper()

	u, err := h.m.createUser(context.Background(), user.CreateUserRequest{
		Email:    email,
		Password: goodPassword,
		Name:     "Test User",
		Role:     role,
	})
	if err != nil {
		t.Fatalf("seed %s: %v", email, err)
	}
	return u
}

func (h *harness) login(email, password string) (*LoginResult, error) {
	return h.m.Login(context.Background(), Credentials{Email: email, Password: password})
}

func TestLogin_Success(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	u := h.seed(t, "agent@example.com", rbac.RoleAgent)

	res, err := h.login("  Agent@Example.com ", goodPassword)
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}

	if res.User.ID != u.ID || res.User.PasswordHash != "" || res.User.Salt != "" {
		t.Fatalf("expected public user record, got %+v", res.User)
	}
	if res.AccessToken == "" || res.RefreshToken == "" {
		t.Fatalf("expected token pair")
	}
	if res.User.LastLoginAt == nil || !res.User.LastLoginAt.Equal(h.clock.Now()) {
		t.Fatalf("expected LastLoginAt to be stamped")
	}

	claims, err := h.m.VerifyToken(context.Background(), res.AccessToken)
	if err != nil {
		t.Fatalf("VerifyToken error: %v", err)
	}
	if claims.UserID != u.ID || claims.SessionID != res.Session.ID {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if !rbac.HasPermission(claims, rbac.PermClientsRead) {
		t.Fatalf("expected agent permissions in token")
	}
}

func TestLogin_LockoutScenario(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	u := h.seed(t, "victim@example.com", rbac.RoleViewer)

	for i := 1; i <= 5; i++ {
		_, err := h.login("victim@example.com", "Wrong-Password-1")
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}

	_, err := h.login("victim@example.com", "Wrong-Password-1")
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("6th attempt: expected ErrAccountLocked, got %v", err)
	}

	_, err = h.login("victim@example.com", goodPassword)
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("correct password while locked: expected ErrAccountLocked, got %v", err)
	}

	var locked *LockedError
	if !errors.As(err, &locked) || !locked.Until.Equal(h.clock.Now().Add(DefaultLockoutDuration)) {
		t.Fatalf("expected lock deadline on error, got %v", err)
	}

	h.clock.Advance(DefaultLockoutDuration)

	if _, err := h.login("victim@example.com", goodPassword); err != nil {
		t.Fatalf("login after lock expiry: %v", err)
	}

	stored, _ := h.users.GetByID(context.Background(), u.ID)
	if stored.LoginAttempts != 0 || stored.LockedUntil != nil {
		t.Fatalf("expected counters reset, got attempts=%d lockedUntil=%v", stored.LoginAttempts, stored.LockedUntil)
	}
}

func TestLogin_FailureAfterExpiredLockRelocks(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.seed(t, "v@example.com", rbac.RoleViewer)

	for i := 0; i < 5; i++ {
		_, _ = h.login("v@example.com", "nope")
	}
	h.clock.Advance(DefaultLockoutDuration + time.Second)

	if _, err := h.login("v@example.com", "nope"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := h.login("v@example.com", goodPassword); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected immediate re-lock, got %v", err)
	}
}

func TestLogin_UnknownEmailIsInvalidCredentials(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.seed(t, "known@example.com", rbac.RoleViewer)

	_, unknownErr := h.login("ghost@example.com", goodPassword)
	_, wrongErr := h.login("known@example.com", "Wrong-Password-1")

	if !errors.Is(unknownErr, ErrInvalidCredentials) || !errors.Is(wrongErr, ErrInvalidCredentials) {
		t.Fatalf("expected identical errors, got %v / %v", unknownErr, wrongErr)
	}
	if unknownErr.Error() != wrongErr.Error() {
		t.Fatalf("messages must not reveal which part was wrong")
	}
}

func TestLogin_InactiveAccount(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	u := h.seed(t, "gone@example.com", rbac.RoleViewer)

	stored, _ := h.users.GetByID(context.Background(), u.ID)
	stored.Status = user.StatusSuspended
	_ = h.users.Save(context.Background(), stored)

	_, err := h.login("gone@example.com", goodPassword)
	if !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive, got %v", err)
	}
}

func TestLogin_ConcurrentFailuresLockExactlyOnce(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	u := h.seed(t, "busy@example.com", rbac.RoleViewer)

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.login("busy@example.com", "Wrong-Password-1")
		}()
	}
	wg.Wait()

	stored, _ := h.users.GetByID(context.Background(), u.ID)
	if stored.LoginAttempts != DefaultMaxLoginAttempts {
		t.Fatalf("expected exactly %d counted failures, got %d", DefaultMaxLoginAttempts, stored.LoginAttempts)
	}
	if stored.LockedUntil == nil {
		t.Fatalf("expected account to be locked")
	}
	if h.m.locks.size() != 0 {
		t.Fatalf("expected per-user locks to be released")
	}
}

func TestLogin_TimeoutStillRecordsFailure(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	u := h.seed(t, "slow@example.com", rbac.RoleViewer)

	// occupy every hashing slot so the login stalls on verification
	release := make(chan struct{})
	for i := 0; i < 4; i++ {
		held := make(chan struct{})
		h.pool.Go(func() {
			close(held)
			<-release
		})
		<-held
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := h.m.Login(ctx, Credentials{Email: "slow@example.com", Password: "Wrong-Password-1"})
	if !errors.Is(err, ErrLoginTimeout) {
		t.Fatalf("expected ErrLoginTimeout, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the context cause to be kept, got %v", err)
	}

	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for {
		stored, _ := h.users.GetByID(context.Background(), u.ID)
		if stored.LoginAttempts == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("background verification never recorded the failure")
		}
		time.Sleep(5 * time.Millisecond)
	}

	list, _ := h.sessions.ListForUser(context.Background(), u.ID)
	if len(list) != 0 {
		t.Fatalf("timed out login must not leave a session, found %d", len(list))
	}
}

func TestLogin_TimedOutSuccessCreatesNoSession(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	u := h.seed(t, "late@example.com", rbac.RoleViewer)

	release := make(chan struct{})
	for i := 0; i < 4; i++ {
		held := make(chan struct{})
		h.pool.Go(func() {
			close(held)
			<-release
		})
		<-held
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if _, err := h.m.Login(ctx, Credentials{Email: "late@example.com", Password: goodPassword}); !errors.Is(err, ErrLoginTimeout) {
		t.Fatalf("expected ErrLoginTimeout, got %v", err)
	}
	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for {
		stored, _ := h.users.GetByID(context.Background(), u.ID)
		if stored.LastLoginAt != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("background verification never finished")
		}
		time.Sleep(5 * time.Millisecond)
	}

	list, _ := h.sessions.ListForUser(context.Background(), u.ID)
	if len(list) != 0 {
		t.Fatalf("expected no session, found %d", len(list))
	}
}

func TestLogin_RememberMeExtendsSession(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.seed(t, "r@example.com", rbac.RoleViewer)

	short, err := h.m.Login(context.Background(), Credentials{Email: "r@example.com", Password: goodPassword})
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	long, err := h.m.Login(context.Background(), Credentials{Email: "r@example.com", Password: goodPassword, RememberMe: true})
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}

	if !long.Session.ExpiresAt.After(short.Session.ExpiresAt) || !long.Session.RememberMe {
		t.Fatalf("expected remember-me session to outlive the default one")
	}
}

func TestLogin_TwoFactor(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	u := h.seed(t, "mfa@example.com", rbac.RoleAgent)
	ctx := context.Background()

	enrollment, err := h.m.EnrollTwoFactor(ctx, u.ID)
	if err != nil {
		t.Fatalf("EnrollTwoFactor error: %v", err)
	}

	// not active until confirmed
	if _, err := h.login("mfa@example.com", goodPassword); err != nil {
		t.Fatalf("expected plain login before confirmation: %v", err)
	}

	if err := h.m.ConfirmTwoFactor(ctx, u.ID, "000000x"); !errors.Is(err, ErrInvalidTwoFactorCode) {
		t.Fatalf("expected malformed code rejection, got %v", err)
	}

	code, err := totp.GenerateCode(enrollment.Secret, h.clock.Now())
	if err != nil {
		t.Fatalf("GenerateCode error: %v", err)
	}
	if err := h.m.ConfirmTwoFactor(ctx, u.ID, code); err != nil {
		t.Fatalf("ConfirmTwoFactor error: %v", err)
	}

	if _, err := h.login("mfa@example.com", goodPassword); !errors.Is(err, ErrTwoFactorRequired) {
		t.Fatalf("expected ErrTwoFactorRequired, got %v", err)
	}

	_, err = h.m.Login(ctx, Credentials{Email: "mfa@example.com", Password: goodPassword, TwoFactorCode: "12a456"})
	if !errors.Is(err, ErrInvalidTwoFactorCode) {
		t.Fatalf("expected ErrInvalidTwoFactorCode, got %v", err)
	}

	stored, _ := h.users.GetByID(ctx, u.ID)
	if stored.LoginAttempts != 1 {
		t.Fatalf("expected bad code to count as a failed attempt, got %d", stored.LoginAttempts)
	}

	res, err := h.m.Login(ctx, Credentials{Email: "mfa@example.com", Password: goodPassword, TwoFactorCode: code})
	if err != nil {
		t.Fatalf("Login with code error: %v", err)
	}
	if !res.User.TwoFactorEnabled || res.User.TwoFactorSecret != "" {
		t.Fatalf("expected enabled flag without the secret")
	}

	if err := h.m.DisableTwoFactor(ctx, u.ID, "Wrong-Password-1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected password check on disable, got %v", err)
	}
	if err := h.m.DisableTwoFactor(ctx, u.ID, goodPassword); err != nil {
		t.Fatalf("DisableTwoFactor error: %v", err)
	}
	if _, err := h.login("mfa@example.com", goodPassword); err != nil {
		t.Fatalf("expected plain login after disable: %v", err)
	}
}

func TestLogin_RateLimited(t *testing.T) {
	clockNow := func() time.Time { return time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC) }
	limiter := ratelimit.NewMemoryLimiter(2, time.Minute, clockNow)
	h := newHarness(t, DefaultConfig(), WithLoginLimiter(limiter))
	h.seed(t, "rl@example.com", rbac.RoleViewer)

	_, _ = h.login("rl@example.com", "x")
	_, _ = h.login("rl@example.com", "x")

	_, err := h.login("rl@example.com", goodPassword)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	var rl *RateLimitedError
	if !errors.As(err, &rl) || rl.RetryAfter <= 0 {
		t.Fatalf("expected retry hint, got %v", err)
	}

	if _, err := h.login("other@example.com", "x"); errors.Is(err, ErrRateLimited) {
		t.Fatalf("limit must be per email")
	}
}

func TestVerifyToken(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.seed(t, "tok@example.com", rbac.RoleViewer)
	ctx := context.Background()

	res, err := h.login("tok@example.com", goodPassword)
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}

	if _, err := h.m.VerifyToken(ctx, tamperSignature(res.AccessToken)); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for tampered token, got %v", err)
	}
	if _, err := h.m.VerifyToken(ctx, "not-a-jwt"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for garbage, got %v", err)
	}

	if err := h.m.Logout(ctx, res.Session.ID); err != nil {
		t.Fatalf("Logout error: %v", err)
	}
	if _, err := h.m.VerifyToken(ctx, res.AccessToken); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired after logout, got %v", err)
	}

	// logout is idempotent
	if err := h.m.Logout(ctx, res.Session.ID); err != nil {
		t.Fatalf("second Logout error: %v", err)
	}
}

func TestVerifyToken_Expired(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.seed(t, "exp@example.com", rbac.RoleViewer)

	res, err := h.login("exp@example.com", goodPassword)
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}

	h.clock.Advance(16 * time.Minute)

	if _, err := h.m.VerifyToken(context.Background(), res.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerifyToken_UnboundIgnoresSession(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BindTokensToSession = false
	h := newHarness(t, cfg)
	h.seed(t, "free@example.com", rbac.RoleViewer)

	res, _ := h.login("free@example.com", goodPassword)
	_ = h.m.Logout(context.Background(), res.Session.ID)

	if _, err := h.m.VerifyToken(context.Background(), res.AccessToken); err != nil {
		t.Fatalf("expected stateless verification to pass, got %v", err)
	}
}

func TestRefresh_RotatesAndDetectsReuse(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.seed(t, "ref@example.com", rbac.RoleViewer)
	ctx := context.Background()

	first, err := h.login("ref@example.com", goodPassword)
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}

	h.clock.Advance(time.Minute)

	second, err := h.m.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	if second.RefreshToken == first.RefreshToken || second.AccessToken == first.AccessToken {
		t.Fatalf("expected a new token pair")
	}
	if second.Session.ID != first.Session.ID {
		t.Fatalf("refresh must stay on the same session")
	}
	if !second.Session.ExpiresAt.Equal(first.Session.ExpiresAt) {
		t.Fatalf("refresh must not extend the session")
	}

	// replaying the rotated token burns the session
	if _, err := h.m.Refresh(ctx, first.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid on reuse, got %v", err)
	}
	if _, err := h.m.Refresh(ctx, second.RefreshToken); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected session revoked after reuse, got %v", err)
	}
	if _, err := h.m.VerifyToken(ctx, second.AccessToken); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected access token dead with its session, got %v", err)
	}
}

func TestRefresh_Invalid(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.seed(t, "bad@example.com", rbac.RoleViewer)
	ctx := context.Background()

	res, _ := h.login("bad@example.com", goodPassword)

	for _, raw := range []string{"", "no-dot", res.Session.ID + ".forged", res.Session.ID + ".a.b"} {
		if _, err := h.m.Refresh(ctx, raw); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("%q: expected ErrTokenInvalid, got %v", raw, err)
		}
	}

	// a forged secret is not reuse; the real token still works
	if _, err := h.m.Refresh(ctx, res.RefreshToken); err != nil {
		t.Fatalf("expected genuine refresh to work, got %v", err)
	}

	h.clock.Advance(25 * time.Hour)
	if _, err := h.m.Refresh(ctx, res.RefreshToken); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired past session lifetime, got %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	u := h.seed(t, "pw@example.com", rbac.RoleViewer)
	ctx := context.Background()

	keep, _ := h.login("pw@example.com", goodPassword)
	drop, _ := h.login("pw@example.com", goodPassword)

	err := h.m.ChangePassword(ctx, PasswordChange{UserID: u.ID, Current: "Wrong-Password-1", New: "Another-Good-9"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	err = h.m.ChangePassword(ctx, PasswordChange{UserID: u.ID, Current: goodPassword, New: "short"})
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}

	before, _ := h.users.GetByID(ctx, u.ID)

	err = h.m.ChangePassword(ctx, PasswordChange{UserID: u.ID, Current: goodPassword, New: "Another-Good-9", KeepSessionID: keep.Session.ID})
	if err != nil {
		t.Fatalf("ChangePassword error: %v", err)
	}

	after, _ := h.users.GetByID(ctx, u.ID)
	if after.Salt == before.Salt || after.PasswordHash == before.PasswordHash {
		t.Fatalf("expected fresh salt and hash")
	}

	if _, err := h.login("pw@example.com", goodPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password should fail, got %v", err)
	}
	if _, err := h.login("pw@example.com", "Another-Good-9"); err != nil {
		t.Fatalf("new password should work: %v", err)
	}

	if _, err := h.m.VerifyToken(ctx, keep.AccessToken); err != nil {
		t.Fatalf("kept session should survive: %v", err)
	}
	if _, err := h.m.VerifyToken(ctx, drop.AccessToken); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("other sessions should be revoked, got %v", err)
	}
}

func TestUserManagement_Authorization(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	admin := h.seed(t, "admin@example.com", rbac.RoleAdmin)
	viewer := h.seed(t, "viewer@example.com", rbac.RoleViewer)
	ctx := context.Background()

	req := user.CreateUserRequest{Email: "new@example.com", Password: goodPassword, Name: "New", Role: rbac.RoleAgent}

	if _, err := h.m.CreateUser(ctx, viewer.ID, req); !errors.Is(err, ErrForbidden) {
		t.Fatalf("viewer create: expected ErrForbidden, got %v", err)
	}
	if _, err := h.m.CreateUser(ctx, "", req); !errors.Is(err, ErrForbidden) {
		t.Fatalf("anonymous create: expected ErrForbidden, got %v", err)
	}

	created, err := h.m.CreateUser(ctx, admin.ID, req)
	if err != nil {
		t.Fatalf("admin create error: %v", err)
	}
	if !rbac.HasPermission(created, rbac.PermClientsWrite) {
		t.Fatalf("expected agent permissions materialized")
	}

	req.Email = "NEW@example.com"
	if _, err := h.m.CreateUser(ctx, admin.ID, req); !errors.Is(err, ErrEmailAlreadyExists) {
		t.Fatalf("expected ErrEmailAlreadyExists, got %v", err)
	}

	if _, err := h.m.ListUsers(ctx, viewer.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("viewer list: expected ErrForbidden, got %v", err)
	}
	all, err := h.m.ListUsers(ctx, admin.ID)
	if err != nil || len(all) != 3 {
		t.Fatalf("expected 3 users, got %d err=%v", len(all), err)
	}

	// self read needs no permission
	if _, err := h.m.GetUser(ctx, viewer.ID, viewer.ID); err != nil {
		t.Fatalf("self read error: %v", err)
	}
	if _, err := h.m.GetUser(ctx, viewer.ID, admin.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden reading others, got %v", err)
	}
	if _, err := h.m.GetUser(ctx, admin.ID, "missing"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestUpdateUser_RoleChangeRederivesPermissions(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	admin := h.seed(t, "admin@example.com", rbac.RoleAdmin)
	target := h.seed(t, "t@example.com", rbac.RoleViewer)
	ctx := context.Background()

	res, _ := h.login("t@example.com", goodPassword)

	role := rbac.RoleManager
	updated, err := h.m.UpdateUser(ctx, admin.ID, target.ID, user.UpdateUserRequest{Role: &role})
	if err != nil {
		t.Fatalf("UpdateUser error: %v", err)
	}
	if !rbac.HasPermission(updated, rbac.PermUsersRead) {
		t.Fatalf("expected manager permissions after role change")
	}

	// existing token still carries the old set until refreshed
	claims, _ := h.m.VerifyToken(ctx, res.AccessToken)
	if rbac.HasPermission(claims, rbac.PermUsersRead) {
		t.Fatalf("old token should keep the permissions it was issued with")
	}

	refreshed, err := h.m.Refresh(ctx, res.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	claims, _ = h.m.VerifyToken(ctx, refreshed.AccessToken)
	if !rbac.HasPermission(claims, rbac.PermUsersRead) {
		t.Fatalf("refreshed token should carry the new permissions")
	}

	bogus := rbac.Role("root")
	if _, err := h.m.UpdateUser(ctx, admin.ID, target.ID, user.UpdateUserRequest{Role: &bogus}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown role, got %v", err)
	}
}

func TestUpdateUser_DeactivationRevokesSessions(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	admin := h.seed(t, "admin@example.com", rbac.RoleAdmin)
	target := h.seed(t, "t@example.com", rbac.RoleAdmin)
	ctx := context.Background()

	res, _ := h.login("t@example.com", goodPassword)

	status := user.StatusInactive
	if _, err := h.m.UpdateUser(ctx, admin.ID, target.ID, user.UpdateUserRequest{Status: &status}); err != nil {
		t.Fatalf("UpdateUser error: %v", err)
	}

	if _, err := h.m.VerifyToken(ctx, res.AccessToken); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected sessions revoked, got %v", err)
	}

	// a deactivated admin loses admin powers at once
	if _, err := h.m.ListUsers(ctx, target.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for inactive actor, got %v", err)
	}
}

func TestDeleteUser_CascadesSessions(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	admin := h.seed(t, "admin@example.com", rbac.RoleAdmin)
	target := h.seed(t, "doomed@example.com", rbac.RoleAgent)
	ctx := context.Background()

	a, _ := h.login("doomed@example.com", goodPassword)
	b, _ := h.login("doomed@example.com", goodPassword)

	if err := h.m.DeleteUser(ctx, target.ID, admin.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("agent delete: expected ErrForbidden, got %v", err)
	}

	if err := h.m.DeleteUser(ctx, admin.ID, target.ID); err != nil {
		t.Fatalf("DeleteUser error: %v", err)
	}

	for _, res := range []*LoginResult{a, b} {
		if _, err := h.m.VerifyToken(ctx, res.AccessToken); !errors.Is(err, ErrSessionExpired) {
			t.Fatalf("expected ErrSessionExpired after delete, got %v", err)
		}
	}
	if _, err := h.login("doomed@example.com", goodPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected deleted user login to fail, got %v", err)
	}
	if err := h.m.DeleteUser(ctx, admin.ID, target.ID); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestUnlockUser(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	admin := h.seed(t, "admin@example.com", rbac.RoleAdmin)
	h.seed(t, "locked@example.com", rbac.RoleViewer)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = h.login("locked@example.com", "nope")
	}
	locked, _ := h.users.GetByEmail(ctx, "locked@example.com")

	if _, err := h.m.UnlockUser(ctx, admin.ID, locked.ID); err != nil {
		t.Fatalf("UnlockUser error: %v", err)
	}
	if _, err := h.login("locked@example.com", goodPassword); err != nil {
		t.Fatalf("expected login after unlock: %v", err)
	}
}

func TestRegister(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()

	u, err := h.m.Register(ctx, user.RegisterRequest{Email: "Self@Example.com", Password: goodPassword, Name: "Self"})
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if u.Role != rbac.RoleViewer || u.Email != "self@example.com" || u.Status != user.StatusActive {
		t.Fatalf("unexpected registered user %+v", u)
	}

	if _, err := h.m.Register(ctx, user.RegisterRequest{Email: "weak@example.com", Password: "password", Name: "W"}); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	if _, err := h.m.Register(ctx, user.RegisterRequest{Email: "not-an-email", Password: goodPassword}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := h.m.Register(ctx, user.RegisterRequest{Email: "self@example.com", Password: goodPassword}); !errors.Is(err, ErrEmailAlreadyExists) {
		t.Fatalf("expected ErrEmailAlreadyExists, got %v", err)
	}
}

func TestSessionsAndRevoke(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	u := h.seed(t, "s@example.com", rbac.RoleViewer)
	other := h.seed(t, "o@example.com", rbac.RoleViewer)
	ctx := context.Background()

	a, _ := h.login("s@example.com", goodPassword)
	_, _ = h.login("s@example.com", goodPassword)

	list, err := h.m.Sessions(ctx, u.ID)
	if err != nil || len(list) != 2 {
		t.Fatalf("expected 2 sessions, got %d err=%v", len(list), err)
	}

	if err := h.m.RevokeSession(ctx, other.ID, a.Session.ID); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected foreign revoke to fail, got %v", err)
	}
	if err := h.m.RevokeSession(ctx, u.ID, a.Session.ID); err != nil {
		t.Fatalf("RevokeSession error: %v", err)
	}

	n, err := h.m.LogoutAll(ctx, u.ID)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 remaining session removed, got %d err=%v", n, err)
	}
}

func TestListUsersPage(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	admin := h.seed(t, "admin@example.com", rbac.RoleAdmin)
	for i := 0; i < 4; i++ {
		h.clock.Advance(time.Second)
		h.seed(t, fmt.Sprintf("user%d@example.com", i), rbac.RoleViewer)
	}
	ctx := context.Background()

	seen := map[string]bool{}
	cursor := ""
	pages := 0
	for {
		page, err := h.m.ListUsersPage(ctx, admin.ID, cursor, 2)
		if err != nil {
			t.Fatalf("ListUsersPage error: %v", err)
		}
		pages++
		for _, u := range page.Items {
			if seen[u.ID] {
				t.Fatalf("user %s returned twice", u.ID)
			}
			if u.PasswordHash != "" {
				t.Fatalf("page leaked a password hash")
			}
			seen[u.ID] = true
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	if len(seen) != 5 || pages != 3 {
		t.Fatalf("expected 5 users over 3 pages, got %d over %d", len(seen), pages)
	}

	if _, err := h.m.ListUsersPage(ctx, admin.ID, "garbage", 2); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad cursor, got %v", err)
	}
}
