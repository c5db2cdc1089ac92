package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/geocoder89/authcore/internal/domain/user"
	"github.com/geocoder89/authcore/internal/notifications"
	"github.com/geocoder89/authcore/internal/security"
	"github.com/geocoder89/authcore/internal/session"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type Credentials struct {
	Email         string
	Password      string
	TwoFactorCode string
	RememberMe    bool
}

type LoginResult struct {
	User         user.User
	Session      session.Session
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

type loginOutcome struct {
	user user.User
	sess session.Session
	err  error
}

// Login authenticates and opens a session.
//
// The work runs detached from ctx: if the caller gives up, the password
// check still finishes and the counters are persisted, but no session is
// kept and ErrLoginTimeout is returned.
func (m *Manager) Login(ctx context.Context, creds Credentials) (*LoginResult, error) {
	ctx, span := m.tracer.Start(ctx, "auth.Login")
	defer span.End()

	email := security.NormalizeEmail(creds.Email)
	if email == "" || creds.Password == "" {
		m.metrics.LoginResult("invalid_credentials")
		return nil, ErrInvalidCredentials
	}

	if m.limiter != nil {
		d, err := m.limiter.Allow(ctx, "login:"+email)
		if err != nil {
			return nil, fmt.Errorf("login rate limit: %w", err)
		}
		if !d.Allowed {
			m.metrics.LoginResult("rate_limited")
			return nil, &RateLimitedError{RetryAfter: d.RetryAfter}
		}
	}

	done := make(chan loginOutcome)
	abandoned := make(chan struct{})
	go m.completeLogin(context.WithoutCancel(ctx), email, creds, done, abandoned)

	waitCtx := ctx
	if m.cfg.LoginTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, m.cfg.LoginTimeout)
		defer cancel()
	}

	var out loginOutcome
	select {
	case out = <-done:
	case <-waitCtx.Done():
		close(abandoned)
		m.log.WarnContext(ctx, "login timed out, finishing in background", "email", security.MaskEmail(email))
		m.metrics.LoginResult("timeout")
		span.SetStatus(codes.Error, "timeout")
		return nil, fmt.Errorf("%w: %w", ErrLoginTimeout, waitCtx.Err())
	}

	if out.err != nil {
		m.recordLoginError(ctx, email, out.err)
		if !IsExpected(out.err) {
			span.RecordError(out.err)
			span.SetStatus(codes.Error, "login failed")
		}
		return nil, out.err
	}

	u, sess := out.user, out.sess

	if m.limiter != nil {
		if err := m.limiter.Reset(ctx, "login:"+email); err != nil {
			m.log.WarnContext(ctx, "reset login limiter", "err", err)
		}
	}

	span.SetAttributes(attribute.String("user.id", u.ID), attribute.String("session.id", sess.ID))
	m.metrics.LoginResult("success")
	m.log.InfoContext(ctx, "login", "user_id", u.ID, "session_id", sess.ID, "remember_me", creds.RememberMe)

	return &LoginResult{
		User:         u.Public(),
		Session:      sess,
		AccessToken:  sess.Token,
		RefreshToken: sess.RefreshToken,
		ExpiresAt:    sess.TokenExpiresAt,
	}, nil
}

// completeLogin runs authentication and session creation under the user's
// lock, so a concurrent delete or revocation sees either no session or the
// finished one. Once abandoned is closed nobody reads done; a session
// written by then is removed again.
func (m *Manager) completeLogin(ctx context.Context, email string, creds Credentials, done chan<- loginOutcome, abandoned <-chan struct{}) {
	deliver := func(out loginOutcome) bool {
		select {
		case done <- out:
			return true
		case <-abandoned:
			return false
		}
	}

	u, unlock, err := m.authenticate(ctx, email, creds)
	if err != nil {
		deliver(loginOutcome{err: err})
		return
	}
	defer unlock()

	select {
	case <-abandoned:
		return
	default:
	}

	ttl := m.cfg.SessionTTL
	if creds.RememberMe {
		ttl = m.cfg.RememberMeTTL
	}

	sess, err := m.sessions.Create(ctx, u.ID, ttl, creds.RememberMe, m.issuer(u))
	if err != nil {
		deliver(loginOutcome{err: fmt.Errorf("create session: %w", err)})
		return
	}

	if !deliver(loginOutcome{user: u, sess: sess}) {
		if err := m.sessions.Invalidate(ctx, sess.ID); err != nil {
			m.log.WarnContext(ctx, "drop session of abandoned login", "session_id", sess.ID, "err", err)
		}
	}
}

// authenticate is lookup, status, lockout gate, password, second factor and
// the counter update. On success the user's lock is still held and the
// returned unlock releases it.
func (m *Manager) authenticate(ctx context.Context, email string, creds Credentials) (user.User, func(), error) {
	found, err := m.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			m.burn(creds.Password)
			return user.User{}, nil, ErrInvalidCredentials
		}
		return user.User{}, nil, fmt.Errorf("lookup user: %w", err)
	}

	unlock := m.locks.Lock(found.ID)

	u, err := m.checkCredentials(ctx, found.ID, creds)
	if err != nil {
		unlock()
		return user.User{}, nil, err
	}
	return u, unlock, nil
}

// checkCredentials expects the caller to hold the lock for id.
func (m *Manager) checkCredentials(ctx context.Context, id string, creds Credentials) (user.User, error) {
	// re-read under the lock, another attempt may have moved the counters
	u, err := m.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			m.burn(creds.Password)
			return user.User{}, ErrInvalidCredentials
		}
		return user.User{}, fmt.Errorf("reload user: %w", err)
	}

	if u.Status != user.StatusActive {
		return user.User{}, ErrAccountInactive
	}

	now := m.now().UTC()
	if err := m.lockout.Check(&u, now); err != nil {
		return user.User{}, err
	}

	if !m.verifyPassword(u, creds.Password) {
		return user.User{}, m.recordFailure(ctx, &u, now, ErrInvalidCredentials)
	}

	if u.TwoFactorEnabled {
		if creds.TwoFactorCode == "" {
			return user.User{}, ErrTwoFactorRequired
		}
		if err := checkTOTP(u.TwoFactorSecret, creds.TwoFactorCode, now); err != nil {
			return user.User{}, m.recordFailure(ctx, &u, now, err)
		}
	}

	m.lockout.RegisterSuccess(&u)
	u.LastLoginAt = &now
	u.UpdatedAt = now

	if err := m.users.Save(ctx, u); err != nil {
		return user.User{}, fmt.Errorf("save user: %w", err)
	}
	return u, nil
}

// recordFailure persists the incremented counter and hands back the error
// the caller should see.
func (m *Manager) recordFailure(ctx context.Context, u *user.User, now time.Time, cause error) error {
	locked := m.lockout.RegisterFailure(u, now)
	u.UpdatedAt = now

	if err := m.users.Save(ctx, *u); err != nil {
		return fmt.Errorf("save failed attempt: %w", err)
	}

	if locked {
		m.metrics.AccountLocked()
		m.log.WarnContext(ctx, "account locked",
			"user_id", u.ID,
			"attempts", u.LoginAttempts,
			"locked_until", u.LockedUntil,
		)
		m.notify(ctx, notifications.AlertAccountLocked, *u, map[string]string{
			"locked_until": u.LockedUntil.Format(time.RFC3339),
		})
	}
	return cause
}

func (m *Manager) recordLoginError(ctx context.Context, email string, err error) {
	code, ok := CodeOf(err)
	if !ok {
		m.metrics.LoginResult("error")
		m.log.ErrorContext(ctx, "login failed", "email", security.MaskEmail(email), "err", err)
		return
	}

	m.metrics.LoginResult(metricLabel(code))
	m.log.InfoContext(ctx, "login rejected", "email", security.MaskEmail(email), "code", string(code))
}

func metricLabel(c Code) string {
	switch c {
	case CodeInvalidCredentials:
		return "invalid_credentials"
	case CodeAccountLocked:
		return "locked"
	case CodeAccountInactive:
		return "inactive"
	case CodeTwoFactorRequired:
		return "two_factor_required"
	case CodeInvalidTwoFactorCode:
		return "invalid_two_factor"
	default:
		return "other"
	}
}

// Logout drops one session. Unknown or expired ids are not an error.
func (m *Manager) Logout(ctx context.Context, sessionID string) error {
	sess, ok, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	// a refresh in flight for this session finishes before the delete
	unlock := m.locks.Lock(sess.UserID)
	defer unlock()

	if err := m.sessions.Invalidate(ctx, sessionID); err != nil {
		return err
	}
	m.log.InfoContext(ctx, "logout", "session_id", sessionID)
	return nil
}

// LogoutAll drops every session of userID.
func (m *Manager) LogoutAll(ctx context.Context, userID string) (int, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()

	n, err := m.sessions.InvalidateAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	m.log.InfoContext(ctx, "logout all", "user_id", userID, "sessions", n)
	return n, nil
}

// VerifyToken checks an access token and, with session binding on, that
// its session is still live.
func (m *Manager) VerifyToken(ctx context.Context, token string) (*Claims, error) {
	claims, err := m.tokens.Verify(token)
	if err != nil {
		return nil, err
	}

	if !m.cfg.BindTokensToSession {
		return claims, nil
	}

	if claims.SessionID == "" {
		return nil, ErrTokenInvalid
	}

	sess, ok, err := m.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if !ok || sess.UserID != claims.UserID {
		return nil, ErrSessionExpired
	}
	return claims, nil
}

// Refresh trades a refresh token for a new pair. Each refresh token works
// once; presenting an already rotated one revokes the whole session.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	ctx, span := m.tracer.Start(ctx, "auth.Refresh")
	defer span.End()

	sessionID, hash, err := m.tokens.ParseRefreshToken(refreshToken)
	if err != nil {
		m.metrics.RefreshResult("invalid")
		return nil, err
	}

	peek, ok, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		m.metrics.RefreshResult("expired")
		return nil, ErrSessionExpired
	}

	// session writes for a user happen under that user's lock; read again
	// once it is held, a logout or revocation may have won the race
	unlock := m.locks.Lock(peek.UserID)
	defer unlock()

	sess, ok, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !ok || sess.UserID != peek.UserID {
		m.metrics.RefreshResult("expired")
		return nil, ErrSessionExpired
	}

	if !hashesEqual(hash, sess.RefreshHash) {
		if hashesEqual(hash, sess.PrevRefreshHash) {
			m.log.WarnContext(ctx, "refresh token reuse, revoking session",
				"session_id", sess.ID, "user_id", sess.UserID)
			if err := m.sessions.Invalidate(ctx, sess.ID); err != nil {
				return nil, err
			}
			m.metrics.RefreshResult("reuse")
			if owner, err := m.users.GetByID(ctx, sess.UserID); err == nil {
				m.notify(ctx, notifications.AlertRefreshReuse, owner, map[string]string{"session_id": sess.ID})
			}
			return nil, ErrTokenInvalid
		}
		m.metrics.RefreshResult("invalid")
		return nil, ErrTokenInvalid
	}

	u, err := m.users.GetByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			if err := m.sessions.Invalidate(ctx, sess.ID); err != nil {
				m.log.WarnContext(ctx, "drop session of deleted user", "session_id", sess.ID, "err", err)
			}
			m.metrics.RefreshResult("expired")
			return nil, ErrSessionExpired
		}
		return nil, fmt.Errorf("refresh lookup user: %w", err)
	}
	if u.Status != user.StatusActive {
		if err := m.sessions.Invalidate(ctx, sess.ID); err != nil {
			return nil, err
		}
		m.metrics.RefreshResult("inactive")
		return nil, ErrAccountInactive
	}

	rotated, err := m.sessions.Rotate(ctx, sess, m.issuer(u))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			m.metrics.RefreshResult("expired")
			return nil, ErrSessionExpired
		}
		return nil, fmt.Errorf("rotate session: %w", err)
	}

	m.metrics.RefreshResult("success")

	return &LoginResult{
		User:         u.Public(),
		Session:      rotated,
		AccessToken:  rotated.Token,
		RefreshToken: rotated.RefreshToken,
		ExpiresAt:    rotated.TokenExpiresAt,
	}, nil
}

// Sessions lists the live sessions of userID.
func (m *Manager) Sessions(ctx context.Context, userID string) ([]session.Session, error) {
	return m.sessions.ListForUser(ctx, userID)
}

// RevokeSession drops one of the caller's own sessions. Someone else's
// session id looks the same as an unknown one.
func (m *Manager) RevokeSession(ctx context.Context, userID, sessionID string) error {
	unlock := m.locks.Lock(userID)
	defer unlock()

	sess, ok, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if !ok || sess.UserID != userID {
		return ErrSessionExpired
	}
	return m.sessions.Invalidate(ctx, sessionID)
}
