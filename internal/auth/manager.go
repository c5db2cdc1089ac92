package auth

import (
	"context"
	"crypto/rand"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/geocoder89/authcore/internal/domain/user"
	"github.com/geocoder89/authcore/internal/notifications"
	"github.com/geocoder89/authcore/internal/ratelimit"
	"github.com/geocoder89/authcore/internal/security"
	"github.com/geocoder89/authcore/internal/session"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Directory is where user records live. Implementations report
// user.ErrNotFound and user.ErrEmailAlreadyTaken.
type Directory interface {
	GetByEmail(ctx context.Context, email string) (user.User, error)
	GetByID(ctx context.Context, id string) (user.User, error)
	Save(ctx context.Context, u user.User) error
	Delete(ctx context.Context, id string) error
	ListAll(ctx context.Context) ([]user.User, error)
}

// Metrics receives auth outcomes. observability.Prom implements it.
type Metrics interface {
	LoginResult(result string)
	AccountLocked()
	ObserveHash(d time.Duration)
	RefreshResult(result string)
}

type noopMetrics struct{}

func (noopMetrics) LoginResult(string)        {}
func (noopMetrics) AccountLocked()            {}
func (noopMetrics) ObserveHash(time.Duration) {}
func (noopMetrics) RefreshResult(string)      {}

type Config struct {
	AccessTokenTTL   time.Duration
	SessionTTL       time.Duration
	RememberMeTTL    time.Duration
	LoginTimeout     time.Duration
	MaxLoginAttempts int
	LockoutDuration  time.Duration
	TOTPIssuer       string

	// BindTokensToSession makes VerifyToken reject access tokens whose
	// session has been revoked or has expired.
	BindTokensToSession bool
}

func DefaultConfig() Config {
	return Config{
		AccessTokenTTL:      15 * time.Minute,
		SessionTTL:          24 * time.Hour,
		RememberMeTTL:       30 * 24 * time.Hour,
		LoginTimeout:        10 * time.Second,
		MaxLoginAttempts:    DefaultMaxLoginAttempts,
		LockoutDuration:     DefaultLockoutDuration,
		TOTPIssuer:          "authcore",
		BindTokensToSession: true,
	}
}

type Manager struct {
	cfg      Config
	users    Directory
	sessions *session.Store
	tokens   *TokenManager
	hasher   *security.Hasher
	pool     *security.HashPool
	lockout  LockoutPolicy
	limiter  ratelimit.Limiter
	locks    *keyLock

	notifier notifications.Notifier
	alerts   sync.WaitGroup

	log     *slog.Logger
	metrics Metrics
	tracer  trace.Tracer
	now     func() time.Time
	random  io.Reader
}

type Option func(*Manager)

func WithHasher(h *security.Hasher) Option {
	return func(m *Manager) {
		if h != nil {
			m.hasher = h
		}
	}
}

func WithHashPool(p *security.HashPool) Option {
	return func(m *Manager) {
		if p != nil {
			m.pool = p
		}
	}
}

// WithLoginLimiter throttles login attempts per email address.
func WithLoginLimiter(l ratelimit.Limiter) Option {
	return func(m *Manager) {
		m.limiter = l
	}
}

// WithNotifier sends security alerts (lockouts, refresh reuse, credential
// changes) to n, off the request path.
func WithNotifier(n notifications.Notifier) Option {
	return func(m *Manager) {
		m.notifier = n
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

func WithMetrics(metrics Metrics) Option {
	return func(m *Manager) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithRandom(r io.Reader) Option {
	return func(m *Manager) {
		if r != nil {
			m.random = r
		}
	}
}

func NewManager(cfg Config, users Directory, sessions *session.Store, tokens *TokenManager, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = def.AccessTokenTTL
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = def.SessionTTL
	}
	if cfg.RememberMeTTL <= 0 {
		cfg.RememberMeTTL = def.RememberMeTTL
	}
	if cfg.TOTPIssuer == "" {
		cfg.TOTPIssuer = def.TOTPIssuer
	}

	m := &Manager{
		cfg:      cfg,
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		hasher:   security.NewHasher(),
		pool:     security.NewHashPool(0),
		lockout:  NewLockoutPolicy(cfg.MaxLoginAttempts, cfg.LockoutDuration),
		locks:    newKeyLock(),
		log:      slog.Default(),
		metrics:  noopMetrics{},
		tracer:   otel.Tracer("github.com/geocoder89/authcore/internal/auth"),
		now:      time.Now,
		random:   rand.Reader,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Lockout() LockoutPolicy { return m.lockout }

// Drain waits for in-flight security alerts.
func (m *Manager) Drain() { m.alerts.Wait() }

func (m *Manager) notify(ctx context.Context, kind notifications.AlertKind, u user.User, detail map[string]string) {
	if m.notifier == nil {
		return
	}

	alert := notifications.Alert{
		Kind:   kind,
		UserID: u.ID,
		Email:  u.Email,
		At:     m.now().UTC(),
		Detail: detail,
	}
	ctx = context.WithoutCancel(ctx)

	m.alerts.Add(1)
	go func() {
		defer m.alerts.Done()
		if err := m.notifier.SendSecurityAlert(ctx, alert); err != nil {
			m.log.WarnContext(ctx, "security alert not sent", "kind", string(kind), "user_id", u.ID, "err", err)
		}
	}()
}

// issuer mints the access/refresh pair for u. Access tokens never outlive
// their session.
func (m *Manager) issuer(u user.User) session.IssueFunc {
	return func(sessionID string, expiresAt time.Time) (session.Tokens, error) {
		ttl := m.cfg.AccessTokenTTL
		if left := expiresAt.Sub(m.now()); left < ttl {
			ttl = left
		}

		access, accessExp, err := m.tokens.IssueAccessToken(u, sessionID, ttl)
		if err != nil {
			return session.Tokens{}, err
		}

		raw, hash, err := m.tokens.IssueRefreshToken(sessionID)
		if err != nil {
			return session.Tokens{}, err
		}

		return session.Tokens{
			AccessToken:     access,
			AccessExpiresAt: accessExp,
			RefreshToken:    raw,
			RefreshHash:     hash,
		}, nil
	}
}

func (m *Manager) verifyPassword(u user.User, password string) bool {
	var ok bool
	start := time.Now()
	m.pool.Run(func() {
		ok = m.hasher.Verify(password, u.PasswordHash, u.Salt)
	})
	m.metrics.ObserveHash(time.Since(start))
	return ok
}

func (m *Manager) hashPassword(password string) (hash, salt string, err error) {
	start := time.Now()
	m.pool.Run(func() {
		hash, salt, err = m.hasher.Hash(password, "")
	})
	m.metrics.ObserveHash(time.Since(start))
	return hash, salt, err
}

// burn spends one derivation so unknown accounts cost the same as known ones.
func (m *Manager) burn(password string) {
	m.pool.Run(func() {
		m.hasher.Burn(password)
	})
}
