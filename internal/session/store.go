package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/geocoder89/authcore/internal/kv"
	"github.com/geocoder89/authcore/internal/security"
)

const (
	keyPrefix   = "sess:"
	idBytes     = 32
	minSweepGap = time.Second
)

var ErrNotFound = errors.New("session not found")

// Store does no locking of its own. Callers serialize writes that belong to
// one user; the sweeper only ever deletes expired records.
type Store struct {
	kv     kv.Store[Session]
	now    func() time.Time
	random io.Reader
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithRandom(r io.Reader) Option {
	return func(s *Store) {
		if r != nil {
			s.random = r
		}
	}
}

func NewStore(backend kv.Store[Session], opts ...Option) *Store {
	s := &Store{
		kv:     backend,
		now:    time.Now,
		random: rand.Reader,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create allocates a session id, asks issue for the token pair and persists
// the complete record in one write. If issue fails nothing is stored.
func (s *Store) Create(ctx context.Context, userID string, ttl time.Duration, rememberMe bool, issue IssueFunc) (Session, error) {
	id, err := security.RandomToken(s.random, idBytes)
	if err != nil {
		return Session{}, fmt.Errorf("session id: %w", err)
	}

	now := s.now().UTC()
	expiresAt := now.Add(ttl)

	tokens, err := issue(id, expiresAt)
	if err != nil {
		return Session{}, err
	}

	sess := Session{
		ID:             id,
		UserID:         userID,
		Token:          tokens.AccessToken,
		TokenExpiresAt: tokens.AccessExpiresAt,
		RefreshHash:    tokens.RefreshHash,
		RememberMe:     rememberMe,
		ExpiresAt:      expiresAt,
		CreatedAt:      now,
	}

	if err := s.put(ctx, sess, now); err != nil {
		return Session{}, err
	}

	sess.RefreshToken = tokens.RefreshToken
	return sess, nil
}

// Get returns the session only while it is unexpired. An expired entry is
// deleted on the way out; repeated calls keep returning absent.
func (s *Store) Get(ctx context.Context, id string) (Session, bool, error) {
	if id == "" {
		return Session{}, false, nil
	}

	sess, ok, err := s.kv.Get(ctx, keyPrefix+id)
	if err != nil {
		return Session{}, false, fmt.Errorf("session get: %w", err)
	}
	if !ok {
		return Session{}, false, nil
	}

	if sess.Expired(s.now()) {
		if err := s.kv.Delete(ctx, keyPrefix+id); err != nil {
			return Session{}, false, fmt.Errorf("session evict: %w", err)
		}
		return Session{}, false, nil
	}

	return sess, true, nil
}

// Rotate swaps in a freshly issued token pair, remembering the previous
// refresh hash so a replayed token can be recognised.
func (s *Store) Rotate(ctx context.Context, sess Session, issue IssueFunc) (Session, error) {
	now := s.now().UTC()
	if sess.Expired(now) {
		return Session{}, ErrNotFound
	}

	tokens, err := issue(sess.ID, sess.ExpiresAt)
	if err != nil {
		return Session{}, err
	}

	sess.PrevRefreshHash = sess.RefreshHash
	sess.RefreshHash = tokens.RefreshHash
	sess.Token = tokens.AccessToken
	sess.TokenExpiresAt = tokens.AccessExpiresAt
	sess.LastRefreshedAt = &now
	sess.RefreshToken = ""

	if err := s.put(ctx, sess, now); err != nil {
		return Session{}, err
	}

	sess.RefreshToken = tokens.RefreshToken
	return sess, nil
}

func (s *Store) Invalidate(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := s.kv.Delete(ctx, keyPrefix+id); err != nil {
		return fmt.Errorf("session delete: %w", err)
	}
	return nil
}

// InvalidateAllForUser removes every session owned by userID and reports how
// many were removed.
func (s *Store) InvalidateAllForUser(ctx context.Context, userID string) (int, error) {
	return s.invalidateWhere(ctx, func(sess Session) bool {
		return sess.UserID == userID
	})
}

// InvalidateOthersForUser keeps only the session identified by keepID.
func (s *Store) InvalidateOthersForUser(ctx context.Context, userID, keepID string) (int, error) {
	return s.invalidateWhere(ctx, func(sess Session) bool {
		return sess.UserID == userID && sess.ID != keepID
	})
}

func (s *Store) ListForUser(ctx context.Context, userID string) ([]Session, error) {
	now := s.now()
	var out []Session

	err := s.kv.Scan(ctx, keyPrefix, func(_ string, sess Session) bool {
		if sess.UserID == userID && !sess.Expired(now) {
			out = append(out, sess)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("session list: %w", err)
	}
	return out, nil
}

// Sweep deletes every expired session using the same rule as Get.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	return s.invalidateWhere(ctx, func(sess Session) bool {
		return sess.Expired(now)
	})
}

// SweepObserver is told about every sweep, failed ones included.
type SweepObserver func(removed int, took time.Duration, err error)

// RunSweeper sweeps on every tick until ctx is done.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration, log *slog.Logger, observe SweepObserver) {
	if interval < minSweepGap {
		interval = minSweepGap
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("session sweeper stopped")
			return

		case <-ticker.C:
			start := time.Now()
			n, err := s.Sweep(ctx)
			if err != nil && ctx.Err() != nil {
				return
			}
			if observe != nil {
				observe(n, time.Since(start), err)
			}
			if err != nil {
				log.Warn("session sweep failed", "err", err)
				continue
			}
			if n > 0 {
				log.Debug("session sweep", "removed", n)
			}
		}
	}
}

func (s *Store) invalidateWhere(ctx context.Context, match func(Session) bool) (int, error) {
	var ids []string

	err := s.kv.Scan(ctx, keyPrefix, func(_ string, sess Session) bool {
		if match(sess) {
			ids = append(ids, sess.ID)
		}
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("session scan: %w", err)
	}

	for _, id := range ids {
		if err := s.kv.Delete(ctx, keyPrefix+id); err != nil {
			return 0, fmt.Errorf("session delete: %w", err)
		}
	}
	return len(ids), nil
}

func (s *Store) put(ctx context.Context, sess Session, now time.Time) error {
	sess.RefreshToken = ""

	if err := s.kv.Set(ctx, keyPrefix+sess.ID, sess, sess.ExpiresAt.Sub(now)); err != nil {
		return fmt.Errorf("session put: %w", err)
	}
	return nil
}
