package auth

import (
	"time"

	"github.com/geocoder89/authcore/internal/domain/user"
)

const (
	DefaultMaxLoginAttempts = 5
	DefaultLockoutDuration  = 30 * time.Minute
)

// LockoutPolicy is the per-user failure counter. It only mutates the record
// it is handed; persisting it is the caller's job, under the user's lock.
type LockoutPolicy struct {
	MaxAttempts int
	Duration    time.Duration
}

func NewLockoutPolicy(maxAttempts int, duration time.Duration) LockoutPolicy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxLoginAttempts
	}
	if duration <= 0 {
		duration = DefaultLockoutDuration
	}
	return LockoutPolicy{MaxAttempts: maxAttempts, Duration: duration}
}

// Check rejects the attempt while the lock is in force. An elapsed lock lets
// the attempt through to password verification.
func (p LockoutPolicy) Check(u *user.User, now time.Time) error {
	if u.LockedUntil != nil && now.Before(*u.LockedUntil) {
		return &LockedError{Until: *u.LockedUntil}
	}
	return nil
}

// RegisterFailure counts a failed attempt and reports whether it locked the
// account. A failure after an elapsed lock re-locks immediately because the
// counter is still at or above the limit.
func (p LockoutPolicy) RegisterFailure(u *user.User, now time.Time) bool {
	u.LoginAttempts++
	if u.LoginAttempts >= p.MaxAttempts {
		until := now.Add(p.Duration)
		u.LockedUntil = &until
		return true
	}
	return false
}

func (p LockoutPolicy) RegisterSuccess(u *user.User) {
	u.LoginAttempts = 0
	u.LockedUntil = nil
}

// Unlock is the administrative override.
func (p LockoutPolicy) Unlock(u *user.User) {
	u.LoginAttempts = 0
	u.LockedUntil = nil
}

func (p LockoutPolicy) Locked(u user.User, now time.Time) bool {
	return p.Check(&u, now) != nil
}
