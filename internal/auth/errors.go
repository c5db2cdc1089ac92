package auth

import (
	"errors"
	"time"
)

// Code is the stable discriminant callers switch on. HTTP handlers map it to
// status codes; nothing should parse Error() strings.
type Code string

const (
	CodeInvalidCredentials   Code = "INVALID_CREDENTIALS"
	CodeAccountLocked        Code = "ACCOUNT_LOCKED"
	CodeAccountInactive      Code = "ACCOUNT_INACTIVE"
	CodeTwoFactorRequired    Code = "TWO_FACTOR_REQUIRED"
	CodeInvalidTwoFactorCode Code = "INVALID_TWO_FACTOR_CODE"
	CodeEmailAlreadyExists   Code = "EMAIL_ALREADY_EXISTS"
	CodeUserNotFound         Code = "USER_NOT_FOUND"
	CodeTokenExpired         Code = "TOKEN_EXPIRED"
	CodeTokenInvalid         Code = "TOKEN_INVALID"
	CodeSessionExpired       Code = "SESSION_EXPIRED"
	CodeForbidden            Code = "FORBIDDEN"
	CodeWeakPassword         Code = "WEAK_PASSWORD"
	CodeInvalidInput         Code = "INVALID_INPUT"
	CodeRateLimited          Code = "RATE_LIMITED"
	CodeLoginTimeout         Code = "LOGIN_TIMEOUT"
)

// Error is an expected failure. Anything else coming out of this package is
// a storage or infrastructure fault.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return e.Message }

var (
	ErrInvalidCredentials   = &Error{CodeInvalidCredentials, "invalid email or password"}
	ErrAccountLocked        = &Error{CodeAccountLocked, "account is temporarily locked"}
	ErrAccountInactive      = &Error{CodeAccountInactive, "account is not active"}
	ErrTwoFactorRequired    = &Error{CodeTwoFactorRequired, "two-factor code required"}
	ErrInvalidTwoFactorCode = &Error{CodeInvalidTwoFactorCode, "invalid two-factor code"}
	ErrEmailAlreadyExists   = &Error{CodeEmailAlreadyExists, "email already registered"}
	ErrUserNotFound         = &Error{CodeUserNotFound, "user not found"}
	ErrTokenExpired         = &Error{CodeTokenExpired, "token expired"}
	ErrTokenInvalid         = &Error{CodeTokenInvalid, "token invalid"}
	ErrSessionExpired       = &Error{CodeSessionExpired, "session expired"}
	ErrForbidden            = &Error{CodeForbidden, "forbidden"}
	ErrWeakPassword         = &Error{CodeWeakPassword, "password does not meet the strength policy"}
	ErrInvalidInput         = &Error{CodeInvalidInput, "invalid input"}
	ErrRateLimited          = &Error{CodeRateLimited, "too many attempts"}
	ErrLoginTimeout         = &Error{CodeLoginTimeout, "login timed out"}
)

// LockedError carries the lock deadline. errors.Is(err, ErrAccountLocked)
// holds for it.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string { return ErrAccountLocked.Message }

func (e *LockedError) Unwrap() error { return ErrAccountLocked }

// RateLimitedError carries how long the caller should wait.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string { return ErrRateLimited.Message }

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// CodeOf reports the discriminant of an expected error.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}

// IsExpected is true for the taxonomy above and false for infrastructure
// faults.
func IsExpected(err error) bool {
	_, ok := CodeOf(err)
	return ok
}
