package notifications

import (
	"context"
	"time"
)

type AlertKind string

const (
	AlertAccountLocked   AlertKind = "account_locked"
	AlertRefreshReuse    AlertKind = "refresh_token_reuse"
	AlertPasswordChanged AlertKind = "password_changed"
	AlertTwoFactorOff    AlertKind = "two_factor_disabled"
)

// Alert tells a user (or an operator) about a security relevant change on
// an account. It never carries credentials.
type Alert struct {
	Kind   AlertKind
	UserID string
	Email  string
	At     time.Time
	// Detail is free form context, e.g. the lock expiry or the revoked
	// session id.
	Detail map[string]string
}

type Notifier interface {
	SendSecurityAlert(ctx context.Context, alert Alert) error
}
