package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/geocoder89/authcore/internal/domain/user"
	"github.com/geocoder89/authcore/internal/notifications"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

var totpOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// TwoFactorEnrollment is handed to the user once; the secret is not
// retrievable afterwards.
type TwoFactorEnrollment struct {
	Secret string `json:"secret"`
	URL    string `json:"otpauthUrl"`
}

func newTOTPKey(issuer, account string, random io.Reader) (*otp.Key, error) {
	return totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
		Period:      totpOpts.Period,
		Digits:      totpOpts.Digits,
		Algorithm:   totpOpts.Algorithm,
		Rand:        random,
	})
}

// checkTOTP accepts exactly six ASCII digits that match the current step or
// one step either side.
func checkTOTP(secret, code string, now time.Time) error {
	if !isSixDigits(code) || secret == "" {
		return ErrInvalidTwoFactorCode
	}

	ok, err := totp.ValidateCustom(code, secret, now, totpOpts)
	if err != nil || !ok {
		return ErrInvalidTwoFactorCode
	}
	return nil
}

func isSixDigits(code string) bool {
	if len(code) != 6 {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// EnrollTwoFactor generates a new secret for userID. Two-factor stays off
// until ConfirmTwoFactor sees a valid code for it.
func (m *Manager) EnrollTwoFactor(ctx context.Context, userID string) (TwoFactorEnrollment, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()

	u, err := m.loadForUpdate(ctx, userID)
	if err != nil {
		return TwoFactorEnrollment{}, err
	}
	if u.TwoFactorEnabled {
		return TwoFactorEnrollment{}, ErrInvalidInput
	}

	key, err := newTOTPKey(m.cfg.TOTPIssuer, u.Email, m.random)
	if err != nil {
		return TwoFactorEnrollment{}, fmt.Errorf("generate totp secret: %w", err)
	}

	u.TwoFactorSecret = key.Secret()
	u.UpdatedAt = m.now().UTC()
	if err := m.users.Save(ctx, u); err != nil {
		return TwoFactorEnrollment{}, fmt.Errorf("save user: %w", err)
	}

	return TwoFactorEnrollment{Secret: key.Secret(), URL: key.URL()}, nil
}

func (m *Manager) ConfirmTwoFactor(ctx context.Context, userID, code string) error {
	unlock := m.locks.Lock(userID)
	defer unlock()

	u, err := m.loadForUpdate(ctx, userID)
	if err != nil {
		return err
	}
	if u.TwoFactorEnabled || u.TwoFactorSecret == "" {
		return ErrInvalidInput
	}

	now := m.now().UTC()
	if err := checkTOTP(u.TwoFactorSecret, code, now); err != nil {
		return err
	}

	u.TwoFactorEnabled = true
	u.UpdatedAt = now
	if err := m.users.Save(ctx, u); err != nil {
		return fmt.Errorf("save user: %w", err)
	}

	m.log.InfoContext(ctx, "two-factor enabled", "user_id", userID)
	return nil
}

// DisableTwoFactor requires the account password.
func (m *Manager) DisableTwoFactor(ctx context.Context, userID, password string) error {
	unlock := m.locks.Lock(userID)
	defer unlock()

	u, err := m.loadForUpdate(ctx, userID)
	if err != nil {
		return err
	}

	if !m.verifyPassword(u, password) {
		return ErrInvalidCredentials
	}

	u.TwoFactorEnabled = false
	u.TwoFactorSecret = ""
	u.UpdatedAt = m.now().UTC()
	if err := m.users.Save(ctx, u); err != nil {
		return fmt.Errorf("save user: %w", err)
	}

	m.log.InfoContext(ctx, "two-factor disabled", "user_id", userID)
	m.notify(ctx, notifications.AlertTwoFactorOff, u, nil)
	return nil
}

func (m *Manager) loadForUpdate(ctx context.Context, id string) (user.User, error) {
	u, err := m.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return user.User{}, ErrUserNotFound
		}
		return user.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}
