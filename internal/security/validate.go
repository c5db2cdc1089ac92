package security

import (
	"errors"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

const MinPasswordLength = 8

var (
	ErrInvalidEmail = errors.New("invalid email address")
	ErrWeakPassword = errors.New("password must be at least 8 characters and mix letters, digits and symbols")
)

var validate = validator.New()

// NormalizeEmail trims and lower-cases an address so directory lookups are
// case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func ValidateEmail(email string) error {
	if err := validate.Var(email, "required,email,max=254"); err != nil {
		return ErrInvalidEmail
	}
	return nil
}

// ValidatePassword requires the minimum length plus at least three of:
// lower case, upper case, digit, symbol.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return ErrWeakPassword
	}

	var lower, upper, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}

	classes := 0
	for _, ok := range []bool{lower, upper, digit, symbol} {
		if ok {
			classes++
		}
	}

	if classes < 3 {
		return ErrWeakPassword
	}
	return nil
}

// MaskEmail keeps the first character and the domain, for logs.
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}
