package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 12

const passwordSpecialChars = `!@#$%^&*(),.?":{}|<>`

var (
	ErrPasswordTooShort      = errors.New("password must be at least 12 characters")
	ErrPasswordMissingUpper  = errors.New("password must include an uppercase letter")
	ErrPasswordMissingLower  = errors.New("password must include a lowercase letter")
	ErrPasswordMissingDigit  = errors.New("password must include a number")
	ErrPasswordMissingSymbol = errors.New("password must include a special character")
)

// HashPassword returns a bcrypt hash suitable for the adminPassword setting.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword validates a password against a bcrypt hash.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// IsBcryptHash reports whether the configured secret is a bcrypt hash rather
// than a plaintext password.
func IsBcryptHash(secret string) bool {
	if _, err := bcrypt.Cost([]byte(secret)); err != nil {
		return false
	}
	return strings.HasPrefix(secret, "$2")
}

// CheckAdminPassword compares a login attempt with the configured admin
// secret, which is either a bcrypt hash or plaintext. Plaintext comparison
// hashes both sides first so timing does not depend on length or prefix.
func CheckAdminPassword(attempt, configured string) bool {
	if configured == "" || attempt == "" {
		return false
	}
	if IsBcryptHash(configured) {
		return CheckPassword(attempt, configured)
	}
	a := sha256.Sum256([]byte(attempt))
	b := sha256.Sum256([]byte(configured))
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

// ValidatePassword enforces the admin password policy: 12+ characters with
// upper, lower, digit and special characters.
func ValidatePassword(password string) error {
	if len([]rune(password)) < minPasswordLength {
		return ErrPasswordTooShort
	}
	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(passwordSpecialChars, r):
			special = true
		}
	}
	switch {
	case !upper:
		return ErrPasswordMissingUpper
	case !lower:
		return ErrPasswordMissingLower
	case !digit:
		return ErrPasswordMissingDigit
	case !special:
		return ErrPasswordMissingSymbol
	}
	return nil
}
