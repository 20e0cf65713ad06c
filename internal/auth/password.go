// Package auth implements operator login for the dashboard: bcrypt
// passwords, cookie-backed device sessions with a per-session CSRF token,
// and optional TOTP second factor.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// BcryptCost is the work factor for stored password hashes.
var BcryptCost = 12

// MinPasswordLength is the shortest password CreateUser accepts.
const MinPasswordLength = 8

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUnauthenticated    = errors.New("not authenticated")
	ErrTwoFactorRequired  = errors.New("two-factor verification required")
	ErrInvalidCode        = errors.New("invalid verification code")
	ErrTOTPNotSetUp       = errors.New("two-factor authentication is not set up")
	ErrTOTPEnabled        = errors.New("two-factor authentication is already enabled")
	ErrTOTPDisabled       = errors.New("two-factor authentication is not enabled")
	ErrPasswordTooShort   = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
)

// dummyHash is compared against when the username does not exist so that
// unknown users cost the same bcrypt work as wrong passwords.
var dummyHash = sync.OnceValue(func() string {
	hash, _ := bcrypt.GenerateFromPassword([]byte("castboard-dummy-password"), BcryptCost)
	return string(hash)
})

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", ErrPasswordTooShort
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the bcrypt hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// HashToken returns the hex SHA-256 of a session secret. Secrets are random
// and high-entropy, so a fast hash is enough for at-rest storage.
func HashToken(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// TokensEqual compares two tokens in constant time.
func TokensEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// FormatSessionToken joins a session ID and its secret into a cookie value.
func FormatSessionToken(id, secret string) string {
	return id + "." + secret
}

// ParseSessionToken splits a cookie value produced by FormatSessionToken.
func ParseSessionToken(token string) (id, secret string, ok bool) {
	id, secret, ok = strings.Cut(token, ".")
	if !ok || id == "" || secret == "" {
		return "", "", false
	}
	return id, secret, true
}
