package auth

import (
	"fmt"
	"time"
)

// Authenticator exchanges the admin password for access tokens and
// validates presented tokens.
type Authenticator struct {
	passwordHash string
	secret       string
	ttl          time.Duration
}

// NewAuthenticator creates an Authenticator. An empty passwordHash
// disables Login; tokens minted elsewhere are still accepted.
func NewAuthenticator(passwordHash, secret string, ttl time.Duration) *Authenticator {
	return &Authenticator{passwordHash: passwordHash, secret: secret, ttl: ttl}
}

// Login verifies the admin password and issues an admin token.
func (a *Authenticator) Login(password string) (string, time.Time, error) {
	if a.passwordHash == "" {
		return "", time.Time{}, ErrLoginDisabled
	}
	ok, err := VerifyPassword(password, a.passwordHash)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("verifying password: %w", err)
	}
	if !ok {
		return "", time.Time{}, ErrInvalidCredentials
	}
	return GenerateAccessToken(AdminSubject, RoleAdmin, a.secret, a.ttl)
}

// Issue mints a token for subject with the given role without a password.
func (a *Authenticator) Issue(subject string, role Role) (string, time.Time, error) {
	return GenerateAccessToken(subject, role, a.secret, a.ttl)
}

// Validate parses a presented token.
func (a *Authenticator) Validate(token string) (*Claims, error) {
	return ParseToken(token, a.secret)
}
