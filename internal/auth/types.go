package auth

import (
	"errors"
	"fmt"
)

// AdminSubject is the token subject of the operator account.
const AdminSubject = "admin"

// Role represents an authorisation tier.
type Role string

const (
	// RoleAdmin can operate devices and the bridge.
	RoleAdmin Role = "admin"

	// RoleViewer has read-only access.
	RoleViewer Role = "viewer"
)

// ValidRoles is the set of roles a token may carry.
var ValidRoles = []Role{RoleAdmin, RoleViewer}

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	for _, r := range ValidRoles {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrLoginDisabled      = errors.New("auth: no admin password configured")
	ErrTokenInvalid       = errors.New("auth: invalid token")
	ErrInvalidHash        = errors.New("auth: invalid password hash")
	ErrUnknownRole        = errors.New("auth: unknown role")
	ErrForbidden          = errors.New("auth: insufficient permissions")
)
