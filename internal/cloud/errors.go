package cloud

import "errors"

// Domain errors for the cloud API client.
var (
	// ErrAuthentication is returned when the account credentials are rejected.
	ErrAuthentication = errors.New("cloud: authentication failed")

	// ErrNetwork is returned for transport failures and 5xx responses.
	// These are transient and safe to retry.
	ErrNetwork = errors.New("cloud: network error")

	// ErrTokenExpired is returned when the session token is no longer
	// accepted and a re-login also failed to produce a usable token.
	ErrTokenExpired = errors.New("cloud: session token expired")

	// ErrAPI is returned when the API answers with a non-zero result code.
	ErrAPI = errors.New("cloud: api error")
)
