package push

import "errors"

var (
	// ErrCredentialExpired ends a channel whose credential reached its expiry.
	ErrCredentialExpired = errors.New("push: credential expired")

	// ErrChannelClosed is reported when a channel ends without a cause.
	ErrChannelClosed = errors.New("push: channel closed")

	// ErrNoCredential is returned when the credential source has nothing usable.
	ErrNoCredential = errors.New("push: no credential")
)
