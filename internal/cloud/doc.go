// Package cloud is a client for the vendor cloud HTTP API: account login,
// device and station inventory, and push token registration.
//
// Errors are classified for the caller's retry policy: ErrNetwork is
// transient, ErrAuthentication is not.
package cloud
