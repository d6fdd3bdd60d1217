package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, device.ErrNotFound) {
//	    // unknown serial
//	}
var (
	// ErrNotFound is returned when a serial is not in the Directory.
	ErrNotFound = errors.New("device: not found")

	// ErrInvalidSerial is returned when a serial is empty.
	ErrInvalidSerial = errors.New("device: invalid serial")

	// ErrUnsupportedModel marks a device whose model is outside the
	// supported set. The device is tracked but commands are rejected.
	ErrUnsupportedModel = errors.New("device: unsupported model")

	// ErrTypeMismatch is reported per property when an update's value type
	// does not match the property schema or the stored value.
	ErrTypeMismatch = errors.New("device: property type mismatch")

	// ErrInvalidValue is returned when a raw value cannot be represented.
	ErrInvalidValue = errors.New("device: invalid value")

	// ErrSubscriptionClosed is returned by Subscription.Next after Close.
	ErrSubscriptionClosed = errors.New("device: subscription closed")
)
