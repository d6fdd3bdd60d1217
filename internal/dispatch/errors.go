package dispatch

import "errors"

var (
	// ErrUnknownDevice is returned when the serial is not in the Directory.
	// No transport is contacted.
	ErrUnknownDevice = errors.New("dispatch: unknown device")

	// ErrCommandFailed is returned when the command was rejected by the
	// device or failed twice at the connection level. The cause is wrapped.
	ErrCommandFailed = errors.New("dispatch: command failed")

	// ErrUnsupported is returned for commands the device cannot take:
	// unsupported models, or a command kind its kind does not accept.
	ErrUnsupported = errors.New("dispatch: unsupported command")

	// ErrInvalidParameter is returned when the parameter is out of range.
	ErrInvalidParameter = errors.New("dispatch: invalid parameter")

	// ErrNoRoute is returned when no LAN address is known for the device's station.
	ErrNoRoute = errors.New("dispatch: no address for device")

	// ErrShuttingDown is returned once Close has been called.
	ErrShuttingDown = errors.New("dispatch: shutting down")
)
