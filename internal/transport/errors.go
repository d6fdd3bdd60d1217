package transport

import "errors"

var (
	// ErrConnection covers everything that prevented a command from
	// reaching the device or its acknowledgement from coming back:
	// dial failures, dropped sessions and timeouts.
	ErrConnection = errors.New("transport: connection failed")

	// ErrRejected is returned when the device refused the command.
	ErrRejected = errors.New("transport: command rejected by device")

	// ErrUnsupportedCommand is returned for command kinds the transport
	// cannot express.
	ErrUnsupportedCommand = errors.New("transport: unsupported command")
)
