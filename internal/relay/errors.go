package relay

import "errors"

// Domain errors for the relay connection.
var (
	// ErrConnection is returned when the websocket cannot be established or
	// fails while a call is outstanding.
	ErrConnection = errors.New("relay: connection failed")

	// ErrClosed is returned for calls on a connection closed by Close.
	ErrClosed = errors.New("relay: connection closed")

	// ErrTimeout is returned when a call's context ends before its result arrives.
	ErrTimeout = errors.New("relay: call timed out")

	// ErrRejected is returned when the server answers a call with success=false.
	ErrRejected = errors.New("relay: command rejected")

	// ErrIncompatibleServer is returned when the server version is below the minimum.
	ErrIncompatibleServer = errors.New("relay: incompatible server version")

	// ErrProtocol is returned for frames that do not follow the protocol.
	ErrProtocol = errors.New("relay: protocol error")
)

// RemoteError carries the server's error code for a rejected call.
// It matches ErrRejected with errors.Is.
type RemoteError struct {
	Command string
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message != "" {
		return "relay: " + e.Command + " rejected: " + e.Code + ": " + e.Message
	}
	return "relay: " + e.Command + " rejected: " + e.Code
}

// Is reports whether target is ErrRejected.
func (e *RemoteError) Is(target error) bool {
	return target == ErrRejected
}
