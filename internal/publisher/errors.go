package publisher

import "errors"

var (
	// ErrResyncIncomplete is returned by Resync when at least one message
	// could not be published. The pending-resync flag stays set.
	ErrResyncIncomplete = errors.New("publisher: resync incomplete")

	// ErrNotConnected is returned by Resync while the bus is down.
	ErrNotConnected = errors.New("publisher: bus not connected")
)
