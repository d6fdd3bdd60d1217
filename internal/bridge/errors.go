package bridge

import "errors"

var (
	// ErrStartup wraps the failure of a fatal startup step.
	ErrStartup = errors.New("bridge: startup failed")

	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("bridge: already running")

	// ErrNotReady is returned by operations that need a completed startup.
	ErrNotReady = errors.New("bridge: not ready")

	// ErrBadCommand is returned for command messages that cannot be decoded.
	ErrBadCommand = errors.New("bridge: bad command")
)
