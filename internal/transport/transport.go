package transport

import (
	"context"
	"encoding/json"
	"time"
)

// Kind names a device command.
type Kind string

// Command kinds.
const (
	KindArm             Kind = "arm"
	KindDisarm          Kind = "disarm"
	KindGuardMode       Kind = "guard_mode"
	KindMotionDetection Kind = "motion_detection"
	KindStatusLED       Kind = "status_led"
)

// Command is one instruction for a device reached through a station session.
type Command struct {
	Kind Kind

	// Serial is the device the command acts on. Guard commands act on the
	// session's station.
	Serial string

	Param int
}

// Ack is a device acknowledgement.
type Ack struct {
	Kind       Kind            `json:"kind"`
	Serial     string          `json:"serial"`
	Result     json.RawMessage `json:"result,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Session is an established channel to one station.
type Session interface {
	// SendCommand sends cmd and waits for the acknowledgement until ctx ends.
	SendCommand(ctx context.Context, cmd Command) (Ack, error)

	// Alive reports whether the session can still carry commands.
	Alive() bool

	Close() error
}

// Transport establishes sessions with stations on the LAN.
type Transport interface {
	Connect(ctx context.Context, address, deviceID string) (Session, error)
}
