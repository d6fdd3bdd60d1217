package push

import (
	"context"
	"time"

	"github.com/nerrad567/eufy-bridge/internal/device"
)

// State is the connection state of the Listener.
type State int

// Listener states.
const (
	StateDisconnected State = iota
	StateAuthenticating
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Event is one decoded device change.
type Event struct {
	Serial    string
	Property  string
	Value     device.Value
	Timestamp time.Time
}

// Credential authenticates a push channel.
type Credential struct {
	Token string

	// ExpiresAt is zero when the credential does not expire.
	ExpiresAt time.Time
}

// Expired reports whether the credential is unusable at now.
func (c Credential) Expired(now time.Time) bool {
	return c.Token == "" || (!c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt))
}

// Channel is a live push channel.
type Channel interface {
	// Events delivers events in arrival order and is closed when the
	// channel ends.
	Events() <-chan Event

	// Err returns why the channel ended.
	Err() error

	Close() error
}

// Transport opens push channels.
type Transport interface {
	Open(ctx context.Context, cred Credential) (Channel, error)
}

// CredentialSource hands out the current credential. With refresh set it
// must obtain a new one rather than return a cached value.
type CredentialSource interface {
	Credential(ctx context.Context, refresh bool) (Credential, error)
}

// Merger applies push updates; *device.Directory implements it.
type Merger interface {
	Merge(serial string, updates map[string]device.Value, ts time.Time, source device.Source) (device.MergeResult, error)
}

// Health is a point-in-time view of the Listener.
type Health struct {
	State State `json:"-"`

	StateName string `json:"state"`

	// ConsecutiveFailures counts failed connection attempts since the last
	// successful connect.
	ConsecutiveFailures int `json:"consecutive_failures"`

	// Disconnected is raised once ConsecutiveFailures reaches the
	// configured budget.
	Disconnected bool `json:"disconnected"`

	LastError   string    `json:"last_error,omitempty"`
	ConnectedAt time.Time `json:"connected_at,omitzero"`
	LastEventAt time.Time `json:"last_event_at,omitzero"`
	Applied     uint64    `json:"events_applied"`
	Dropped     uint64    `json:"events_dropped"`
}
