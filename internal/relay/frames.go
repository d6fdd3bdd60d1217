package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Frame types sent by the server.
const (
	frameVersion = "version"
	frameResult  = "result"
	frameEvent   = "event"
)

// frame is the union of all server frames.
type frame struct {
	Type string `json:"type"`

	// version
	ServerVersion string `json:"serverVersion,omitempty"`
	DriverVersion string `json:"driverVersion,omitempty"`

	// result
	MessageID string          `json:"messageId,omitempty"`
	Success   bool            `json:"success,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	ErrorCode string          `json:"errorCode,omitempty"`
	Message   string          `json:"message,omitempty"`

	// event
	Event json.RawMessage `json:"event,omitempty"`
}

// Event is a server-pushed notification.
type Event struct {
	// Source is the emitting object: "driver", "station" or "device".
	Source string `json:"source"`

	// Name is the event name, e.g. "property changed".
	Name string `json:"event"`

	Serial   string `json:"serialNumber"`
	Property string `json:"name"`

	// Value is the decoded JSON scalar (bool, json.Number, string) or nil.
	Value any `json:"-"`

	// Timestamp is when the device produced the event; zero if the server
	// did not say.
	Timestamp time.Time `json:"-"`

	RawValue  json.RawMessage `json:"value,omitempty"`
	RawMillis int64           `json:"timestamp,omitempty"`
}

// Event names.
const (
	EventPropertyChanged = "property changed"
	EventConnected       = "connected"
	EventDisconnected    = "disconnected"
)

func decodeEvent(raw json.RawMessage) (Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: decoding event: %w", ErrProtocol, err)
	}
	if len(ev.RawValue) > 0 {
		dec := json.NewDecoder(bytes.NewReader(ev.RawValue))
		dec.UseNumber()
		if err := dec.Decode(&ev.Value); err != nil {
			return Event{}, fmt.Errorf("%w: decoding event value: %w", ErrProtocol, err)
		}
	}
	if ev.RawMillis > 0 {
		ev.Timestamp = time.UnixMilli(ev.RawMillis).UTC()
	}
	return ev, nil
}
