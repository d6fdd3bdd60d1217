package push

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/eufy-bridge/internal/device"
	"github.com/nerrad567/eufy-bridge/internal/relay"
)

// Relay commands used by the push transport.
const (
	cmdGetPushCredentials = "driver.get_push_credentials"
	cmdStartListening     = "start_listening"
)

// RelayTransport opens push channels on the relay server.
type RelayTransport struct {
	url  string
	opts relay.Options
}

// NewRelayTransport creates a transport for the relay at url.
func NewRelayTransport(url string, opts relay.Options) *RelayTransport {
	return &RelayTransport{url: url, opts: opts}
}

type credentialResult struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"`
}

// RetrieveCredentials asks the relay for push credentials bound to the
// cloud session token.
func (t *RelayTransport) RetrieveCredentials(ctx context.Context, authToken string) (Credential, error) {
	conn, err := relay.Dial(ctx, t.url, t.opts)
	if err != nil {
		return Credential{}, err
	}
	defer conn.Close() //nolint:errcheck // Short-lived connection

	raw, err := conn.Call(ctx, cmdGetPushCredentials, map[string]any{"authToken": authToken})
	if err != nil {
		return Credential{}, fmt.Errorf("retrieving push credentials: %w", err)
	}

	var res credentialResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return Credential{}, fmt.Errorf("%w: decoding credentials: %w", relay.ErrProtocol, err)
	}
	if res.Token == "" {
		return Credential{}, ErrNoCredential
	}

	cred := Credential{Token: res.Token}
	if res.ExpiresAt > 0 {
		cred.ExpiresAt = time.UnixMilli(res.ExpiresAt)
	}
	return cred, nil
}

// Open dials the relay and starts listening with cred.
func (t *RelayTransport) Open(ctx context.Context, cred Credential) (Channel, error) {
	conn, err := relay.Dial(ctx, t.url, t.opts)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Call(ctx, cmdStartListening, map[string]any{"pushToken": cred.Token}); err != nil {
		conn.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("starting push stream: %w", err)
	}

	ch := &relayChannel{conn: conn, events: make(chan Event, cap(conn.Events())), stop: make(chan struct{})}
	go ch.run()
	return ch, nil
}

// relayChannel converts relay events to push Events.
type relayChannel struct {
	conn   *relay.Conn
	events chan Event

	stop     chan struct{}
	stopOnce sync.Once
}

func (c *relayChannel) run() {
	defer close(c.events)
	for rev := range c.conn.Events() {
		ev, ok := toEvent(rev)
		if !ok {
			continue
		}
		select {
		case c.events <- ev:
		case <-c.stop:
			return
		}
	}
}

func toEvent(rev relay.Event) (Event, bool) {
	if rev.Name != relay.EventPropertyChanged || rev.Serial == "" || rev.Property == "" {
		return Event{}, false
	}
	v, err := device.ValueOf(rev.Value)
	if err != nil {
		return Event{}, false
	}
	return Event{
		Serial:    rev.Serial,
		Property:  normalizeProperty(rev.Property),
		Value:     v,
		Timestamp: rev.Timestamp,
	}, true
}

// relayProperties maps relay property names to bridge property names.
var relayProperties = map[string]string{
	"battery":              device.PropBattery,
	"batteryLevel":         device.PropBattery,
	"guardMode":            device.PropGuardMode,
	"motionDetected":       device.PropMotion,
	"personDetected":       device.PropPersonDetected,
	"sensorOpen":           device.PropOpen,
	"locked":               device.PropLocked,
	"chargingStatus":       device.PropCharging,
	"wifiRssi":             device.PropWifiRSSI,
	"motionDetection":      device.PropMotionDetection,
	"statusLed":            device.PropStatusLED,
	"mainSoftwareVersion":  device.PropFirmware,
	"currentMode":          device.PropGuardMode,
	"stationConnected":     device.PropOnline,
	"motionDetectionState": device.PropMotionDetection,
}

func normalizeProperty(name string) string {
	if p, ok := relayProperties[name]; ok {
		return p
	}
	return name
}

func (c *relayChannel) Events() <-chan Event { return c.events }

func (c *relayChannel) Err() error { return c.conn.Err() }

func (c *relayChannel) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	return c.conn.Close()
}
