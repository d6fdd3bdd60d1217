package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/nerrad567/eufy-bridge/internal/relay"
)

// Relay commands used for local control.
const (
	cmdStationConnect     = "station.connect"
	cmdSetGuardMode       = "station.set_guard_mode"
	cmdSetMotionDetection = "device.set_motion_detection"
	cmdSetStatusLED       = "device.set_status_led"
)

const (
	guardModeDisarmed = 63
	defaultRelayPort  = 3000
)

// RelayTransport reaches stations through the relay server running next to
// them, at ws://{address}:{port}.
type RelayTransport struct {
	port int
	tls  bool
	opts relay.Options
}

// NewRelayTransport creates a transport dialing port on each station
// address. A zero port uses 3000. Command sessions never read events, so
// any event buffer in opts is replaced with relay.DiscardEvents.
func NewRelayTransport(port int, useTLS bool, opts relay.Options) *RelayTransport {
	if port <= 0 {
		port = defaultRelayPort
	}
	opts.EventBuffer = relay.DiscardEvents
	return &RelayTransport{port: port, tls: useTLS, opts: opts}
}

func (t *RelayTransport) url(address string) string {
	scheme := "ws"
	if t.tls {
		scheme = "wss"
	}
	host := address
	if _, _, err := net.SplitHostPort(address); err != nil {
		host = net.JoinHostPort(address, strconv.Itoa(t.port))
	}
	return scheme + "://" + host
}

// Connect dials the relay at address and opens the station session for deviceID.
func (t *RelayTransport) Connect(ctx context.Context, address, deviceID string) (Session, error) {
	conn, err := relay.Dial(ctx, t.url(address), t.opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	if _, err := conn.Call(ctx, cmdStationConnect, map[string]any{"serialNumber": deviceID}); err != nil {
		conn.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("%w: opening station %s: %w", ErrConnection, deviceID, err)
	}

	return &relaySession{conn: conn, station: deviceID, address: address}, nil
}

type relaySession struct {
	conn    *relay.Conn
	station string
	address string
}

func (s *relaySession) SendCommand(ctx context.Context, cmd Command) (Ack, error) {
	name, params, err := s.encode(cmd)
	if err != nil {
		return Ack{}, err
	}

	res, err := s.conn.Call(ctx, name, params)
	if err != nil {
		return Ack{}, classify(err)
	}
	return Ack{Kind: cmd.Kind, Serial: params["serialNumber"].(string), Result: res, ReceivedAt: time.Now()}, nil
}

// encode maps a command to its relay form.
func (s *relaySession) encode(cmd Command) (string, map[string]any, error) {
	switch cmd.Kind {
	case KindArm, KindGuardMode:
		return cmdSetGuardMode, map[string]any{"serialNumber": s.station, "mode": cmd.Param}, nil
	case KindDisarm:
		return cmdSetGuardMode, map[string]any{"serialNumber": s.station, "mode": guardModeDisarmed}, nil
	case KindMotionDetection:
		return cmdSetMotionDetection, map[string]any{"serialNumber": cmd.Serial, "value": cmd.Param != 0}, nil
	case KindStatusLED:
		return cmdSetStatusLED, map[string]any{"serialNumber": cmd.Serial, "value": cmd.Param != 0}, nil
	default:
		return "", nil, fmt.Errorf("%w: %q", ErrUnsupportedCommand, cmd.Kind)
	}
}

// classify maps relay errors onto the transport taxonomy.
func classify(err error) error {
	if errors.Is(err, relay.ErrRejected) {
		return fmt.Errorf("%w: %w", ErrRejected, err)
	}
	return fmt.Errorf("%w: %w", ErrConnection, err)
}

func (s *relaySession) Alive() bool {
	return s.conn.Err() == nil
}

func (s *relaySession) Close() error {
	return s.conn.Close()
}
