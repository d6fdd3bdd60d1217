package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Default connection parameters.
const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultPingInterval     = 30 * time.Second
	defaultPongTimeout      = 60 * time.Second
	defaultEventBuffer      = 256
	writeTimeout            = 10 * time.Second
	maxFrameSize            = 1 << 20
)

// Options configure Dial.
type Options struct {
	// MinServerVersion rejects servers older than this semantic version.
	// Empty accepts any version.
	MinServerVersion string

	HandshakeTimeout time.Duration
	PingInterval     time.Duration

	// PongTimeout closes the connection when no frame or pong arrives in time.
	PongTimeout time.Duration

	// EventBuffer sizes the Events channel. DiscardEvents drops events
	// for connections that only make calls.
	EventBuffer int
	Header      http.Header
}

// DiscardEvents as Options.EventBuffer drops every event frame.
const DiscardEvents = -1

func (o Options) withDefaults() Options {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = defaultHandshakeTimeout
	}
	if o.PingInterval <= 0 {
		o.PingInterval = defaultPingInterval
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = defaultPongTimeout
	}
	if o.EventBuffer == 0 {
		o.EventBuffer = defaultEventBuffer
	}
	return o
}

// Conn is a client connection to a relay server.
//
// Calls are correlated with their results by message ID and may be issued
// concurrently. Events are delivered on Events() in arrival order; the
// channel is closed when the connection ends.
type Conn struct {
	ws      *websocket.Conn
	opts    Options
	version *semver.Version

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan frame

	events chan Event
	done   chan struct{}

	closeOnce sync.Once
	err       error
}

// Dial connects to the relay at url, reads the server's version frame and
// checks it against opts.MinServerVersion.
func Dial(ctx context.Context, url string, opts Options) (*Conn, error) {
	opts = opts.withDefaults()

	dialer := websocket.Dialer{
		HandshakeTimeout: opts.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	ws, resp, err := dialer.DialContext(ctx, url, opts.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close() //nolint:errcheck // Upgrade response body is unused
	}
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %w", ErrConnection, url, err)
	}
	ws.SetReadLimit(maxFrameSize)

	version, err := handshake(ws, opts)
	if err != nil {
		ws.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, err
	}

	c := &Conn{
		ws:      ws,
		opts:    opts,
		version: version,
		pending: make(map[string]chan frame),
		events:  make(chan Event, max(opts.EventBuffer, 0)),
		done:    make(chan struct{}),
	}

	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(opts.PongTimeout))
	})

	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

func handshake(ws *websocket.Conn, opts Options) (*semver.Version, error) {
	if err := ws.SetReadDeadline(time.Now().Add(opts.HandshakeTimeout)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	var f frame
	if err := ws.ReadJSON(&f); err != nil {
		return nil, fmt.Errorf("%w: reading version frame: %w", ErrConnection, err)
	}
	if f.Type != frameVersion {
		return nil, fmt.Errorf("%w: expected version frame, got %q", ErrProtocol, f.Type)
	}

	v, err := semver.NewVersion(f.ServerVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: server version %q: %w", ErrIncompatibleServer, f.ServerVersion, err)
	}
	if opts.MinServerVersion != "" {
		constraint, err := semver.NewConstraint(">= " + opts.MinServerVersion)
		if err != nil {
			return nil, fmt.Errorf("parsing minimum server version: %w", err)
		}
		if !constraint.Check(v) {
			return nil, fmt.Errorf("%w: server %s, need >= %s", ErrIncompatibleServer, v, opts.MinServerVersion)
		}
	}

	if err := ws.SetReadDeadline(time.Now().Add(opts.PongTimeout)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	return v, nil
}

// ServerVersion returns the version announced by the server.
func (c *Conn) ServerVersion() *semver.Version {
	return c.version
}

// Events returns the event stream. It is closed when the connection ends
// and never carries anything when events are discarded.
func (c *Conn) Events() <-chan Event {
	return c.events
}

// Done is closed when the connection ends.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, or nil while it is open.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Call sends command with params and waits for its result.
//
// Returns:
//   - json.RawMessage: the result payload (may be empty)
//   - error: a *RemoteError (matching ErrRejected) when the server refuses
//     the command, ErrTimeout when ctx ends first, ErrConnection or
//     ErrClosed when the connection ends
func (c *Conn) Call(ctx context.Context, command string, params map[string]any) (json.RawMessage, error) {
	id := uuid.NewString()
	ch := make(chan frame, 1)

	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return nil, c.err
	default:
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	msg := make(map[string]any, len(params)+2)
	maps.Copy(msg, params)
	msg["messageId"] = id
	msg["command"] = command

	if err := c.write(msg); err != nil {
		return nil, err
	}

	select {
	case f := <-ch:
		if !f.Success {
			return nil, &RemoteError{Command: command, Code: f.ErrorCode, Message: f.Message}
		}
		return f.Result, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %w", ErrTimeout, command, ctx.Err())
	case <-c.done:
		return nil, c.err
	}
}

func (c *Conn) write(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return c.fail(err)
	}
	if err := c.ws.WriteJSON(v); err != nil {
		return c.fail(err)
	}
	return nil
}

// Close ends the connection. It is safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.err = ErrClosed
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)) //nolint:errcheck // Best effort close frame
		c.writeMu.Unlock()
		close(c.done)
		c.ws.Close() //nolint:errcheck // Already shutting down
	})
	return nil
}

// fail ends the connection with a connection error and returns it.
func (c *Conn) fail(cause error) error {
	c.closeOnce.Do(func() {
		c.err = fmt.Errorf("%w: %w", ErrConnection, cause)
		close(c.done)
		c.ws.Close() //nolint:errcheck // Already failing
	})
	return c.err
}

func (c *Conn) readLoop() {
	defer close(c.events)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.fail(err) //nolint:errcheck // Recorded in c.err
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(c.opts.PongTimeout)) //nolint:errcheck // Next read reports failures

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}

		switch f.Type {
		case frameResult:
			c.mu.Lock()
			ch, ok := c.pending[f.MessageID]
			c.mu.Unlock()
			if ok {
				select {
				case ch <- f:
				default:
				}
			}
		case frameEvent:
			if c.opts.EventBuffer < 0 {
				continue
			}
			ev, err := decodeEvent(f.Event)
			if err != nil {
				continue
			}
			select {
			case c.events <- ev:
			case <-c.done:
				return
			}
		}
	}
}

func (c *Conn) pingLoop() {
	t := time.NewTicker(c.opts.PingInterval)
	defer t.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				c.fail(err) //nolint:errcheck // Recorded in c.err
				return
			}
		}
	}
}
