package push

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nerrad567/eufy-bridge/internal/device"
	"github.com/nerrad567/eufy-bridge/internal/retry"
)

// Logger defines the logging interface used by the Listener.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Default listener settings.
const (
	defaultBackoffBase       = time.Second
	defaultBackoffMax        = 60 * time.Second
	defaultDisconnectedAfter = 3

	// stableAfter is how long a channel must stay up before a drop
	// reconnects immediately instead of backing off.
	stableAfter = 30 * time.Second
)

// Config configures a Listener.
type Config struct {
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	DisconnectedAfter int
}

// Listener keeps a push channel open and applies its events to the
// Directory.
//
// It cycles Disconnected → Authenticating → Connected and back to
// Disconnected whenever the channel ends. Failed attempts back off
// exponentially with full jitter and are retried until Run's context ends.
type Listener struct {
	merger    Merger
	creds     CredentialSource
	transport Transport
	cfg       Config
	now       func() time.Time

	mu       sync.RWMutex
	state    State
	health   Health
	onChange func(State)
	logger   Logger

	running bool
}

// NewListener creates a Listener. Zero config fields take defaults.
func NewListener(merger Merger, creds CredentialSource, transport Transport, cfg Config) *Listener {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = defaultBackoffMax
	}
	if cfg.DisconnectedAfter <= 0 {
		cfg.DisconnectedAfter = defaultDisconnectedAfter
	}
	return &Listener{
		merger:    merger,
		creds:     creds,
		transport: transport,
		cfg:       cfg,
		now:       time.Now,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the Listener.
func (l *Listener) SetLogger(logger Logger) {
	l.mu.Lock()
	l.logger = logger
	l.mu.Unlock()
}

// OnStateChange registers fn to be called after every state transition.
// fn runs on the Listener's goroutine and must not block.
func (l *Listener) OnStateChange(fn func(State)) {
	l.mu.Lock()
	l.onChange = fn
	l.mu.Unlock()
}

func (l *Listener) log() Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.logger
}

// State returns the current state.
func (l *Listener) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Health returns a copy of the Listener's health.
func (l *Listener) Health() Health {
	l.mu.RLock()
	defer l.mu.RUnlock()
	h := l.health
	h.State = l.state
	h.StateName = l.state.String()
	return h
}

func (l *Listener) setState(s State) {
	l.mu.Lock()
	if l.state == s {
		l.mu.Unlock()
		return
	}
	prev := l.state
	l.state = s
	fn := l.onChange
	logger := l.logger
	l.mu.Unlock()

	logger.Debug("push state changed", "from", prev.String(), "to", s.String())
	if fn != nil {
		fn(s)
	}
}

func (l *Listener) recordFailure(err error) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.health.ConsecutiveFailures++
	l.health.LastError = err.Error()
	l.health.Disconnected = l.health.ConsecutiveFailures >= l.cfg.DisconnectedAfter
	return l.health.ConsecutiveFailures
}

func (l *Listener) recordConnected() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.health.ConsecutiveFailures = 0
	l.health.Disconnected = false
	l.health.LastError = ""
	l.health.ConnectedAt = l.now()
}

// Run drives the state machine until ctx ends. It returns nil on
// cancellation; only one Run may be active at a time.
func (l *Listener) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return errors.New("push: listener already running")
	}
	l.running = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
		l.setState(StateDisconnected)
	}()

	bo := retry.NewFullJitter(l.cfg.BackoffBase, l.cfg.BackoffMax)
	refresh := false

	for ctx.Err() == nil {
		l.setState(StateAuthenticating)

		ch, err := l.open(ctx, refresh)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			n := l.recordFailure(err)
			l.setState(StateDisconnected)
			refresh = true

			wait := bo.NextBackOff()
			l.log().Warn("push connection failed",
				"error", err, "attempt", n, "retry_in", wait)
			if retry.Sleep(ctx, wait) != nil {
				return nil
			}
			continue
		}

		l.recordConnected()
		l.setState(StateConnected)
		l.log().Info("push channel connected")

		connectedAt := l.now()
		err = l.consume(ctx, ch.channel, ch.cred)
		ch.channel.Close() //nolint:errcheck // Channel already ended or is being replaced
		l.setState(StateDisconnected)

		if ctx.Err() != nil {
			return nil
		}

		refresh = errors.Is(err, ErrCredentialExpired)
		l.log().Warn("push channel dropped", "error", err, "uptime", l.now().Sub(connectedAt))

		if l.now().Sub(connectedAt) >= stableAfter {
			bo.Reset()
			continue
		}
		l.recordFailure(err)
		if retry.Sleep(ctx, bo.NextBackOff()) != nil {
			return nil
		}
	}
	return nil
}

type openChannel struct {
	channel Channel
	cred    Credential
}

func (l *Listener) open(ctx context.Context, refresh bool) (openChannel, error) {
	cred, err := l.creds.Credential(ctx, refresh)
	if err == nil && cred.Expired(l.now()) && !refresh {
		cred, err = l.creds.Credential(ctx, true)
	}
	if err != nil {
		return openChannel{}, err
	}
	if cred.Expired(l.now()) {
		return openChannel{}, ErrNoCredential
	}

	ch, err := l.transport.Open(ctx, cred)
	if err != nil {
		return openChannel{}, err
	}
	return openChannel{channel: ch, cred: cred}, nil
}

// consume applies events until the channel ends, ctx ends or the
// credential expires.
func (l *Listener) consume(ctx context.Context, ch Channel, cred Credential) error {
	var expiry <-chan time.Time
	if !cred.ExpiresAt.IsZero() {
		t := time.NewTimer(cred.ExpiresAt.Sub(l.now()))
		defer t.Stop()
		expiry = t.C
	}

	events := ch.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-expiry:
			return ErrCredentialExpired
		case ev, ok := <-events:
			if !ok {
				if err := ch.Err(); err != nil {
					return err
				}
				return ErrChannelClosed
			}
			l.apply(ev)
		}
	}
}

// apply merges one event as a push update.
func (l *Listener) apply(ev Event) {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = l.now()
	}

	res, err := l.merger.Merge(ev.Serial, map[string]device.Value{ev.Property: ev.Value}, ts, device.SourcePush)

	l.mu.Lock()
	l.health.LastEventAt = l.now()
	if err != nil {
		l.health.Dropped++
	} else {
		l.health.Applied++
	}
	logger := l.logger
	l.mu.Unlock()

	switch {
	case errors.Is(err, device.ErrNotFound):
		logger.Debug("push event for unknown device dropped", "serial", ev.Serial, "property", ev.Property)
	case err != nil:
		logger.Warn("push event rejected", "serial", ev.Serial, "error", err)
	case len(res.Rejected) > 0:
		logger.Warn("push event property rejected",
			"serial", ev.Serial, "property", ev.Property, "error", res.Rejected[ev.Property])
	}
}
