package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/nerrad567/eufy-bridge/internal/device"
	"github.com/nerrad567/eufy-bridge/internal/transport"
)

// Logger defines the logging interface used by the Dispatcher.
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

// Directory is the part of *device.Directory the Dispatcher needs.
type Directory interface {
	Snapshot(serial string) (device.Record, error)
	MergeOptimistic(serial string, updates map[string]device.Value, ts, expiresAt time.Time) (device.MergeResult, error)
}

const (
	defaultTimeout       = 10 * time.Second
	defaultOptimisticTTL = 30 * time.Second
)

// Config configures a Dispatcher.
type Config struct {
	// Timeout bounds each attempt's wait for an acknowledgement.
	Timeout time.Duration

	// OptimisticTTL is the validity of state implied by a command.
	OptimisticTTL time.Duration

	// DefaultAddress is used when neither the device nor its station has one.
	DefaultAddress string
}

// Dispatcher executes device commands over a pool of station sessions.
//
// Sessions are keyed by address and station serial and reused across
// commands; a session that fails at the connection level is evicted and
// the command retried once on a fresh one.
type Dispatcher struct {
	dir       Directory
	transport transport.Transport
	cfg       Config
	now       func() time.Time

	sessions cmap.ConcurrentMap[string, transport.Session]

	// gate orders inflight.Add against Close; closed is guarded by it.
	gate     sync.RWMutex
	closed   bool
	inflight sync.WaitGroup

	mu     sync.RWMutex
	logger Logger
}

// New creates a Dispatcher. Zero config fields take defaults.
func New(dir Directory, tr transport.Transport, cfg Config) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.OptimisticTTL <= 0 {
		cfg.OptimisticTTL = defaultOptimisticTTL
	}
	return &Dispatcher{
		dir:       dir,
		transport: tr,
		cfg:       cfg,
		now:       time.Now,
		sessions:  cmap.New[transport.Session](),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the Dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.mu.Lock()
	d.logger = logger
	d.mu.Unlock()
}

func (d *Dispatcher) log() Logger {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.logger
}

// route is where a command goes.
type route struct {
	// target receives the implied state.
	target  string
	station string
	address string
}

// Dispatch executes one command against serial.
//
// Parameters:
//   - ctx: caller context; cancelling it does not interrupt a command that
//     is already on the wire
//   - serial: target device
//   - kind: command kind
//   - param: kind-specific parameter (guard mode, or 0/1)
//
// Returns:
//   - transport.Ack: the device acknowledgement
//   - error: ErrUnknownDevice, ErrUnsupported, ErrInvalidParameter,
//     ErrNoRoute, or ErrCommandFailed wrapping the transport error
func (d *Dispatcher) Dispatch(ctx context.Context, serial string, kind transport.Kind, param int) (transport.Ack, error) {
	d.gate.RLock()
	if d.closed {
		d.gate.RUnlock()
		return transport.Ack{}, ErrShuttingDown
	}
	d.inflight.Add(1)
	d.gate.RUnlock()
	defer d.inflight.Done()

	rec, err := d.dir.Snapshot(serial)
	if err != nil {
		if errors.Is(err, device.ErrNotFound) {
			return transport.Ack{}, fmt.Errorf("%w: %s", ErrUnknownDevice, serial)
		}
		return transport.Ack{}, err
	}

	param, err = normalize(kind, param)
	if err != nil {
		return transport.Ack{}, err
	}

	rt, err := d.resolve(rec, kind)
	if err != nil {
		return transport.Ack{}, err
	}

	cmd := transport.Command{Kind: kind, Serial: rec.Serial, Param: param}
	// Once sent, a command runs to its own timeout even if the caller goes away.
	base := context.WithoutCancel(ctx)

	ack, err := d.attempt(base, rt, cmd)
	if errors.Is(err, transport.ErrConnection) {
		d.log().Warn("command failed at connection level, retrying once",
			"serial", serial, "kind", kind, "error", err)
		ack, err = d.attempt(base, rt, cmd)
	}
	if err != nil {
		d.log().Error("command failed", "serial", serial, "kind", kind, "error", err)
		return transport.Ack{}, fmt.Errorf("%w: %s %s: %w", ErrCommandFailed, kind, serial, err)
	}

	now := d.now()
	if _, err := d.dir.MergeOptimistic(rt.target, implied(kind, param), now, now.Add(d.cfg.OptimisticTTL)); err != nil {
		d.log().Warn("optimistic merge failed", "serial", rt.target, "error", err)
	}

	d.log().Info("command acknowledged", "serial", serial, "kind", kind, "param", param)
	return ack, nil
}

// resolve finds the station session parameters for a command on rec.
func (d *Dispatcher) resolve(rec device.Record, kind transport.Kind) (route, error) {
	if !rec.Supported {
		return route{}, fmt.Errorf("%w: %s (%s): %w", ErrUnsupported, rec.Serial, rec.Model, device.ErrUnsupportedModel)
	}

	standalone := rec.StationSerial == "" || rec.StationSerial == rec.Serial
	if isGuard(kind) && rec.Kind != device.KindStation && !standalone {
		return route{}, fmt.Errorf("%w: %s on %s device %s; send it to station %s",
			ErrUnsupported, kind, rec.Kind, rec.Serial, rec.StationSerial)
	}
	if !isGuard(kind) && rec.Kind == device.KindStation {
		return route{}, fmt.Errorf("%w: %s on station %s", ErrUnsupported, kind, rec.Serial)
	}

	rt := route{target: rec.Serial, station: rec.Serial, address: rec.Address}
	if !standalone && rec.Kind != device.KindStation {
		rt.station = rec.StationSerial
		if st, err := d.dir.Snapshot(rec.StationSerial); err == nil && st.Address != "" {
			rt.address = st.Address
		}
	}
	if rt.address == "" {
		rt.address = d.cfg.DefaultAddress
	}
	if rt.address == "" {
		return route{}, fmt.Errorf("%w: %s", ErrNoRoute, rec.Serial)
	}
	return rt, nil
}

// attempt sends cmd once on a pooled or new session.
func (d *Dispatcher) attempt(base context.Context, rt route, cmd transport.Command) (transport.Ack, error) {
	ctx, cancel := context.WithTimeout(base, d.cfg.Timeout)
	defer cancel()

	sess, err := d.session(ctx, rt)
	if err != nil {
		return transport.Ack{}, err
	}

	ack, err := sess.SendCommand(ctx, cmd)
	if err != nil && !errors.Is(err, transport.ErrRejected) {
		d.evict(sessionKey(rt), sess)
		if !errors.Is(err, transport.ErrConnection) {
			err = fmt.Errorf("%w: %w", transport.ErrConnection, err)
		}
	}
	return ack, err
}

func sessionKey(rt route) string {
	return rt.address + "/" + rt.station
}

// session returns a live pooled session or connects a new one.
func (d *Dispatcher) session(ctx context.Context, rt route) (transport.Session, error) {
	key := sessionKey(rt)
	if s, ok := d.sessions.Get(key); ok {
		if s.Alive() {
			return s, nil
		}
		d.evict(key, s)
	}

	s, err := d.transport.Connect(ctx, rt.address, rt.station)
	if err != nil {
		if !errors.Is(err, transport.ErrConnection) {
			err = fmt.Errorf("%w: %w", transport.ErrConnection, err)
		}
		return nil, err
	}

	if !d.sessions.SetIfAbsent(key, s) {
		// Lost a race with another dispatch; use the pooled session.
		s.Close() //nolint:errcheck // Duplicate session
		if existing, ok := d.sessions.Get(key); ok {
			return existing, nil
		}
		d.sessions.Set(key, s)
	}
	d.log().Debug("station session opened", "address", rt.address, "station", rt.station)
	return s, nil
}

func (d *Dispatcher) evict(key string, s transport.Session) {
	removed := d.sessions.RemoveCb(key, func(_ string, v transport.Session, exists bool) bool {
		return exists && v == s
	})
	if removed {
		s.Close() //nolint:errcheck // Session already failed
	}
}

// Sessions returns the number of pooled sessions.
func (d *Dispatcher) Sessions() int {
	return d.sessions.Count()
}

// Close stops accepting commands, waits for in-flight ones (each bounded
// by its timeout) or ctx, then closes every pooled session.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.gate.Lock()
	d.closed = true
	d.gate.Unlock()

	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	for key, s := range d.sessions.Items() {
		d.sessions.Remove(key)
		s.Close() //nolint:errcheck // Shutting down
	}
	return err
}
