package bridge

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/eufy-bridge/internal/device"
	"github.com/nerrad567/eufy-bridge/internal/dispatch"
	"github.com/nerrad567/eufy-bridge/internal/infrastructure/config"
	"github.com/nerrad567/eufy-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/eufy-bridge/internal/poller"
	"github.com/nerrad567/eufy-bridge/internal/publisher"
	"github.com/nerrad567/eufy-bridge/internal/push"
	"github.com/nerrad567/eufy-bridge/internal/retry"
	"github.com/nerrad567/eufy-bridge/internal/transport"
)

// Loop cadences and fallbacks for unset configuration.
const (
	sweepInterval       = time.Second
	resyncCheckInterval = 10 * time.Second
	shutdownGrace       = 5 * time.Second

	defaultRefreshInterval = time.Hour
	defaultPersistInterval = time.Minute
	defaultRetryBase       = time.Second
	defaultRetryMax        = time.Minute
)

// Bridge is the orchestrator. It runs the startup sequence, owns the
// background loops and tears everything down in order on shutdown.
//
// Thread Safety:
//   - Health, Dispatch, Refresh and RequestResync are safe to call from
//     any goroutine once Ready is closed.
type Bridge struct {
	cfg       *config.Config
	version   string
	deps      Deps
	dir       *device.Directory
	poller    *poller.Poller
	topics    mqtt.Topics
	logger    Logger
	startedAt time.Time

	mu       sync.RWMutex
	started  bool
	bus      Bus
	pub      *publisher.Publisher
	listener *push.Listener
	disp     *dispatch.Dispatcher
	creds    *credentialManager
	health   *healthReporter

	ready    chan struct{}
	resync   chan struct{}
	commands sync.WaitGroup
}

// New creates a Bridge over dir. Nothing is contacted until Run.
func New(cfg *config.Config, version string, dir *device.Directory, deps Deps) *Bridge {
	p := poller.New(deps.Cloud, dir, poller.Config{
		CacheTTL:         cfg.Poller.CacheTTL,
		FailureThreshold: cfg.Poller.FailureThreshold,
	})
	return &Bridge{
		cfg:     cfg,
		version: version,
		deps:    deps,
		dir:     dir,
		poller:  p,
		topics:  mqtt.NewTopics(cfg.MQTT.Topics.Prefix, cfg.MQTT.Topics.DiscoveryPrefix),
		logger:  noopLogger{},
		ready:   make(chan struct{}),
		resync:  make(chan struct{}, 1),
	}
}

// SetLogger sets the logger of the bridge and the components it creates.
// Call before Run.
func (b *Bridge) SetLogger(logger Logger) {
	b.logger = logger
	b.poller.SetLogger(logger)
}

// Ready is closed once startup has completed.
func (b *Bridge) Ready() <-chan struct{} {
	return b.ready
}

// Directory returns the device directory.
func (b *Bridge) Directory() *device.Directory {
	return b.dir
}

// Run executes the startup sequence and then runs until ctx is cancelled.
//
// Startup order:
//  1. authenticate with the cloud (fatal)
//  2. refresh the inventory (fatal)
//  3. connect the bus (retried, fatal when the retry budget runs out)
//  4. publish discovery and state (retried)
//  5. retrieve the push credential and register its token (retried)
//  6. start the push listener
//  7. schedule the periodic refresh
//  8. start the command dispatcher and subscribe to command topics
//
// Run may be called once.
//
// Returns:
//   - error: wrapping ErrStartup when a fatal step fails, nil after a
//     clean shutdown
func (b *Bridge) Run(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return ErrAlreadyRunning
	}
	b.started = true
	b.startedAt = time.Now()
	b.mu.Unlock()

	var telemetry *device.Subscription
	if b.deps.Telemetry != nil {
		telemetry = b.dir.Subscribe()
	}

	if err := b.start(ctx); err != nil {
		if telemetry != nil {
			telemetry.Close()
		}
		b.shutdown()
		return err
	}
	close(b.ready)
	b.logger.Info("bridge started", "devices", b.dir.Len(), "push", b.listener != nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.pub.Run(gctx) })
	if b.listener != nil {
		g.Go(func() error { return b.listener.Run(gctx) })
	}
	if telemetry != nil {
		g.Go(func() error { return b.recordTelemetry(gctx, telemetry) })
	}
	g.Go(func() error { return b.refreshLoop(gctx) })
	g.Go(func() error { return b.maintenanceLoop(gctx) })
	g.Go(func() error { return b.resyncLoop(gctx) })
	b.health.Start(gctx)

	err := g.Wait()
	b.shutdown()
	return err
}

func (b *Bridge) start(ctx context.Context) error {
	if n, err := b.dir.Hydrate(ctx); err != nil {
		b.logger.Warn("loading stored device records failed", "error", err)
	} else if n > 0 {
		b.logger.Info("stored device records loaded", "count", n)
	}

	if _, err := b.deps.Cloud.Authenticate(ctx); err != nil {
		return fmt.Errorf("%w: authenticate: %w", ErrStartup, err)
	}

	n, err := b.poller.ForceRefresh(ctx)
	if err != nil {
		return fmt.Errorf("%w: initial refresh: %w", ErrStartup, err)
	}
	b.logger.Info("initial inventory loaded", "devices", n)

	policy := b.startupPolicy()

	var bus Bus
	err = retry.Do(ctx, policy, func(ctx context.Context) error {
		var err error
		bus, err = b.deps.ConnectBus(ctx)
		return err
	}, b.notify("connect bus"))
	if err != nil {
		return fmt.Errorf("%w: connect bus: %w", ErrStartup, err)
	}

	pub := publisher.New(b.dir, bus, publisher.Config{BridgeID: b.cfg.Bridge.ID, Topics: b.topics})
	pub.SetLogger(b.logger)
	b.mu.Lock()
	b.bus = bus
	b.pub = pub
	b.health = newHealthReporter(b.topics.BridgeHealth(), b.cfg.Bridge.HealthInterval, bus, b.Health, b.logger)
	b.mu.Unlock()

	b.subscribe(ctx, policy, b.topics.HomeAssistantStatus(), b.handleHomeAssistantStatus)
	bus.SetOnConnect(b.RequestResync)

	if err := retry.Do(ctx, policy, pub.Resync, b.notify("publish discovery")); err != nil {
		b.logger.Warn("initial discovery incomplete, will resync", "error", err)
	}

	if b.deps.Push != nil && b.cfg.Push.Enabled {
		creds := newCredentialManager(b.deps.Cloud, b.deps.Push, b.logger)
		err := retry.Do(ctx, policy, func(ctx context.Context) error {
			_, err := creds.Credential(ctx, false)
			return err
		}, b.notify("retrieve push credential"))
		if err != nil {
			b.logger.Warn("push credential unavailable, listener will keep trying", "error", err)
		}

		listener := push.NewListener(b.dir, creds, b.deps.Push, push.Config{
			BackoffBase:       b.cfg.Push.BackoffBase,
			BackoffMax:        b.cfg.Push.BackoffMax,
			DisconnectedAfter: b.cfg.Push.DisconnectedAfter,
		})
		listener.SetLogger(b.logger)
		listener.OnStateChange(func(s push.State) {
			b.recordEvent("push_state", s.String())
		})

		b.mu.Lock()
		b.creds = creds
		b.listener = listener
		b.mu.Unlock()
	}

	disp := dispatch.New(b.dir, b.deps.Commands, dispatch.Config{
		Timeout:        b.cfg.Commands.Timeout,
		OptimisticTTL:  b.cfg.Commands.OptimisticTTL,
		DefaultAddress: b.cfg.Commands.DefaultAddress,
	})
	disp.SetLogger(b.logger)
	b.mu.Lock()
	b.disp = disp
	b.mu.Unlock()

	runCtx := context.WithoutCancel(ctx)
	b.subscribe(ctx, policy, b.topics.AllDeviceCommands(), func(topic string, payload []byte) error {
		return b.handleCommand(runCtx, topic, payload)
	})

	b.poller.OnDegradedChange(func(degraded bool) {
		state := "recovered"
		if degraded {
			state = "degraded"
		}
		b.recordEvent("poller", state)
	})
	return nil
}

// subscribe retries a bus subscription; a subscription that cannot be
// established is logged and skipped.
func (b *Bridge) subscribe(ctx context.Context, policy retry.Policy, topic string, handler mqtt.MessageHandler) {
	err := retry.Do(ctx, policy, func(context.Context) error {
		return b.bus.Subscribe(topic, byte(b.cfg.MQTT.QoS), handler)
	}, b.notify("subscribe "+topic))
	if err != nil {
		b.logger.Error("bus subscription failed", "topic", topic, "error", err)
	}
}

func (b *Bridge) startupPolicy() retry.Policy {
	p := retry.Policy{
		Base:       b.cfg.Push.BackoffBase,
		Max:        b.cfg.Push.BackoffMax,
		MaxElapsed: b.cfg.Bridge.StartupRetryMaxElapsed,
	}
	if p.Base <= 0 {
		p.Base = defaultRetryBase
	}
	if p.Max <= 0 {
		p.Max = defaultRetryMax
	}
	return p
}

func (b *Bridge) notify(step string) retry.Notify {
	return func(err error, wait time.Duration) {
		b.logger.Warn("startup step failed, retrying", "step", step, "error", err, "retry_in", wait)
	}
}

// =============================================================================
// Background loops
// =============================================================================

// refreshLoop runs the scheduled inventory refresh and push token check.
func (b *Bridge) refreshLoop(ctx context.Context) error {
	interval := b.cfg.Bridge.RefreshInterval
	if interval <= 0 {
		interval = defaultRefreshInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := b.poller.Refresh(ctx); err != nil {
				b.logger.Warn("scheduled refresh failed", "error", err)
			}
			if b.creds != nil {
				if err := b.creds.Check(ctx); err != nil {
					b.logger.Warn("push token check failed", "error", err)
				}
			}
		}
	}
}

// maintenanceLoop expires optimistic state, persists the Directory and
// retries a pending bus resync.
func (b *Bridge) maintenanceLoop(ctx context.Context) error {
	persistEvery := b.cfg.Bridge.PersistInterval
	if persistEvery <= 0 {
		persistEvery = defaultPersistInterval
	}
	sweep := time.NewTicker(sweepInterval)
	defer sweep.Stop()
	persist := time.NewTicker(persistEvery)
	defer persist.Stop()
	resyncCheck := time.NewTicker(resyncCheckInterval)
	defer resyncCheck.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-sweep.C:
			b.dir.ExpireOptimistic(now)
		case <-persist.C:
			if n, err := b.dir.Persist(ctx, false); err != nil {
				b.logger.Warn("persisting device records failed", "error", err)
			} else if n > 0 {
				b.logger.Debug("device records persisted", "count", n)
			}
		case <-resyncCheck.C:
			if b.pub.PendingResync() && b.bus.IsConnected() {
				if err := b.pub.Resync(ctx); err != nil {
					b.logger.Warn("bus resync failed", "error", err)
				}
			}
		}
	}
}

// resyncLoop handles bus reconnects and Home Assistant restarts: refresh
// the inventory, then republish discovery and state.
func (b *Bridge) resyncLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.resync:
			if _, err := b.poller.ForceRefresh(ctx); err != nil {
				b.logger.Warn("refresh on resync failed", "error", err)
			}
			if err := b.pub.Resync(ctx); err != nil {
				b.logger.Warn("resync failed", "error", err)
			}
		}
	}
}

// RequestResync schedules a refresh and full republish. Requests made
// while one is pending are merged.
func (b *Bridge) RequestResync() {
	select {
	case b.resync <- struct{}{}:
	default:
	}
}

func (b *Bridge) handleHomeAssistantStatus(_ string, payload []byte) error {
	if string(payload) == mqtt.PayloadOnline {
		b.logger.Info("home assistant came online, republishing")
		b.RequestResync()
	}
	return nil
}

// shutdown stops the health reporter, waits for in-flight commands,
// closes the bus and persists the Directory.
func (b *Bridge) shutdown() {
	timeout := b.cfg.Commands.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*timeout+shutdownGrace)
	defer cancel()

	b.mu.RLock()
	health, disp, bus := b.health, b.disp, b.bus
	b.mu.RUnlock()

	if health != nil {
		health.Stop()
	}
	if disp != nil {
		if err := disp.Close(ctx); err != nil {
			b.logger.Warn("in-flight commands did not finish", "error", err)
		}
	}
	b.commands.Wait()

	if bus != nil {
		if err := bus.Close(); err != nil {
			b.logger.Warn("closing bus failed", "error", err)
		}
	}

	if n, err := b.dir.Persist(ctx, true); err != nil {
		b.logger.Error("persisting device records on shutdown failed", "error", err)
	} else {
		b.logger.Info("device records persisted", "count", n)
	}

	if b.deps.Telemetry != nil {
		b.deps.Telemetry.Flush()
	}
}

// =============================================================================
// Accessors
// =============================================================================

func (b *Bridge) dispatcher() *dispatch.Dispatcher {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.disp
}

// Dispatch executes a device command.
func (b *Bridge) Dispatch(ctx context.Context, serial string, kind transport.Kind, param int) (transport.Ack, error) {
	d := b.dispatcher()
	if d == nil {
		return transport.Ack{}, ErrNotReady
	}
	return d.Dispatch(ctx, serial, kind, param)
}

// Refresh fetches the inventory now, ignoring the cache.
func (b *Bridge) Refresh(ctx context.Context) (int, error) {
	return b.poller.ForceRefresh(ctx)
}

// Health returns the current health report.
func (b *Bridge) Health() HealthReport {
	b.mu.RLock()
	bus, pub, listener, disp, since := b.bus, b.pub, b.listener, b.disp, b.startedAt
	b.mu.RUnlock()

	r := HealthReport{
		Bridge:    b.cfg.Bridge.ID,
		Timestamp: time.Now().UTC(),
		Status:    HealthHealthy,
		Version:   b.version,
		Devices:   b.dir.Len(),
		Poller:    b.poller.Health(),
	}
	if !since.IsZero() {
		r.UptimeSeconds = int64(time.Since(since).Seconds())
	}
	if bus != nil {
		r.BusConnected = bus.IsConnected()
	}
	if pub != nil {
		stats := pub.Stats()
		r.Publisher = &stats
	}
	if listener != nil {
		h := listener.Health()
		r.Push = &h
	}
	if disp != nil {
		r.CommandSessions = disp.Sessions()
	}
	failed := b.runChecks(&r)

	select {
	case <-b.ready:
	default:
		r.Status = HealthStarting
		return r
	}

	if !r.BusConnected {
		r.Reasons = append(r.Reasons, "bus disconnected")
	}
	if r.Poller.Degraded {
		r.Reasons = append(r.Reasons, "poller degraded")
	}
	if r.Push != nil && r.Push.Disconnected {
		r.Reasons = append(r.Reasons, "push disconnected")
	}
	for _, name := range failed {
		r.Reasons = append(r.Reasons, name+" unhealthy")
	}
	if len(r.Reasons) > 0 {
		r.Status = HealthDegraded
	}
	return r
}

// runChecks probes every dependency in name order and returns the names
// that failed.
func (b *Bridge) runChecks(r *HealthReport) []string {
	if len(b.deps.Checks) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	r.Checks = make(map[string]string, len(b.deps.Checks))
	var failed []string
	for _, name := range slices.Sorted(maps.Keys(b.deps.Checks)) {
		if err := b.deps.Checks[name].HealthCheck(ctx); err != nil {
			r.Checks[name] = err.Error()
			failed = append(failed, name)
			continue
		}
		r.Checks[name] = "ok"
	}
	return failed
}
