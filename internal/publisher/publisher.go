package publisher

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/eufy-bridge/internal/device"
	"github.com/nerrad567/eufy-bridge/internal/infrastructure/mqtt"
)

// Logger defines the logging interface used by the Publisher.
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

// Bus is the message bus the Publisher writes to. *mqtt.Client implements it.
type Bus interface {
	PublishRetained(topic string, payload []byte) error
	IsConnected() bool
}

// Source is the device state the Publisher mirrors. *device.Directory implements it.
type Source interface {
	Subscribe() *device.Subscription
	ListAll() []device.Record
}

// Config configures a Publisher.
type Config struct {
	// BridgeID prefixes discovery node IDs.
	BridgeID string
	Topics   mqtt.Topics
}

// Stats counts publisher activity.
type Stats struct {
	Published     uint64 `json:"published"`
	Failed        uint64 `json:"failed"`
	PendingResync bool   `json:"pending_resync"`
}

// Publisher mirrors Directory changes onto the bus: discovery config the
// first time a device property is seen, then one retained state message
// per changed property.
//
// A failed publish is not retried; it sets the pending-resync flag and the
// next Resync republishes everything.
type Publisher struct {
	src    Source
	bus    Bus
	cfg    Config
	sub    *device.Subscription
	logger Logger

	// mu serializes event handling and Resync so state is published in order.
	mu        sync.Mutex
	announced map[string]map[string]struct{}

	pending   atomic.Bool
	published atomic.Uint64
	failed    atomic.Uint64
}

// New creates a Publisher. It subscribes to src immediately, so every
// change after New returns is published once Run starts.
func New(src Source, bus Bus, cfg Config) *Publisher {
	if cfg.BridgeID == "" {
		cfg.BridgeID = "eufy-bridge"
	}
	return &Publisher{
		src:       src,
		bus:       bus,
		cfg:       cfg,
		sub:       src.Subscribe(),
		logger:    noopLogger{},
		announced: make(map[string]map[string]struct{}),
	}
}

// SetLogger sets the logger. Call before Run.
func (p *Publisher) SetLogger(logger Logger) {
	p.logger = logger
}

// Run publishes change events until ctx is cancelled. It closes the
// subscription on return.
func (p *Publisher) Run(ctx context.Context) error {
	defer p.sub.Close()

	for {
		ev, err := p.sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, device.ErrSubscriptionClosed) {
				return nil
			}
			return err
		}
		p.handle(ev)
	}
}

// handle publishes one change event.
func (p *Publisher) handle(ev device.ChangeEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec := ev.Record
	p.announce(rec, false)

	for _, name := range ev.Changed {
		if name == device.PropOnline {
			continue
		}
		p.publishState(rec, name)
	}
	if ev.Added || slices.Contains(ev.Changed, device.PropOnline) {
		p.publishAvailability(rec)
	}
}

// announce publishes discovery for properties not yet announced, or for
// all properties when force is set.
func (p *Publisher) announce(rec device.Record, force bool) bool {
	msgs, err := buildDiscovery(p.cfg.Topics, p.cfg.BridgeID, rec)
	if err != nil {
		p.logger.Error("building discovery config", "serial", rec.Serial, "error", err)
		return false
	}

	seen := p.announced[rec.Serial]
	if seen == nil || force {
		seen = make(map[string]struct{})
		p.announced[rec.Serial] = seen
	}

	ok := true
	node := nodeID(p.cfg.BridgeID, rec.Serial)
	for _, m := range msgs {
		if _, done := seen[m.topic]; done {
			continue
		}
		if !p.publish(m.topic, m.payload) {
			ok = false
			continue
		}
		seen[m.topic] = struct{}{}
	}
	if len(msgs) > 0 {
		p.logger.Debug("discovery published", "serial", rec.Serial, "node", node, "entities", len(msgs))
	}
	return ok
}

// publishState publishes one property. A property that no longer exists
// clears the retained message.
func (p *Publisher) publishState(rec device.Record, name string) bool {
	var payload []byte
	if v, ok := rec.Get(name); ok {
		payload = []byte(v.String())
	}
	return p.publish(p.cfg.Topics.DeviceState(rec.Serial, name), payload)
}

func (p *Publisher) publishAvailability(rec device.Record) bool {
	payload := mqtt.PayloadOnline
	if v, ok := rec.Get(device.PropOnline); ok && !v.Bool() {
		payload = mqtt.PayloadOffline
	}
	return p.publish(p.cfg.Topics.DeviceAvailability(rec.Serial), []byte(payload))
}

func (p *Publisher) publish(topic string, payload []byte) bool {
	if err := p.bus.PublishRetained(topic, payload); err != nil {
		p.failed.Add(1)
		if !p.pending.Swap(true) {
			p.logger.Warn("publish failed, resync pending", "topic", topic, "error", err)
		}
		return false
	}
	p.published.Add(1)
	return true
}

// Resync republishes discovery, state and availability of every device in
// ListAll. It clears the pending-resync flag; any failure sets it again
// and yields ErrResyncIncomplete.
func (p *Publisher) Resync(ctx context.Context) error {
	if !p.bus.IsConnected() {
		return ErrNotConnected
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.pending.Store(false)
	records := p.src.ListAll()
	failed := 0
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			p.pending.Store(true)
			return err
		}
		if !p.announce(rec, true) {
			failed++
		}
		for _, name := range rec.PropertyNames() {
			if name == device.PropOnline {
				continue
			}
			if !p.publishState(rec, name) {
				failed++
			}
		}
		if !p.publishAvailability(rec) {
			failed++
		}
	}

	if failed > 0 {
		p.pending.Store(true)
		return fmt.Errorf("%w: %d devices, %d failed publishes", ErrResyncIncomplete, len(records), failed)
	}
	p.logger.Info("bus resynchronized", "devices", len(records))
	return nil
}

// PendingResync reports whether a publish failed since the last complete Resync.
func (p *Publisher) PendingResync() bool {
	return p.pending.Load()
}

// Stats returns publish counters.
func (p *Publisher) Stats() Stats {
	return Stats{
		Published:     p.published.Load(),
		Failed:        p.failed.Load(),
		PendingResync: p.pending.Load(),
	}
}
