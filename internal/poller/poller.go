package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nerrad567/eufy-bridge/internal/cloud"
	"github.com/nerrad567/eufy-bridge/internal/device"
)

// Logger defines the logging interface used by the Poller.
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

// Fetcher retrieves the full cloud inventory. *cloud.Client implements it.
type Fetcher interface {
	ListDevices(ctx context.Context) (cloud.Inventory, error)
}

// Reconciler applies an inventory. *device.Directory implements it.
type Reconciler interface {
	UpsertFromInventory(items []device.InventoryItem, fetchedAt time.Time) device.InventoryResult
}

const (
	defaultCacheTTL         = 15 * time.Minute
	defaultFailureThreshold = 3
)

// Config configures a Poller.
type Config struct {
	CacheTTL         time.Duration
	FailureThreshold int
}

// Health is a point-in-time view of the poller.
type Health struct {
	Degraded            bool      `json:"degraded"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
	LastSuccess         time.Time `json:"last_success,omitzero"`
	CachedDevices       int       `json:"cached_devices"`
}

// Poller fetches the cloud inventory and reconciles it into the Directory.
//
// All public methods are thread-safe.
type Poller struct {
	fetcher Fetcher
	dir     Reconciler
	cfg     Config
	now     func() time.Time

	group singleflight.Group

	mu          sync.Mutex
	cache       *cloud.Inventory
	cachedAt    time.Time
	failures    int
	degraded    bool
	lastErr     error
	onDegraded  func(bool)
	logger      Logger
	lastSuccess time.Time
}

// New creates a Poller. Zero config fields take defaults.
func New(fetcher Fetcher, dir Reconciler, cfg Config) *Poller {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	return &Poller{
		fetcher: fetcher,
		dir:     dir,
		cfg:     cfg,
		now:     time.Now,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the Poller.
func (p *Poller) SetLogger(logger Logger) {
	p.mu.Lock()
	p.logger = logger
	p.mu.Unlock()
}

// OnDegradedChange registers a callback invoked when the degraded flag flips.
func (p *Poller) OnDegradedChange(fn func(degraded bool)) {
	p.mu.Lock()
	p.onDegraded = fn
	p.mu.Unlock()
}

func (p *Poller) log() Logger {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.logger
}

// Refresh returns the number of devices in the current inventory,
// fetching a new one only when the cache is older than the cache TTL.
//
// On failure the previous inventory is kept and its device count is
// returned together with an error wrapping ErrRefreshFailed.
func (p *Poller) Refresh(ctx context.Context) (int, error) {
	if n, ok := p.fresh(); ok {
		p.log().Debug("inventory cache hit", "devices", n)
		return n, nil
	}
	return p.do(func() (int, error) {
		// A fetch that finished while this caller waited satisfies it.
		if n, ok := p.fresh(); ok {
			return n, nil
		}
		return p.fetch(ctx)
	})
}

// ForceRefresh fetches a new inventory regardless of the cache age.
// Concurrent calls share one fetch.
func (p *Poller) ForceRefresh(ctx context.Context) (int, error) {
	return p.do(func() (int, error) { return p.fetch(ctx) })
}

func (p *Poller) do(fn func() (int, error)) (int, error) {
	v, err, shared := p.group.Do("inventory", func() (any, error) {
		return fn()
	})
	if shared {
		p.log().Debug("joined in-flight inventory fetch")
	}
	if err != nil {
		return p.cachedCount(), err
	}
	return v.(int), nil
}

// fresh returns the cached device count when the cache is within its TTL.
func (p *Poller) fresh() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cache == nil || p.now().Sub(p.cachedAt) >= p.cfg.CacheTTL {
		return 0, false
	}
	return len(p.cache.Devices), true
}

func (p *Poller) fetch(ctx context.Context) (int, error) {
	inv, err := p.fetcher.ListDevices(ctx)
	if err != nil {
		p.recordFailure(err)
		return 0, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	if inv.FetchedAt.IsZero() {
		inv.FetchedAt = p.now()
	}

	items := p.convert(inv.Devices)
	res := p.dir.UpsertFromInventory(items, inv.FetchedAt)

	p.recordSuccess(inv)
	p.log().Info("inventory refreshed",
		"devices", len(inv.Devices),
		"added", len(res.Added),
		"updated", len(res.Updated),
		"marked_offline", len(res.MarkedOffline),
		"unsupported", len(res.Unsupported),
	)
	return len(inv.Devices), nil
}

// convert turns cloud devices into inventory items. Properties whose
// value is not a scalar are dropped.
func (p *Poller) convert(devices []cloud.Device) []device.InventoryItem {
	items := make([]device.InventoryItem, 0, len(devices))
	for _, d := range devices {
		item := device.InventoryItem{
			Serial:        d.Serial,
			Name:          d.Name,
			Model:         d.Model,
			StationSerial: d.StationSerial,
			Address:       d.Address,
			Properties:    make(map[string]device.Value, len(d.Properties)),
		}
		for name, raw := range d.Properties {
			v, err := device.ValueOf(raw)
			if err != nil {
				p.log().Warn("skipping property", "serial", d.Serial, "property", name, "error", err)
				continue
			}
			item.Properties[name] = v
		}
		items = append(items, item)
	}
	return items
}

func (p *Poller) recordFailure(err error) {
	p.mu.Lock()
	p.failures++
	p.lastErr = err
	flipped := !p.degraded && p.failures >= p.cfg.FailureThreshold
	if flipped {
		p.degraded = true
	}
	failures, cb, logger := p.failures, p.onDegraded, p.logger
	p.mu.Unlock()

	logger.Warn("inventory refresh failed", "consecutive_failures", failures, "error", err)
	if flipped {
		logger.Error("poller degraded", "consecutive_failures", failures)
		if cb != nil {
			cb(true)
		}
	}
}

func (p *Poller) recordSuccess(inv cloud.Inventory) {
	p.mu.Lock()
	p.cache = &inv
	p.cachedAt = p.now()
	p.lastSuccess = p.cachedAt
	p.failures = 0
	p.lastErr = nil
	recovered := p.degraded
	p.degraded = false
	cb, logger := p.onDegraded, p.logger
	p.mu.Unlock()

	if recovered {
		logger.Info("poller recovered")
		if cb != nil {
			cb(false)
		}
	}
}

func (p *Poller) cachedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cache == nil {
		return 0
	}
	return len(p.cache.Devices)
}

// Cached returns the last successfully fetched inventory.
func (p *Poller) Cached() (cloud.Inventory, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cache == nil {
		return cloud.Inventory{}, false
	}
	return *p.cache, true
}

// Degraded reports whether the consecutive failure threshold was reached.
func (p *Poller) Degraded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.degraded
}

// Health returns the poller's current health.
func (p *Poller) Health() Health {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := Health{
		Degraded:            p.degraded,
		ConsecutiveFailures: p.failures,
		LastSuccess:         p.lastSuccess,
	}
	if p.lastErr != nil {
		h.LastError = p.lastErr.Error()
	}
	if p.cache != nil {
		h.CachedDevices = len(p.cache.Devices)
	}
	return h
}
