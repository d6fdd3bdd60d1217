package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/eufy-bridge/internal/poller"
	"github.com/nerrad567/eufy-bridge/internal/publisher"
	"github.com/nerrad567/eufy-bridge/internal/push"
)

// HealthStatus is the overall bridge status.
type HealthStatus string

// Health statuses.
const (
	HealthStarting HealthStatus = "starting"
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStopping HealthStatus = "stopping"
)

// HealthReport is the bridge health message, published retained on
// {prefix}/bridge/health and served by the API.
type HealthReport struct {
	Bridge        string       `json:"bridge"`
	Timestamp     time.Time    `json:"timestamp"`
	Status        HealthStatus `json:"status"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`

	// Reasons explains a degraded status.
	Reasons []string `json:"reasons,omitempty"`

	Devices         int              `json:"devices"`
	BusConnected    bool             `json:"bus_connected"`
	Poller          poller.Health    `json:"poller"`
	Push            *push.Health     `json:"push,omitempty"`
	Publisher       *publisher.Stats `json:"publisher,omitempty"`
	CommandSessions int              `json:"command_sessions"`

	// Checks holds "ok" or the error of each dependency probe.
	Checks map[string]string `json:"checks,omitempty"`
}

// healthCheckTimeout bounds all dependency probes of one report.
const healthCheckTimeout = 2 * time.Second

// healthPublisher is the part of the bus the reporter needs.
type healthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// healthReporter publishes the health report at a fixed interval.
type healthReporter struct {
	topic     string
	interval  time.Duration
	publisher healthPublisher
	collect   func() HealthReport
	logger    Logger

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func newHealthReporter(topic string, interval time.Duration, pub healthPublisher, collect func() HealthReport, logger Logger) *healthReporter {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &healthReporter{
		topic:     topic,
		interval:  interval,
		publisher: pub,
		collect:   collect,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start begins periodic reporting until ctx ends or Stop is called.
func (h *healthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" report.
// Safe to call multiple times.
func (h *healthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		report := h.collect()
		report.Status = HealthStopping
		report.Reasons = nil
		//nolint:errcheck // Best-effort during shutdown
		h.publish(report)
	})
}

// PublishNow publishes the current report immediately.
func (h *healthReporter) PublishNow() error {
	return h.publish(h.collect())
}

func (h *healthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logger.Warn("failed to publish initial health", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logger.Warn("failed to publish health", "error", err)
			}
		}
	}
}

func (h *healthReporter) publish(report HealthReport) error {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return nil
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return err
	}
	return h.publisher.Publish(h.topic, payload, 1, true)
}
