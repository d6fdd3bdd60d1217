package api

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	Process       *ProcessMetrics `json:"process,omitempty"`
	Host          *HostMetrics    `json:"host,omitempty"`
	WebSocket     WSMetrics       `json:"websocket"`
	Bridge        BridgeMetrics   `json:"bridge"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// ProcessMetrics describes the bridge process as seen by the OS.
type ProcessMetrics struct {
	CPUPercent float64 `json:"cpu_percent"`
	RSSMB      float64 `json:"rss_mb"`
	Threads    int32   `json:"threads"`
}

// HostMetrics describes host memory.
type HostMetrics struct {
	MemoryTotalMB     float64 `json:"memory_total_mb"`
	MemoryUsedPercent float64 `json:"memory_used_percent"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// BridgeMetrics summarises the bridge components.
type BridgeMetrics struct {
	Status          string `json:"status"`
	Devices         int    `json:"devices"`
	BusConnected    bool   `json:"bus_connected"`
	PollerDegraded  bool   `json:"poller_degraded"`
	PushState       string `json:"push_state,omitempty"`
	PushApplied     uint64 `json:"push_applied"`
	Published       uint64 `json:"published"`
	PublishFailures uint64 `json:"publish_failures"`
	CommandSessions int    `json:"command_sessions"`
}

const bytesPerMB = 1024 * 1024

// handleMetrics returns runtime, process and bridge metrics. Process and
// host sections are omitted when the OS does not expose them.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	health := s.bridge.Health()

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / bytesPerMB,
			MemoryTotalMB: float64(memStats.TotalAlloc) / bytesPerMB,
			NumGC:         memStats.NumGC,
		},
		Process: processMetrics(),
		Host:    hostMetrics(),
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Bridge: BridgeMetrics{
			Status:          string(health.Status),
			Devices:         health.Devices,
			BusConnected:    health.BusConnected,
			PollerDegraded:  health.Poller.Degraded,
			CommandSessions: health.CommandSessions,
		},
	}
	if health.Push != nil {
		metrics.Bridge.PushState = health.Push.StateName
		metrics.Bridge.PushApplied = health.Push.Applied
	}
	if health.Publisher != nil {
		metrics.Bridge.Published = health.Publisher.Published
		metrics.Bridge.PublishFailures = health.Publisher.Failed
	}

	writeJSON(w, http.StatusOK, metrics)
}

func processMetrics() *ProcessMetrics {
	p, err := process.NewProcess(int32(os.Getpid())) //nolint:gosec // G115: pids fit int32
	if err != nil {
		return nil
	}
	m := &ProcessMetrics{}
	if cpu, err := p.CPUPercent(); err == nil {
		m.CPUPercent = cpu
	}
	if info, err := p.MemoryInfo(); err == nil {
		m.RSSMB = float64(info.RSS) / bytesPerMB
	}
	if threads, err := p.NumThreads(); err == nil {
		m.Threads = threads
	}
	return m
}

func hostMetrics() *HostMetrics {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return nil
	}
	return &HostMetrics{
		MemoryTotalMB:     float64(vm.Total) / bytesPerMB,
		MemoryUsedPercent: vm.UsedPercent,
	}
}
