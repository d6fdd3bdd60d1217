package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

type recordingPublisher struct {
	mu        sync.Mutex
	connected bool
	payloads  [][]byte
	topics    []string
	retained  []bool
}

func (p *recordingPublisher) Publish(topic string, payload []byte, _ byte, retained bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload)
	p.retained = append(p.retained, retained)
	return nil
}

func (p *recordingPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.payloads)
}

func (p *recordingPublisher) last(t *testing.T) HealthReport {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.payloads) == 0 {
		t.Fatal("nothing published")
	}
	var r HealthReport
	if err := json.Unmarshal(p.payloads[len(p.payloads)-1], &r); err != nil {
		t.Fatalf("decoding health: %v", err)
	}
	return r
}

func degradedReport() HealthReport {
	return HealthReport{Bridge: "test-bridge", Status: HealthDegraded, Reasons: []string{"bus disconnected"}}
}

func TestHealthReporter_PublishesOnStart(t *testing.T) {
	pub := &recordingPublisher{connected: true}
	h := newHealthReporter("eufy/bridge/health", time.Hour, pub, degradedReport, noopLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx)
	defer h.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for pub.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("initial health not published")
		}
		time.Sleep(5 * time.Millisecond)
	}

	pub.mu.Lock()
	topic, retained := pub.topics[0], pub.retained[0]
	pub.mu.Unlock()
	if topic != "eufy/bridge/health" || !retained {
		t.Errorf("published to %s retained=%v", topic, retained)
	}
	if r := pub.last(t); r.Bridge != "test-bridge" {
		t.Errorf("Bridge = %q", r.Bridge)
	}
}

func TestHealthReporter_StopPublishesStopping(t *testing.T) {
	pub := &recordingPublisher{connected: true}
	h := newHealthReporter("eufy/bridge/health", time.Hour, pub, degradedReport, noopLogger{})

	h.Start(context.Background())
	h.Stop()
	h.Stop()

	r := pub.last(t)
	if r.Status != HealthStopping {
		t.Errorf("Status = %q, want stopping", r.Status)
	}
	if len(r.Reasons) != 0 {
		t.Errorf("Reasons = %v, want none", r.Reasons)
	}
}

func TestHealthReporter_SkipsWhenDisconnected(t *testing.T) {
	pub := &recordingPublisher{}
	h := newHealthReporter("eufy/bridge/health", time.Hour, pub, degradedReport, noopLogger{})

	if err := h.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}
	if pub.count() != 0 {
		t.Error("published while disconnected")
	}
}
