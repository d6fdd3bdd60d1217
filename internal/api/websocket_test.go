package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/eufy-bridge/internal/auth"
	"github.com/nerrad567/eufy-bridge/internal/infrastructure/config"
	"github.com/nerrad567/eufy-bridge/internal/device"
	"github.com/nerrad567/eufy-bridge/internal/infrastructure/logging"
)

func newMockClient(hub *Hub, channels ...string) *WSClient {
	c := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	for _, ch := range channels {
		c.subscriptions[ch] = struct{}{}
	}
	hub.Register(c)
	return c
}

// =============================================================================
// Hub
// =============================================================================

func TestHub_BroadcastChannels(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, logging.Discard())

	all := newMockClient(hub, ChannelDevices)
	one := newMockClient(hub, DeviceChannel("T8113C001"))
	both := newMockClient(hub, ChannelDevices, DeviceChannel("T8113C001"))
	other := newMockClient(hub, DeviceChannel("T8010P001"))
	none := newMockClient(hub)

	if hub.ClientCount() != 5 {
		t.Fatalf("ClientCount() = %d, want 5", hub.ClientCount())
	}

	hub.Broadcast(EventDeviceChanged, DeviceChangedPayload{Serial: "T8113C001"},
		ChannelDevices, DeviceChannel("T8113C001"))

	tests := []struct {
		name   string
		client *WSClient
		want   int
	}{
		{"all devices", all, 1},
		{"device channel", one, 1},
		{"subscribed twice", both, 1},
		{"other device", other, 0},
		{"no subscriptions", none, 0},
	}
	for _, tt := range tests {
		if got := len(tt.client.send); got != tt.want {
			t.Errorf("%s: received %d messages, want %d", tt.name, got, tt.want)
		}
	}

	var msg WSMessage
	if err := json.Unmarshal(<-all.send, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != WSTypeEvent || msg.EventType != EventDeviceChanged {
		t.Errorf("message = %+v", msg)
	}
}

func TestHub_Unregister(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, logging.Discard())
	c := newMockClient(hub, ChannelDevices)

	hub.Unregister(c)
	hub.Unregister(c)

	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", hub.ClientCount())
	}
	if _, open := <-c.send; open {
		t.Error("send channel should be closed")
	}

	// Broadcasting to a closed client must not panic.
	c.trySend([]byte("late"))
}

func TestHandleSubscription(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, logging.Discard())
	c := newMockClient(hub)

	c.handleMessage([]byte(`{"type":"subscribe","id":"1","payload":{"channels":["devices","device:T8113C001"]}}`))
	if !c.subscribedToAny([]string{ChannelDevices}) || !c.subscribedToAny([]string{DeviceChannel("T8113C001")}) {
		t.Fatal("subscribe did not register channels")
	}

	c.handleMessage([]byte(`{"type":"unsubscribe","id":"2","payload":{"channels":["devices"]}}`))
	if c.subscribedToAny([]string{ChannelDevices}) {
		t.Error("unsubscribe did not remove channel")
	}

	c.handleMessage([]byte(`{"type":"subscribe","id":"3","payload":{"channels":["scenes"]}}`))
	if c.subscribedToAny([]string{"scenes"}) {
		t.Error("unknown channel accepted")
	}

	wantTypes := []string{WSTypeResponse, WSTypeResponse, WSTypeError}
	for i, want := range wantTypes {
		var msg WSMessage
		if err := json.Unmarshal(<-c.send, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if msg.Type != want {
			t.Errorf("reply %d type = %q, want %q", i, msg.Type, want)
		}
	}
}

func TestValidChannel(t *testing.T) {
	tests := map[string]bool{
		"devices":          true,
		"device:T8113C001": true,
		"device:":          false,
		"scenes":           false,
		"":                 false,
	}
	for ch, want := range tests {
		if got := validChannel(ch); got != want {
			t.Errorf("validChannel(%q) = %v, want %v", ch, got, want)
		}
	}
}

func TestWSTimings(t *testing.T) {
	ping, pong, size := wsTimings(config.WebSocketConfig{})
	if ping != defaultWSPingInterval || pong != defaultWSPongTimeout || size != defaultWSMaxMessageSize {
		t.Errorf("defaults = %v %v %d", ping, pong, size)
	}

	ping, pong, size = wsTimings(config.WebSocketConfig{PingInterval: 5, PongTimeout: 2, MaxMessageSize: 1024})
	if ping != 5*time.Second || pong != 2*time.Second || size != 1024 {
		t.Errorf("configured = %v %v %d", ping, pong, size)
	}
}

// =============================================================================
// End to end
// =============================================================================

func wsURL(ts *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws" + query
}

func TestWebSocket_Unauthorized(t *testing.T) {
	srv, _, _ := testServer(t, nil)
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	for _, query := range []string{"", "?ticket=bogus"} {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, query), nil)
		if err == nil {
			t.Fatalf("%q: dial should fail", query)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%q: response = %v, want 401", query, resp)
		}
	}
}

func TestWebSocket_StreamsDeviceChanges(t *testing.T) {
	srv, _, dir := testServer(t, nil)
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.streamDirectory(ctx)

	ticket := srv.tickets.issue("tester", auth.RoleViewer, time.Now())
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "?ticket="+ticket), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The ticket is single use.
	if _, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "?ticket="+ticket), nil); err == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("ticket reuse: err = %v", err)
	}

	type frame struct {
		Type      string          `json:"type"`
		EventType string          `json:"event_type"`
		Payload   json.RawMessage `json:"payload"`
	}
	frames := make(chan frame, 64)
	go func() {
		defer close(frames)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f frame
			if json.Unmarshal(data, &f) == nil {
				frames <- f
			}
		}
	}()

	sub := `{"type":"subscribe","id":"1","payload":{"channels":["device:T8113C001"]}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(sub)); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Merge until the stream, which subscribes asynchronously, forwards one.
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	deadline := time.After(3 * time.Second)
	battery := int64(50)

	for {
		select {
		case f, ok := <-frames:
			if !ok {
				t.Fatal("connection closed before event")
			}
			if f.Type != WSTypeEvent {
				continue
			}
			if f.EventType != EventDeviceChanged {
				t.Fatalf("event type = %q", f.EventType)
			}
			var p DeviceChangedPayload
			if err := json.Unmarshal(f.Payload, &p); err != nil {
				t.Fatalf("payload: %v", err)
			}
			if p.Serial != "T8113C001" || p.Source != device.SourcePush || len(p.Changed) != 1 || p.Changed[0] != device.PropBattery {
				t.Errorf("payload = %+v", p)
			}
			if srv.hub.ClientCount() != 1 {
				t.Errorf("ClientCount() = %d, want 1", srv.hub.ClientCount())
			}
			return
		case <-tick.C:
			battery--
			if _, err := dir.Merge("T8113C001", map[string]device.Value{device.PropBattery: device.IntValue(battery)}, time.Now(), device.SourcePush); err != nil {
				t.Fatalf("Merge() error = %v", err)
			}
		case <-deadline:
			t.Fatal("timed out waiting for device.changed event")
		}
	}
}
