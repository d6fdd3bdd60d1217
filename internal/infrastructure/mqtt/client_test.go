package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/eufy-bridge/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration. Tests in this file never
// contact a broker; see integration_test.go for those.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "eufy-bridge-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
		Topics: config.MQTTTopicsConfig{
			Prefix:          "eufy",
			DiscoveryPrefix: "homeassistant",
		},
	}
}

// fakeMessage implements pahomqtt.Message for handler tests.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

// recordingLogger captures log calls.
type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

// =============================================================================
// Topic Tests
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	topics := NewTopics("eufy", "homeassistant")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"DeviceState", topics.DeviceState("T8010P1234", "guard_mode"), "eufy/T8010P1234/guard_mode"},
		{"DeviceCommand", topics.DeviceCommand("T8010P1234", "guard_mode"), "eufy/T8010P1234/guard_mode/set"},
		{"DeviceAvailability", topics.DeviceAvailability("T8010P1234"), "eufy/T8010P1234/availability"},
		{"BridgeStatus", topics.BridgeStatus(), "eufy/bridge/status"},
		{"BridgeHealth", topics.BridgeHealth(), "eufy/bridge/health"},
		{
			"Discovery",
			topics.Discovery("binary_sensor", "eufy-bridge_T8113P1", "motion"),
			"homeassistant/binary_sensor/eufy-bridge_T8113P1/motion/config",
		},
		{"HomeAssistantStatus", topics.HomeAssistantStatus(), "homeassistant/status"},
		{"AllDeviceCommands", topics.AllDeviceCommands(), "eufy/+/+/set"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestNewTopics_Defaults(t *testing.T) {
	topics := NewTopics("", "ha/")

	if topics.Prefix != DefaultPrefix {
		t.Errorf("Prefix = %q, want %q", topics.Prefix, DefaultPrefix)
	}
	if topics.DiscoveryPrefix != "ha" {
		t.Errorf("DiscoveryPrefix = %q, want trailing slash trimmed", topics.DiscoveryPrefix)
	}
}

func TestParseDeviceCommand(t *testing.T) {
	topics := NewTopics("eufy", "homeassistant")

	tests := []struct {
		topic        string
		wantSerial   string
		wantProperty string
		wantOK       bool
	}{
		{"eufy/T8010P1234/guard_mode/set", "T8010P1234", "guard_mode", true},
		{"eufy/T8113P1/motion_detection/set", "T8113P1", "motion_detection", true},
		{"eufy/T8010P1234/guard_mode", "", "", false},
		{"other/T8010P1234/guard_mode/set", "", "", false},
		{"eufy/bridge/status/set", "", "", false},
		{"eufy//guard_mode/set", "", "", false},
		{"eufy/a/b/c/set", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			serial, property, ok := topics.ParseDeviceCommand(tt.topic)
			if ok != tt.wantOK || serial != tt.wantSerial || property != tt.wantProperty {
				t.Errorf("ParseDeviceCommand(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.topic, serial, property, ok, tt.wantSerial, tt.wantProperty, tt.wantOK)
			}
		})
	}
}

// =============================================================================
// Options Tests
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "bridge"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want [tcp://127.0.0.1:1883]", opts.Servers)
	}
	if opts.ClientID != "eufy-bridge-test" {
		t.Errorf("ClientID = %q, want eufy-bridge-test", opts.ClientID)
	}
	if opts.Username != "bridge" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q, want bridge/secret", opts.Username, opts.Password)
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect = false, want true")
	}
	if opts.MaxReconnectInterval != 5*time.Second {
		t.Errorf("MaxReconnectInterval = %v, want 5s", opts.MaxReconnectInterval)
	}
}

func TestBuildClientOptions_TLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883

	opts := buildClientOptions(cfg)

	if opts.Servers[0].Scheme != "ssl" {
		t.Errorf("scheme = %q, want ssl", opts.Servers[0].Scheme)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLSConfig not set with minimum version")
	}
}

func TestConfigureLWT(t *testing.T) {
	cfg := testConfig()
	opts := buildClientOptions(cfg)

	configureLWT(opts, NewTopics("eufy", "homeassistant"))

	if !opts.WillEnabled {
		t.Fatal("WillEnabled = false, want true")
	}
	if opts.WillTopic != "eufy/bridge/status" {
		t.Errorf("WillTopic = %q, want eufy/bridge/status", opts.WillTopic)
	}
	if string(opts.WillPayload) != PayloadOffline {
		t.Errorf("WillPayload = %q, want %q", opts.WillPayload, PayloadOffline)
	}
	if !opts.WillRetained || opts.WillQos != 1 {
		t.Errorf("Will retained=%v qos=%d, want retained QoS 1", opts.WillRetained, opts.WillQos)
	}
}

func TestPublishTimeout(t *testing.T) {
	cfg := testConfig()
	if got := publishTimeout(cfg); got != defaultPublishTimeout {
		t.Errorf("publishTimeout(unset) = %v, want %v", got, defaultPublishTimeout)
	}

	cfg.PublishTimeout = 500 * time.Millisecond
	if got := publishTimeout(cfg); got != 500*time.Millisecond {
		t.Errorf("publishTimeout = %v, want 500ms", got)
	}
}

// =============================================================================
// Disconnected Client Tests
// =============================================================================

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v, want nil", err)
	}
}

func TestIsConnected_InitialState(t *testing.T) {
	client := newClient(testConfig())
	if client.IsConnected() {
		t.Error("IsConnected() = true for a client that never connected")
	}
}

func TestPublish_Validation(t *testing.T) {
	client := newClient(testConfig())

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"invalid qos", "eufy/a/b", []byte("x"), 3, ErrInvalidQoS},
		{"oversized payload", "eufy/a/b", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"not connected", "eufy/a/b", []byte("x"), 1, ErrNotConnected},
		{"nil payload not connected", "eufy/a/b", nil, 0, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Publish(tt.topic, tt.payload, tt.qos, true)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubscribe_Validation(t *testing.T) {
	client := newClient(testConfig())
	noop := func(string, []byte) error { return nil }

	tests := []struct {
		name    string
		topic   string
		qos     byte
		handler MessageHandler
		wantErr error
	}{
		{"empty topic", "", 1, noop, ErrInvalidTopic},
		{"invalid qos", "eufy/#", 3, noop, ErrInvalidQoS},
		{"nil handler", "eufy/#", 1, nil, ErrSubscribeFailed},
		{"not connected", "eufy/#", 1, noop, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Subscribe(tt.topic, tt.qos, tt.handler)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Subscribe() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if n := len(client.subscriptions); n != 0 {
		t.Errorf("tracked subscriptions = %d, want 0 after failed subscribes", n)
	}
}

// =============================================================================
// Handler Wrapping Tests
// =============================================================================

func TestWrapHandler_DeliversMessage(t *testing.T) {
	client := newClient(testConfig())

	var gotTopic string
	var gotPayload []byte
	wrapped := client.wrapHandler(func(topic string, payload []byte) error {
		gotTopic = topic
		gotPayload = payload
		return nil
	})

	wrapped(nil, &fakeMessage{topic: "eufy/T1/guard_mode/set", payload: []byte("ARM_AWAY")})

	if gotTopic != "eufy/T1/guard_mode/set" || string(gotPayload) != "ARM_AWAY" {
		t.Errorf("handler got (%q, %q)", gotTopic, gotPayload)
	}
}

func TestWrapHandler_LogsErrors(t *testing.T) {
	client := newClient(testConfig())
	logger := &recordingLogger{}
	client.SetLogger(logger)

	wrapped := client.wrapHandler(func(string, []byte) error {
		return fmt.Errorf("boom")
	})
	wrapped(nil, &fakeMessage{topic: "eufy/x"})

	if len(logger.warns) != 1 {
		t.Errorf("warn count = %d, want 1", len(logger.warns))
	}
}

func TestWrapHandler_RecoversPanic(t *testing.T) {
	client := newClient(testConfig())
	logger := &recordingLogger{}
	client.SetLogger(logger)

	wrapped := client.wrapHandler(func(string, []byte) error {
		panic("handler exploded")
	})

	// Must not propagate.
	wrapped(nil, &fakeMessage{topic: "eufy/x"})

	if len(logger.errors) != 1 {
		t.Errorf("error count = %d, want 1", len(logger.errors))
	}
}

func TestWrapHandler_NoLogger(t *testing.T) {
	client := newClient(testConfig())
	wrapped := client.wrapHandler(func(string, []byte) error {
		panic("no logger")
	})
	wrapped(nil, &fakeMessage{topic: "eufy/x"})
}

func TestCallbacks(t *testing.T) {
	client := newClient(testConfig())

	var disconnectErr error
	client.SetOnDisconnect(func(err error) { disconnectErr = err })

	client.handleDisconnect(errors.New("link down"))

	if disconnectErr == nil || disconnectErr.Error() != "link down" {
		t.Errorf("onDisconnect got %v, want link down", disconnectErr)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after handleDisconnect")
	}
}
