package bridge

import (
	"context"
	"time"

	"github.com/nerrad567/eufy-bridge/internal/cloud"
	"github.com/nerrad567/eufy-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/eufy-bridge/internal/push"
	"github.com/nerrad567/eufy-bridge/internal/transport"
)

// Logger defines the logging interface used by the Bridge.
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

// CloudClient is the cloud API used by the Bridge. *cloud.Client implements it.
type CloudClient interface {
	Authenticate(ctx context.Context) (cloud.Session, error)
	Session() cloud.Session
	ListDevices(ctx context.Context) (cloud.Inventory, error)
	RegisterPushToken(ctx context.Context, token string) error
	CheckPushToken(ctx context.Context) error
}

// Bus is the message bus. *mqtt.Client implements it.
type Bus interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	PublishRetained(topic string, payload []byte) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
	SetOnConnect(callback func())
	Close() error
}

// PushProvider opens push channels and issues their credentials.
// *push.RelayTransport implements it.
type PushProvider interface {
	push.Transport
	RetrieveCredentials(ctx context.Context, authToken string) (push.Credential, error)
}

// Telemetry records property history. *influxdb.Client implements it.
type Telemetry interface {
	WriteProperty(serial, model, property string, value any, ts time.Time) bool
	WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time)
	Flush()
}

// HealthChecker actively probes a dependency. The device stores and
// *influxdb.Client implement it.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps are the external systems the Bridge drives.
type Deps struct {
	Cloud CloudClient

	// ConnectBus connects to the message bus. It is retried with backoff.
	ConnectBus func(ctx context.Context) (Bus, error)

	// Push is nil when push is disabled.
	Push PushProvider

	// Commands is the local device transport.
	Commands transport.Transport

	// Telemetry is optional.
	Telemetry Telemetry

	// Checks are probed for every health report, keyed by name.
	Checks map[string]HealthChecker
}
