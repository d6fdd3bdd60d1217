package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge    BridgeConfig    `yaml:"bridge"`
	Eufy      EufyConfig      `yaml:"eufy"`
	Poller    PollerConfig    `yaml:"poller"`
	Push      PushConfig      `yaml:"push"`
	Commands  CommandsConfig  `yaml:"commands"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// BridgeConfig contains orchestrator settings.
type BridgeConfig struct {
	// ID identifies this bridge instance in health messages and discovery node IDs.
	ID string `yaml:"id"`

	// RefreshInterval is the cadence of the scheduled full inventory refresh.
	// Decoupled from the poller's cache TTL. Default: 1h.
	RefreshInterval time.Duration `yaml:"refresh_interval"`

	// StartupRetryMaxElapsed bounds the backoff retries of startup steps
	// after the first two. Default: 5m.
	StartupRetryMaxElapsed time.Duration `yaml:"startup_retry_max_elapsed"`

	// HealthInterval is how often the health message is republished. Default: 30s.
	HealthInterval time.Duration `yaml:"health_interval"`

	// PersistInterval is how often dirty directory records are flushed to
	// the durable store. Default: 1m.
	PersistInterval time.Duration `yaml:"persist_interval"`
}

// EufyConfig contains vendor cloud account settings.
type EufyConfig struct {
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	BaseURL  string        `yaml:"base_url"`
	Timeout  time.Duration `yaml:"timeout"`
}

// PollerConfig contains cloud inventory polling settings.
type PollerConfig struct {
	// CacheTTL is the staleness window of the cached inventory. Default: 15m.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// FailureThreshold is the number of consecutive failed fetches that
	// flips the poller into the degraded state. Default: 3.
	FailureThreshold int `yaml:"failure_threshold"`
}

// PushConfig contains push channel settings.
type PushConfig struct {
	Enabled bool `yaml:"enabled"`

	// URL is the websocket endpoint of the push relay.
	URL string `yaml:"url"`

	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffMax  time.Duration `yaml:"backoff_max"`

	// DisconnectedAfter is the number of consecutive failed connection
	// attempts before the "push disconnected" health signal is raised.
	DisconnectedAfter int `yaml:"disconnected_after"`

	// HeartbeatTimeout closes the channel when no frame or pong arrives in time.
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`

	// MinServerVersion is the minimum push relay version accepted. Default: 1.0.0.
	MinServerVersion string `yaml:"min_server_version"`
}

// CommandsConfig contains local device command settings.
type CommandsConfig struct {
	// Timeout bounds the wait for a device acknowledgement. Default: 10s.
	Timeout time.Duration `yaml:"timeout"`

	// OptimisticTTL is how long an optimistic state survives without
	// confirmation. Default: 30s.
	OptimisticTTL time.Duration `yaml:"optimistic_ttl"`

	// Port is the relay port on the station's LAN address. Default: 3000.
	Port int `yaml:"port"`

	// TLS selects wss:// for local sessions.
	TLS bool `yaml:"tls"`

	// DefaultAddress is used when the directory has no LAN address for a device.
	DefaultAddress string `yaml:"default_address"`

	// MinServerVersion is the minimum relay server version accepted. Default: 1.0.0.
	MinServerVersion string `yaml:"min_server_version"`
}

// DatabaseConfig contains durable store settings.
type DatabaseConfig struct {
	// Backend selects the store implementation: "sqlite" or "bolt".
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
	Topics    MQTTTopicsConfig    `yaml:"topics"`

	// PublishTimeout bounds each publish before it counts as failed. Default: 2s.
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// MQTTTopicsConfig contains the topic roots used by the bridge.
type MQTTTopicsConfig struct {
	// Prefix is the root of state, command and bridge topics. Default: "eufy".
	Prefix string `yaml:"prefix"`

	// DiscoveryPrefix is the Home Assistant discovery root. Default: "homeassistant".
	DiscoveryPrefix string `yaml:"discovery_prefix"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains API security settings.
type SecurityConfig struct {
	JWT               JWTConfig       `yaml:"jwt"`
	AdminPasswordHash string          `yaml:"admin_password_hash"`
	RateLimit         RateLimitConfig `yaml:"rate_limit"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// RateLimitConfig contains rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: EUFYBRIDGE_SECTION_KEY
// For example: EUFYBRIDGE_EUFY_PASSWORD, EUFYBRIDGE_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:                     "eufy-bridge",
			RefreshInterval:        time.Hour,
			StartupRetryMaxElapsed: 5 * time.Minute,
			HealthInterval:         30 * time.Second,
			PersistInterval:        time.Minute,
		},
		Eufy: EufyConfig{
			BaseURL: "https://mysecurity.eufylife.com/api/v1",
			Timeout: 30 * time.Second,
		},
		Poller: PollerConfig{
			CacheTTL:         15 * time.Minute,
			FailureThreshold: 3,
		},
		Push: PushConfig{
			Enabled:           true,
			URL:               "ws://localhost:3000",
			BackoffBase:       time.Second,
			BackoffMax:        time.Minute,
			DisconnectedAfter: 3,
			HeartbeatTimeout:  90 * time.Second,
			MinServerVersion:  "1.0.0",
		},
		Commands: CommandsConfig{
			Timeout:          10 * time.Second,
			OptimisticTTL:    30 * time.Second,
			Port:             3000,
			MinServerVersion: "1.0.0",
		},
		Database: DatabaseConfig{
			Backend:     "sqlite",
			Path:        "./data/eufybridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "eufy-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			Topics: MQTTTopicsConfig{
				Prefix:          "eufy",
				DiscoveryPrefix: "homeassistant",
			},
			PublishTimeout: 2 * time.Second,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60,
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 120,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: EUFYBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Cloud account
	if v := os.Getenv("EUFYBRIDGE_EUFY_USERNAME"); v != "" {
		cfg.Eufy.Username = v
	}
	if v := os.Getenv("EUFYBRIDGE_EUFY_PASSWORD"); v != "" {
		cfg.Eufy.Password = v
	}

	// Database
	if v := os.Getenv("EUFYBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("EUFYBRIDGE_DATABASE_BACKEND"); v != "" {
		cfg.Database.Backend = v
	}

	// MQTT
	if v := os.Getenv("EUFYBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("EUFYBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("EUFYBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Push relay
	if v := os.Getenv("EUFYBRIDGE_PUSH_URL"); v != "" {
		cfg.Push.URL = v
	}

	// API
	if v := os.Getenv("EUFYBRIDGE_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("EUFYBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security
	if v := os.Getenv("EUFYBRIDGE_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	if v := os.Getenv("EUFYBRIDGE_ADMIN_PASSWORD_HASH"); v != "" {
		cfg.Security.AdminPasswordHash = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}
	if c.Bridge.RefreshInterval <= 0 {
		errs = append(errs, "bridge.refresh_interval must be positive")
	}

	// Cloud account
	if c.Eufy.Username == "" {
		errs = append(errs, "eufy.username is required (set EUFYBRIDGE_EUFY_USERNAME)")
	}
	if c.Eufy.Password == "" {
		errs = append(errs, "eufy.password is required (set EUFYBRIDGE_EUFY_PASSWORD)")
	}
	if c.Eufy.BaseURL == "" {
		errs = append(errs, "eufy.base_url is required")
	}

	if c.Poller.CacheTTL <= 0 {
		errs = append(errs, "poller.cache_ttl must be positive")
	}
	if c.Poller.FailureThreshold < 1 {
		errs = append(errs, "poller.failure_threshold must be at least 1")
	}

	if c.Push.Enabled && c.Push.URL == "" {
		errs = append(errs, "push.url is required when push is enabled")
	}
	if c.Push.BackoffBase <= 0 || c.Push.BackoffMax < c.Push.BackoffBase {
		errs = append(errs, "push.backoff_base must be positive and not exceed push.backoff_max")
	}

	if c.Commands.Timeout <= 0 {
		errs = append(errs, "commands.timeout must be positive")
	}
	if c.Commands.Port < 1 || c.Commands.Port > 65535 {
		errs = append(errs, "commands.port must be between 1 and 65535")
	}

	// Database
	switch c.Database.Backend {
	case "sqlite", "bolt":
	default:
		errs = append(errs, "database.backend must be \"sqlite\" or \"bolt\"")
	}
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Topics.Prefix == "" {
		errs = append(errs, "mqtt.topics.prefix is required")
	}
	if c.MQTT.Topics.DiscoveryPrefix == "" {
		errs = append(errs, "mqtt.topics.discovery_prefix is required")
	}

	// API and its security settings only matter when the API is served.
	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}

		// Commands reach physical security devices; forged tokens must not be possible.
		const minJWTSecretLength = 32
		if c.Security.JWT.Secret == "" {
			errs = append(errs, "security.jwt.secret is required (set EUFYBRIDGE_JWT_SECRET environment variable)")
		} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
