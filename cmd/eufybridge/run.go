package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerrad567/eufy-bridge/internal/api"
	"github.com/nerrad567/eufy-bridge/internal/bridge"
	"github.com/nerrad567/eufy-bridge/internal/cloud"
	"github.com/nerrad567/eufy-bridge/internal/device"
	"github.com/nerrad567/eufy-bridge/internal/infrastructure/config"
	"github.com/nerrad567/eufy-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/eufy-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/eufy-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/eufy-bridge/internal/push"
	"github.com/nerrad567/eufy-bridge/internal/relay"
	"github.com/nerrad567/eufy-bridge/internal/transport"
)

func newRunCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bridge until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath())
		},
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: Path of the YAML configuration file
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting eufy bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	store, closeStore, err := openStore(ctx, cfg.Database, true)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing device store")
		if closeErr := closeStore(); closeErr != nil {
			log.Error("error closing device store", "error", closeErr)
		}
	}()
	log.Info("device store opened", "backend", cfg.Database.Backend, "path", cfg.Database.Path)

	dir := device.NewDirectory(store)
	dir.SetLogger(log)

	cloudClient := cloud.NewClient(cfg.Eufy)
	cloudClient.SetLogger(log)

	deps := bridge.Deps{
		Cloud:      cloudClient,
		ConnectBus: busConnector(cfg.MQTT, log),
		Commands: transport.NewRelayTransport(cfg.Commands.Port, cfg.Commands.TLS, relay.Options{
			MinServerVersion: cfg.Commands.MinServerVersion,
			HandshakeTimeout: cfg.Commands.Timeout,
		}),
		Checks: make(map[string]bridge.HealthChecker),
	}
	if checker, ok := store.(bridge.HealthChecker); ok {
		deps.Checks["store"] = checker
	}

	if cfg.Push.Enabled {
		deps.Push = push.NewRelayTransport(cfg.Push.URL, relay.Options{
			MinServerVersion: cfg.Push.MinServerVersion,
			PongTimeout:      cfg.Push.HeartbeatTimeout,
		})
		log.Info("push enabled", "url", cfg.Push.URL)
	} else {
		log.Info("push disabled, relying on polling")
	}

	// Connect to InfluxDB (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		deps.Telemetry = influxClient
		deps.Checks["influxdb"] = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	b := bridge.New(cfg, version, dir, deps)
	b.SetLogger(log)

	if cfg.API.Enabled {
		srv, apiErr := api.New(api.Deps{
			Config:    cfg.API,
			WS:        cfg.WebSocket,
			Security:  cfg.Security,
			Logger:    log,
			Bridge:    b,
			Directory: dir,
			Version:   version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if apiErr = srv.Start(ctx); apiErr != nil {
			return fmt.Errorf("starting API server: %w", apiErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("HTTP API disabled")
	}

	// Blocks until ctx is cancelled; the bridge persists state and closes
	// the bus itself before returning.
	if err := b.Run(ctx); err != nil {
		return err
	}

	log.Info("eufy bridge stopped")
	return nil
}

// busConnector returns the bridge's bus factory. Each call dials a fresh
// client; the bridge retries failures with backoff.
func busConnector(cfg config.MQTTConfig, log *logging.Logger) func(context.Context) (bridge.Bus, error) {
	return func(context.Context) (bridge.Bus, error) {
		client, err := mqtt.Connect(cfg)
		if err != nil {
			return nil, err
		}
		client.SetLogger(log)
		client.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
			"client_id", cfg.Broker.ClientID,
		)
		return client, nil
	}
}
