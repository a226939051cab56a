// Gray Logic LIFX Bridge
//
// This is the main entry point for the Gray Logic LIFX bridge. The bridge
// connects LIFX LAN protocol devices to the Gray Logic MQTT bus:
//   - Discovers devices by UDP broadcast and tracks their reachability
//   - Translates MQTT commands into LAN protocol datagrams with retries
//   - Publishes device state, availability and discovery as retained messages
//   - Persists device identity in SQLite so restarts keep the fleet
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/gray-logic-lifx/migrations"

	"github.com/nerrad567/gray-logic-lifx/internal/bridge"
	"github.com/nerrad567/gray-logic-lifx/internal/fleet"
	"github.com/nerrad567/gray-logic-lifx/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-lifx/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-lifx/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-lifx/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-lifx/internal/journal"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	// This is the Go pattern for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Run the application
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic LIFX bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
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

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Start the device fleet: sockets, discovery and retry machinery
	store := fleet.NewSQLiteStore(db.DB)
	manager := fleet.NewManager(fleet.Options{
		Config: fleetConfig(cfg),
		Store:  store,
		Logger: log.With("component", "fleet"),
	})
	if startErr := manager.Start(ctx); startErr != nil {
		return fmt.Errorf("starting fleet: %w", startErr)
	}
	defer func() {
		log.Info("closing fleet")
		if closeErr := manager.Close(); closeErr != nil {
			log.Error("error closing fleet", "error", closeErr)
		}
	}()
	log.Info("fleet started", "port", cfg.LIFX.Port)

	// Connect to MQTT broker. The Last Will lands on the health topic so
	// consumers see "offline" if the bridge dies without a clean stop.
	lwtPayload, err := json.Marshal(bridge.NewLWTMessage(cfg.Bridge.ID))
	if err != nil {
		return fmt.Errorf("building LWT payload: %w", err)
	}
	mqttClient, err := mqtt.Connect(cfg.MQTT, &mqtt.Will{
		Topic:   bridge.HealthTopic(),
		Payload: lwtPayload,
	})
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Set up MQTT logging callbacks
	mqttClient.SetLogger(log.With("component", "mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Start the bridge between the fleet and the bus
	recorder := journal.NewSQLiteRecorder(db.DB)
	b, err := startBridge(ctx, cfg, manager, mqttClient, recorder, log)
	if err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		b.Stop()
	}()

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. Bridge (publishes stopping status while MQTT is still up)
	// 2. MQTT
	// 3. Fleet
	// 4. Database

	log.Info("Gray Logic LIFX bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// fleetConfig maps the YAML configuration onto fleet tuning knobs.
func fleetConfig(cfg *config.Config) fleet.Config {
	return fleet.Config{
		Port:               cfg.LIFX.Port,
		Interfaces:         cfg.LIFX.Interfaces,
		DiscoveryInterval:  cfg.GetDiscoveryInterval(),
		ResponseTimeout:    cfg.GetResponseTimeout(),
		RetryCount:         cfg.LIFX.RetryCount,
		GracePeriod:        cfg.GetGracePeriod(),
		InflightCeiling:    cfg.LIFX.InflightCeiling,
		StatePollInterval:  cfg.GetStatePollInterval(),
		RefreshConcurrency: cfg.LIFX.RefreshConcurrency,
	}
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client) error {
	// Check database
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	// Check MQTT
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	// Bridge health is published continuously by its own reporter; a
	// failed fleet shows up there as a degraded status, not a startup
	// failure.

	return nil
}

// startBridge initialises and starts the MQTT-to-LIFX bridge.
//
// Parameters:
//   - ctx: Context for startup/cancellation
//   - cfg: Application configuration
//   - manager: Running fleet manager
//   - mqttClient: Connected MQTT client
//   - recorder: Command journal recorder
//   - log: Logger instance
//
// Returns:
//   - *bridge.Bridge: Running bridge
//   - error: If the bridge fails to start
func startBridge(ctx context.Context, cfg *config.Config, manager *fleet.Manager, mqttClient *mqtt.Client, recorder journal.Recorder, log *logging.Logger) (*bridge.Bridge, error) {
	// Create MQTT adapter to satisfy the bridge's client interface
	mqttAdapter := &mqttBridgeAdapter{client: mqttClient}

	b, err := bridge.New(bridge.Options{
		BridgeID:       cfg.Bridge.ID,
		Version:        version,
		HealthInterval: cfg.GetHealthInterval(),
		Fleet:          manager,
		MQTT:           mqttAdapter,
		Journal:        recorder,
		Logger:         log.With("component", "bridge"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating bridge: %w", err)
	}

	if err := b.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting bridge: %w", err)
	}
	log.Info("bridge started", "bridge_id", cfg.Bridge.ID)

	return b, nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The primary difference is the Subscribe handler
// signature:
// - Infrastructure mqtt: func(topic string, payload []byte) error
// - Bridge expects: func(topic string, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements bridge.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements bridge.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	// Wrap the void handler to return nil error (bridge handlers don't return errors)
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements bridge.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// Disconnect implements bridge.MQTTClient.
// Note: The MQTT client lifecycle is managed by run's defer chain, so
// this is a no-op.
func (a *mqttBridgeAdapter) Disconnect(_ uint) {
	// No-op: MQTT client lifecycle is managed by run's defer chain
}
