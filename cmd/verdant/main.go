// Verdant Core - Indoor Garden Automation
//
// This is the main entry point for the Verdant Core application.
// Verdant Core is a home-automation controller designed for:
//   - Unattended long-running operation
//   - Offline-first behaviour (the garden keeps running without internet)
//   - Open transport (MQTT) between controller and field hardware
//   - Append-only resource accounting for energy and water
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/verdanthq/verdant-core/migrations"

	"github.com/verdanthq/verdant-core/internal/audit"
	"github.com/verdanthq/verdant-core/internal/automation"
	"github.com/verdanthq/verdant-core/internal/device"
	"github.com/verdanthq/verdant-core/internal/infrastructure/config"
	"github.com/verdanthq/verdant-core/internal/infrastructure/database"
	"github.com/verdanthq/verdant-core/internal/infrastructure/influxdb"
	"github.com/verdanthq/verdant-core/internal/infrastructure/logging"
	"github.com/verdanthq/verdant-core/internal/infrastructure/mqtt"
	"github.com/verdanthq/verdant-core/internal/resource"
	"github.com/verdanthq/verdant-core/internal/sensor"
	"github.com/verdanthq/verdant-core/internal/settings"
	"github.com/verdanthq/verdant-core/internal/ws"
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

// shutdownTimeout bounds how long the HTTP server may take to drain
// connections once the shutdown signal arrives.
const shutdownTimeout = 5 * time.Second

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Verdant Core",
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
	db, err := database.Open(ctx, database.Config{
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

	// Audit trail. Persistence failures are reported through the callback
	// rather than failing the operation that logged them.
	auditRepo := audit.NewSQLiteRepository(db.DB)
	auditRepo.SetOnError(func(err error) {
		log.Error("audit write failed", "error", err)
	})

	// Device registry
	deviceRepo := device.NewSQLiteRepository(db.DB)
	registry := device.NewRegistry(deviceRepo)
	registry.SetLogger(log.With("component", "device"))
	registry.SetAuditLogger(auditRepo)

	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", len(registry.List()))

	// Resource accounting
	usageRepo := resource.NewSQLiteRepository(db.DB)
	accountant := resource.NewAccountant(usageRepo)
	registry.SetUsageRecorder(accountant)

	// Grower preferences
	prefsStore := settings.NewSQLiteStore(db.DB)

	// Latest-value sensor cache
	sensors := sensor.NewStore()

	// Connect to InfluxDB (optional time-series mirror)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})

		sensors.SetRecorder(influxClient)
		accountant.SetMirror(influxClient)
		registry.SetStateMirror(influxClient)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT, log.With("component", "mqtt"))
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

	// Device commands flow out through the MQTT client
	registry.SetPublisher(&devicePublisher{client: mqttClient})

	// WebSocket hub for UI clients
	hub := ws.NewHub(cfg.WebSocket)
	hub.SetLogger(log.With("component", "ws"))
	go hub.Run(ctx)

	registry.SetBroadcaster(hub)
	sensors.SetBroadcaster(hub)

	// Automation controller
	controller := automation.NewController(registry, prefsStore, sensors, cfg.Automation.CycleDelayDuration())
	controller.SetTransportHealth(mqttClient)
	controller.SetAuditLogger(auditRepo)
	controller.SetLogger(log.With("component", "automation"))

	// UI clients may push telemetry through the hub (e.g. handheld probes)
	hub.SetTelemetryRelay(controller)

	// Inbound MQTT traffic feeds the controller and the registry
	mqttClient.SetSensorHandler(func(msg mqtt.SensorMessage) {
		reading := sensor.Reading{
			Type:      sensor.Type(msg.Type),
			Value:     msg.Value,
			Unit:      msg.Unit,
			Timestamp: msg.Timestamp,
		}
		if ingestErr := controller.IngestTelemetry(ctx, reading); ingestErr != nil {
			log.Warn("dropping sensor reading", "type", msg.Type, "error", ingestErr)
		}
	})
	mqttClient.SetDeviceHandler(func(msg mqtt.DeviceMessage) {
		_, reportErr := registry.ApplyFieldReport(ctx, device.Name(msg.Name), msg.Status, msg.Timestamp)
		switch {
		case reportErr == nil:
		case errors.Is(reportErr, device.ErrNotInAutoMode):
			log.Warn("field report rejected, device in manual mode", "device", msg.Name)
		default:
			log.Warn("field report failed", "device", msg.Name, "error", reportErr)
		}
	})

	if startErr := controller.Start(ctx); startErr != nil {
		return fmt.Errorf("starting automation controller: %w", startErr)
	}
	defer func() {
		log.Info("stopping automation controller")
		controller.Stop()
	}()
	log.Info("automation controller started", "cycle_delay", cfg.Automation.CycleDelayDuration())

	// Serve the WebSocket endpoint
	mux := http.NewServeMux()
	mux.Handle(cfg.WebSocket.Path, hub)
	server := &http.Server{
		Addr:              cfg.WebSocket.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		log.Info("WebSocket server listening", "addr", cfg.WebSocket.Listen, "path", cfg.WebSocket.Path)
		if listenErr := server.ListenAndServe(); listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			serverErr <- listenErr
		}
	}()

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal or a fatal server error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
	case err := <-serverErr:
		log.Error("WebSocket server failed", "error", err)
		return fmt.Errorf("websocket server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Error("error shutting down WebSocket server", "error", shutdownErr)
	}

	// Deferred Close() calls will run in reverse order:
	// 1. Automation controller (finishes any in-flight cycle)
	// 2. MQTT (publishes retained offline status)
	// 3. InfluxDB (if enabled, flushes pending points)
	// 4. Database

	log.Info("Verdant Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses VERDANT_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("VERDANT_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// influxClient may be nil when the mirror is disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if !mqttClient.IsConnected() {
		return fmt.Errorf("mqtt: %w", mqtt.ErrNotConnected)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// devicePublisher adapts the infrastructure MQTT client to the registry's
// Publisher interface. The registry works in domain types; the transport
// works in wire frames.
type devicePublisher struct {
	client *mqtt.Client
}

// PublishState implements device.Publisher.
func (p *devicePublisher) PublishState(name device.Name, status, autoMode bool) error {
	return p.client.PublishDeviceState(mqtt.DeviceMessage{
		Name:      string(name),
		Status:    status,
		AutoMode:  autoMode,
		Timestamp: time.Now().UTC(),
	})
}
