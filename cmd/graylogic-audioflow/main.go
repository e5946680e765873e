// Gray Logic Audioflow Bridge
//
// This is the main entry point for the Audioflow multi-zone speaker switch
// bridge. It discovers switches on the local network, mirrors their zones by
// polling, publishes zone events and state on the Gray Logic MQTT bus and
// executes commands from the bus and the local REST API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/peterbourgon/ff/v3"

	"github.com/nerrad567/gray-logic-audioflow/internal/api"
	"github.com/nerrad567/gray-logic-audioflow/internal/bridges/audioflow"
	"github.com/nerrad567/gray-logic-audioflow/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-audioflow/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-audioflow/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-audioflow/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-audioflow/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-audioflow/internal/settings"
	"github.com/nerrad567/gray-logic-audioflow/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	appName           = "graylogic-audioflow"
	envPrefix         = "GRAYLOGIC_AUDIOFLOW"
	defaultConfigPath = "configs/audioflow.yaml"
)

// errVersionRequested ends run early after printing the version.
var errVersionRequested = errors.New("version requested")

// options are the command-line flags. Each can also be set through an
// environment variable: -config is GRAYLOGIC_AUDIOFLOW_CONFIG.
type options struct {
	configPath  string
	showVersion bool
}

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, errVersionRequested) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseOptions reads flags, falling back to GRAYLOGIC_AUDIOFLOW_* variables.
func parseOptions(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", defaultConfigPath, "path to the YAML configuration file")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")

	if err := ff.Parse(fs, args, ff.WithEnvVarPrefix(envPrefix)); err != nil {
		return options{}, fmt.Errorf("parsing flags: %w", err)
	}
	return opts, nil
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - args: Command-line arguments without the program name
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, args []string) error {
	opts, err := parseOptions(args)
	if err != nil {
		return err
	}
	if opts.showVersion {
		fmt.Printf("%s %s (commit %s, built %s)\n", appName, version, commit, date)
		return errVersionRequested
	}

	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic Audioflow bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", opts.configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"output", cfg.Logging.Output,
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

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	store := settings.NewSQLiteStore(db.DB)

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	var history audioflow.HistoryWriter
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
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
		history = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled, zone history not recorded")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	bridge, err := startBridge(ctx, cfg, mqttClient, store, history, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("stopping audioflow bridge")
		bridge.Stop()
	}()

	// Start REST API (optional)
	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:  cfg.API,
			Logger:  log,
			Bridge:  bridge,
			Version: version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if apiErr = server.Start(ctx); apiErr != nil {
			return fmt.Errorf("starting API server: %w", apiErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("REST API disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. API server
	// 2. Bridge (waits for in-flight passes)
	// 3. InfluxDB (if enabled)
	// 4. MQTT
	// 5. Database

	log.Info("Gray Logic Audioflow bridge stopped")
	return nil
}

// startBridge creates and starts the audioflow bridge.
//
// Parameters:
//   - ctx: Context for device initialisation
//   - cfg: Application configuration
//   - mqttClient: Connected MQTT client
//   - store: Settings store
//   - history: Zone history sink (nil when InfluxDB is disabled)
//   - log: Logger instance
//
// Returns:
//   - *audioflow.Bridge: Running bridge
//   - error: If the bridge fails to start
func startBridge(
	ctx context.Context,
	cfg *config.Config,
	mqttClient *mqtt.Client,
	store settings.Store,
	history audioflow.HistoryWriter,
	log *logging.Logger,
) (*audioflow.Bridge, error) {
	discoverer := audioflow.NewDiscoverer(audioflow.DiscovererConfig{
		Port:             cfg.Audioflow.Discovery.Port,
		BroadcastAddress: cfg.Audioflow.Discovery.BroadcastAddress,
		Logger:           log,
	})

	bridge, err := audioflow.NewBridge(audioflow.BridgeOptions{
		Config:     cfg.Audioflow,
		Version:    version,
		MQTTClient: mqttClient,
		QoS:        byte(cfg.MQTT.QoS),
		Settings:   store,
		History:    history,
		Discovery:  discoverer,
		Logger:     log,
	})
	if err != nil {
		return nil, fmt.Errorf("creating audioflow bridge: %w", err)
	}

	if err := bridge.Start(ctx); err != nil {
		bridge.Stop()
		return nil, fmt.Errorf("starting audioflow bridge: %w", err)
	}
	log.Info("audioflow bridge started",
		"bridge_id", cfg.Audioflow.BridgeID,
		"devices", len(bridge.Devices()),
		"poll_interval", cfg.Audioflow.PollInterval,
	)
	return bridge, nil
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
