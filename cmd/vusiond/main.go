package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/texttochange/vusion-backend-sub000/internal/lockfile"
	"github.com/texttochange/vusion-backend-sub000/internal/messaging"
	"github.com/texttochange/vusion-backend-sub000/internal/metrics"
	"github.com/texttochange/vusion-backend-sub000/internal/models"
	"github.com/texttochange/vusion-backend-sub000/internal/scheduler"
	"github.com/texttochange/vusion-backend-sub000/internal/store"
	"github.com/texttochange/vusion-backend-sub000/internal/templates"
	"github.com/texttochange/vusion-backend-sub000/internal/worker"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for daemon state data
	DefaultStateDir = "/var/lib/vusiond"
	// DefaultMasterDB is the master database holding worker configurations
	DefaultMasterDB = "vusion"
	// DefaultControlTopic is the supervisor control topic
	DefaultControlTopic = "vusion.control"
	// DefaultMetricsAddr is the Prometheus listener address
	DefaultMetricsAddr = ":9121"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Hold the state directory lock for the lifetime of the process
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("Bootstrapping vusiond with configured modules")
	if err := run(ctx, flags); err != nil && err != context.Canceled {
		slog.Error("vusiond failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("vusiond exited successfully")
}

func run(ctx context.Context, flags Flags) error {
	client, err := store.Connect(ctx, store.WithMongoURI(*flags.mongoURI))
	if err != nil {
		return err
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Disconnect(disconnectCtx); err != nil {
			slog.Error("Failed to disconnect from MongoDB", "error", err)
		}
	}()

	broker := messaging.NewInProcBroker()
	defer broker.Close()

	configs := store.NewMongoConfigCollection(client, *flags.masterDB)

	// The factory binds one worker to its tenant database and transport.
	factory := func(ctx context.Context, name string) (*worker.Worker, error) {
		cfg, err := loadWorkerConfig(ctx, configs, name)
		if err != nil {
			return nil, err
		}
		tenantStore := store.NewMongoTenantStore(client, cfg.DatabaseName)
		transport, err := messaging.NewTwilioTransport()
		if err != nil {
			return nil, err
		}
		return worker.New(worker.Opts{
			Name:           name,
			Store:          tenantStore,
			Transport:      transport,
			Broker:         broker,
			Templates:      &templates.StoreLookup{Store: tenantStore},
			DispatcherName: cfg.DispatcherName,
			TickSpec:       *flags.tickSpec,
		}), nil
	}

	sup := worker.NewSupervisor(factory, broker, *flags.controlTopic)
	defer sup.StopAll()

	bootstrapWorkers(ctx, configs, sup)
	startMetricsListener(*flags.metricsAddr)

	return sup.Run(ctx)
}

// loadWorkerConfig reads one worker configuration from the master database.
func loadWorkerConfig(ctx context.Context, configs store.Collection, name string) (*models.WorkerConfig, error) {
	raw, err := configs.FindOne(ctx, bson.M{"control-name": name})
	if err != nil {
		return nil, err
	}
	cfg := &models.WorkerConfig{}
	if err := models.Decode(raw, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bootstrapWorkers starts every worker configured in the master database;
// failures are logged per worker so one broken tenant never blocks the rest.
func bootstrapWorkers(ctx context.Context, configs store.Collection, sup *worker.Supervisor) {
	raws, err := configs.Find(ctx, bson.M{})
	if err != nil {
		slog.Error("Failed to read worker configurations", "error", err)
		return
	}
	for _, raw := range raws {
		cfg := &models.WorkerConfig{}
		if err := models.Decode(raw, cfg); err != nil {
			slog.Warn("Skipping malformed worker configuration", "error", err)
			continue
		}
		if err := sup.AddWorker(ctx, cfg.ControlName); err != nil {
			slog.Error("Failed to start worker", "error", err, "worker", cfg.ControlName)
		}
	}
	slog.Info("Worker bootstrap complete", "workers", len(sup.Names()))
}

// startMetricsListener exposes /metrics on its own goroutine.
func startMetricsListener(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	go func() {
		slog.Info("Metrics listener starting", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("Metrics listener failed", "error", err, "addr", addr)
		}
	}()
}

// Config holds environment configuration
type Config struct {
	MongoURI     string
	MasterDB     string
	StateDir     string
	MetricsAddr  string
	ControlTopic string
	TickSpec     string
}

// Flags holds command line flag values
type Flags struct {
	mongoURI     *string
	masterDB     *string
	stateDir     *string
	metricsAddr  *string
	controlTopic *string
	tickSpec     *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		MongoURI:     os.Getenv("VUSION_MONGO_URI"),
		MasterDB:     os.Getenv("VUSION_MASTER_DB"),
		StateDir:     os.Getenv("VUSION_STATE_DIR"),
		MetricsAddr:  os.Getenv("VUSION_METRICS_ADDR"),
		ControlTopic: os.Getenv("VUSION_CONTROL_TOPIC"),
		TickSpec:     os.Getenv("VUSION_TICK_SPEC"),
	}
	if config.MasterDB == "" {
		config.MasterDB = DefaultMasterDB
	}
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No VUSION_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.MetricsAddr == "" {
		config.MetricsAddr = DefaultMetricsAddr
	}
	if config.ControlTopic == "" {
		config.ControlTopic = DefaultControlTopic
	}
	if config.TickSpec == "" {
		config.TickSpec = scheduler.DefaultTickSpec
	}

	slog.Debug("environment variables loaded",
		"VUSION_MONGO_URI_SET", config.MongoURI != "",
		"VUSION_MASTER_DB", config.MasterDB,
		"VUSION_STATE_DIR", config.StateDir,
		"VUSION_METRICS_ADDR", config.MetricsAddr,
		"VUSION_CONTROL_TOPIC", config.ControlTopic,
		"VUSION_TICK_SPEC", config.TickSpec)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		mongoURI:     flag.String("mongo-uri", config.MongoURI, "MongoDB connection string (overrides $VUSION_MONGO_URI)"),
		masterDB:     flag.String("master-db", config.MasterDB, "master database holding worker configurations (overrides $VUSION_MASTER_DB)"),
		stateDir:     flag.String("state-dir", config.StateDir, "state directory for daemon data (overrides $VUSION_STATE_DIR)"),
		metricsAddr:  flag.String("metrics-addr", config.MetricsAddr, "Prometheus listener address (overrides $VUSION_METRICS_ADDR)"),
		controlTopic: flag.String("control-topic", config.ControlTopic, "supervisor control topic (overrides $VUSION_CONTROL_TOPIC)"),
		tickSpec:     flag.String("tick-spec", config.TickSpec, "cron expression of the worker tick (overrides $VUSION_TICK_SPEC)"),
	}
	flag.Parse()

	slog.Debug("flags parsed",
		"mongoURI_set", *flags.mongoURI != "",
		"masterDB", *flags.masterDB,
		"stateDir", *flags.stateDir,
		"metricsAddr", *flags.metricsAddr,
		"controlTopic", *flags.controlTopic,
		"tickSpec", *flags.tickSpec)

	return flags
}
