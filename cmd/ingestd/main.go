// File: cmd/ingestd/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/apipulse/ingest-service/internal/auth"
	"github.com/apipulse/ingest-service/internal/config"
	"github.com/apipulse/ingest-service/internal/ingest"
	"github.com/apipulse/ingest-service/internal/metrics"
	"github.com/apipulse/ingest-service/internal/server"
	"github.com/apipulse/ingest-service/internal/snapshot"
	"github.com/apipulse/ingest-service/internal/storage"
	"github.com/apipulse/ingest-service/pkg/utils"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// Application represents the main application
type Application struct {
	config         *config.Config
	logger         *logrus.Logger
	storage        storage.Storage
	authenticator  *auth.Authenticator
	scheduler      *ingest.Scheduler
	aggregator     *snapshot.Aggregator
	orchestrator   *ingest.Orchestrator
	metricsManager *metrics.Manager
	server         *server.HTTPServer
	ctx            context.Context
	cancel         context.CancelFunc
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &Application{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := app.initializeLogger(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := app.initializeComponents(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return app, nil
}

// initializeLogger initializes the application logger
func (app *Application) initializeLogger() error {
	logCfg := app.config.Logging

	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	app.logger = utils.GetLogger()
	app.logger.WithFields(logrus.Fields{
		"level":  logCfg.Level,
		"format": logCfg.Format,
		"output": logCfg.Output,
	}).Info("Logger initialized")

	return nil
}

// initializeComponents initializes all application components
func (app *Application) initializeComponents() error {
	app.logger.Info("Initializing application components")

	app.metricsManager = metrics.NewManager()

	if err := app.initializeStorage(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := app.initializeAuth(); err != nil {
		return fmt.Errorf("failed to initialize auth: %w", err)
	}

	app.initializePipeline()

	if err := app.initializeServer(); err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	app.logger.Info("All components initialized successfully")
	return nil
}

// initializeStorage initializes the log store
func (app *Application) initializeStorage() error {
	app.logger.Info("Initializing storage layer")

	store, err := storage.NewStorage(&app.config.Storage)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}

	if err := store.Connect(); err != nil {
		return fmt.Errorf("failed to connect to storage: %w", err)
	}

	if err := store.Migrate(); err != nil {
		return fmt.Errorf("failed to run storage migrations: %w", err)
	}

	if instrumented, ok := store.(storage.MetricsAware); ok {
		instrumented.SetMetricsManager(app.metricsManager)
	}

	app.storage = store
	app.logger.Info("Storage layer initialized successfully")
	return nil
}

// initializeAuth initializes API key verification
func (app *Application) initializeAuth() error {
	app.logger.WithField("key_service_url", app.config.Auth.KeyServiceURL).
		Info("Initializing API key authenticator")

	verifier := auth.NewHTTPKeyVerifier(&app.config.Auth)
	app.authenticator = auth.NewAuthenticator(verifier)
	return nil
}

// initializePipeline initializes the ingest pipeline: scheduler, aggregator
// and orchestrator
func (app *Application) initializePipeline() {
	app.logger.WithFields(logrus.Fields{
		"queue_size": app.config.Ingest.QueueSize,
		"workers":    app.config.Ingest.Workers,
	}).Info("Initializing ingest pipeline")

	app.scheduler = ingest.NewScheduler(app.config.Ingest.QueueSize, app.config.Ingest.Workers, app.metricsManager)
	app.aggregator = snapshot.NewAggregator(app.storage, app.metricsManager)
	app.orchestrator = ingest.NewOrchestrator(
		app.storage,
		app.aggregator,
		app.scheduler,
		ingest.NewNormalizer(),
		app.metricsManager,
	)
}

// initializeServer initializes the HTTP server
func (app *Application) initializeServer() error {
	app.logger.Info("Initializing HTTP server")

	serverCfg := &server.ServerConfig{
		Port:          app.config.Server.Port,
		Host:          app.config.Server.Host,
		ReadTimeout:   app.config.Server.ReadTimeout,
		WriteTimeout:  app.config.Server.WriteTimeout,
		MaxBatchSize:  app.config.Ingest.MaxBatchSize,
		EnableMetrics: app.config.Server.EnableMetrics,
		EnableHealth:  app.config.Server.EnableHealth,
	}

	srv, err := server.NewHTTPServer(
		serverCfg,
		app.storage,
		app.authenticator,
		app.orchestrator,
		app.aggregator,
		app.scheduler,
		app.metricsManager,
	)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	app.server = srv
	app.logger.Info("HTTP server initialized successfully")
	return nil
}

// Start starts the application
func (app *Application) Start() error {
	app.logger.WithFields(logrus.Fields{
		"version":     AppVersion,
		"environment": app.config.App.Environment,
	}).Info("Starting ingest service")

	if err := app.scheduler.Start(app.ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	if err := app.server.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	app.logger.WithFields(logrus.Fields{
		"server_address": fmt.Sprintf("%s:%d", app.config.Server.Host, app.config.Server.Port),
		"storage_type":   app.config.Storage.Type,
	}).Info("Ingest service started successfully")

	return nil
}

// Stop stops the application gracefully. The server stops first so no new
// batches arrive, then the scheduler drains deferred aggregation tasks.
func (app *Application) Stop() error {
	app.logger.Info("Stopping ingest service")

	if app.server != nil {
		if err := app.server.Stop(); err != nil {
			app.logger.WithField("error", err.Error()).Error("Failed to stop HTTP server")
		}
	}

	if app.scheduler != nil {
		if err := app.scheduler.Stop(); err != nil {
			app.logger.WithField("error", err.Error()).Error("Failed to stop scheduler")
		}
	}

	app.cancel()

	if app.storage != nil {
		if err := app.storage.Close(); err != nil {
			app.logger.WithField("error", err.Error()).Error("Failed to close storage")
		}
	}

	app.logger.Info("Ingest service stopped successfully")
	return nil
}

// CLI Commands

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "ingestd",
	Short:   "Multi-tenant log ingestion and aggregation service",
	Long:    `A log ingestion service that accepts batched HTTP and application log entries from SDKs, normalizes them into per-request rows, and maintains per-tenant dashboard snapshots.`,
	Version: AppVersion,
	RunE:    runIngestService,
}

// runIngestService is the main command to run the ingest service
func runIngestService(cmd *cobra.Command, args []string) error {
	configPath := viper.GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	if err := app.Start(); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}

	<-signalChan
	fmt.Println("\nReceived shutdown signal, stopping application...")

	if err := app.Stop(); err != nil {
		return fmt.Errorf("failed to stop application: %w", err)
	}

	return nil
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ingestd %s\n", AppVersion)
	},
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

// validateConfigCmd validates the configuration
var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := viper.GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		fmt.Printf("Configuration is valid!\n")
		fmt.Printf("Environment: %s\n", cfg.App.Environment)
		fmt.Printf("Database: %s\n", cfg.Storage.Type)
		fmt.Printf("Key service: %s\n", cfg.Auth.KeyServiceURL)
		fmt.Printf("Ingest workers: %d\n", cfg.Ingest.Workers)

		return nil
	},
}

// testCmd represents the test command
var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Test connectivity and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := viper.GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		fmt.Println("Testing ingest service connectivity...")

		fmt.Printf("Testing storage connection (%s)...\n", cfg.Storage.Type)
		store, err := storage.NewStorage(&cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to create storage: %w", err)
		}
		if err := store.Connect(); err != nil {
			return fmt.Errorf("failed to connect to storage: %w", err)
		}
		defer store.Close()
		if err := store.Ping(); err != nil {
			return fmt.Errorf("failed to ping storage: %w", err)
		}
		fmt.Println("✓ Storage connection successful")

		fmt.Printf("Testing key service at %s...\n", cfg.Auth.KeyServiceURL)
		verifier := auth.NewHTTPKeyVerifier(&cfg.Auth)
		if _, err := verifier.Verify(context.Background(), "connectivity-check"); err != nil {
			return fmt.Errorf("key service unreachable: %w", err)
		}
		fmt.Println("✓ Key service reachable")

		fmt.Println("\nAll connectivity tests passed! ✓")
		return nil
	},
}

// init initializes the CLI commands
func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug mode")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(testCmd)
	configCmd.AddCommand(validateConfigCmd)
}

// main is the entry point
func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
