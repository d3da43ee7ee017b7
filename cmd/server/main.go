/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the workshop engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Load and validate the YAML configuration
  3. Initialize the logger
  4. Open the record store (SQLite or PostgreSQL)
  5. Optionally seed demo inventory and employees
  6. Connect the domain event publisher when events are enabled
  7. Configure HTTP router and start the server

COMMAND-LINE FLAGS:
  -config  Configuration file (default: $WORKSHOP_CONFIG_PATH or configs/config.yaml)
  -seed    YAML file with inventory and employees to load at startup

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (server.shutdown_timeout)
  3. Close event publisher and database connection
  4. Exit

EXAMPLES:
  # Run with the default configuration
  ./server

  # Run with demo data
  ./server -config=configs/config.yaml -seed=configs/seed.yaml

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration file format
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/warp/workshop-engine/api"
	"github.com/warp/workshop-engine/config"
	"github.com/warp/workshop-engine/events"
	"github.com/warp/workshop-engine/logger"
	"github.com/warp/workshop-engine/seed"
	"github.com/warp/workshop-engine/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Flags
	defaultConfigPath := os.Getenv("WORKSHOP_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	seedPath := flag.String("seed", "", "YAML file with demo inventory and employees")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	settings, err := cfg.Engine.Settings()
	if err != nil {
		return fmt.Errorf("invalid engine settings: %w", err)
	}

	// Initialize logger
	appLogger, err := logger.New(&logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		EnableSource: cfg.Logging.EnableSource,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting workshop engine",
		slog.String("config", *configPath),
		slog.String("database_driver", cfg.Database.Driver),
		slog.String("catalyst_item", string(settings.CatalystItemID())),
		slog.Int("catalyst_bands", len(settings.CatalystRules())),
	)

	// Initialize store
	store, err := openStore(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	appLogger.Info("Database connection established")

	if *seedPath != "" {
		data, err := seed.Load(*seedPath)
		if err != nil {
			return err
		}
		sum, err := data.Apply(context.Background(), store)
		if err != nil {
			return fmt.Errorf("failed to seed database: %w", err)
		}
		appLogger.Info("Seed data applied",
			slog.String("file", *seedPath),
			slog.Int("employees", sum.Employees),
			slog.Int("items_created", sum.ItemsCreated),
			slog.Int("items_updated", sum.ItemsUpdated),
		)
	}

	// Initialize handler
	handler := api.NewHandler(store, settings, appLogger.Logger)

	if cfg.Events.Enabled {
		publisher, err := events.NewAMQPPublisher(eventsConfig(cfg.Events), appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize event publisher: %w", err)
		}
		defer publisher.Close()

		queue := events.NewQueue(publisher, events.QueueConfig{
			Size:        cfg.Events.Publish.QueueSize,
			SendTimeout: cfg.Server.ShutdownTimeout,
		}, appLogger.Logger)
		defer queue.Close()
		handler.SetPublisher(queue)
	}

	// Create server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.NewRouter(handler, cfg.Server.AllowedOrigins),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		appLogger.Info("Starting HTTP server", slog.String("address", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	appLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", slog.Any("error", err))
		return err
	}

	appLogger.Info("Server stopped")
	return nil
}

// openStore opens SQLite files with the store's pragmas, creating the parent
// directory, and passes PostgreSQL DSNs through unchanged.
func openStore(cfg config.DatabaseConfig) (*sqlite.Store, error) {
	if cfg.Driver == sqlite.DriverPostgres {
		return sqlite.Open(sqlite.DriverPostgres, cfg.DSN)
	}
	if cfg.DSN != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	return sqlite.New(cfg.DSN)
}

func eventsConfig(c config.EventsConfig) events.Config {
	return events.Config{
		Host:              c.Host,
		Port:              c.Port,
		User:              c.User,
		Password:          c.Password,
		VHost:             c.VHost,
		ExchangeName:      c.Exchange.Name,
		ExchangeType:      c.Exchange.Type,
		ExchangeDurable:   c.Exchange.Durable,
		RetryAttempts:     c.Connection.RetryAttempts,
		RetryInterval:     c.Connection.RetryInterval,
		Heartbeat:         c.Connection.Heartbeat,
		PublishRetries:    c.Publish.RetryAttempts,
		PublishRetryDelay: c.Publish.RetryInterval,
	}
}
