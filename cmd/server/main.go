/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the invoice reconciliation server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load configuration
  2. Initialize the store (SQLite or PostgreSQL)
  3. Connect the Kafka publisher when brokers are configured
  4. Create the reconciliation engine and API handler
  5. Start the HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to the YAML configuration file (default: invoice-engine.yaml)
  -port    HTTP server port; overrides the config file
  -db      Store DSN; overrides the config file
           Use ":memory:" for an in-memory SQLite database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close the event publisher and database connection
  4. Exit

EXAMPLES:
  # Run with the default SQLite file
  ./server

  # Run against PostgreSQL
  STORE_DRIVER=postgres STORE_DSN="postgres://localhost/invoices?sslmode=disable" ./server

  # Run on a different port with an in-memory database
  ./server -port=3000 -db=":memory:"

ENVIRONMENT:
  PORT, STORE_DRIVER, STORE_DSN, KAFKA_BROKER, KAFKA_TOPIC override the
  config file. A .env file in the working directory is honored.

SEE ALSO:
  - config/config.go: Configuration loading
  - api/server.go: Router configuration
  - store/sqlite, store/postgres: Database implementations
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/finvue/invoice-engine/api"
	"github.com/finvue/invoice-engine/config"
	"github.com/finvue/invoice-engine/events"
	"github.com/finvue/invoice-engine/events/kafka"
	"github.com/finvue/invoice-engine/invoice"
	"github.com/finvue/invoice-engine/store/postgres"
	"github.com/finvue/invoice-engine/store/sqlite"
)

func main() {
	configPath := flag.String("config", "invoice-engine.yaml", "Path to YAML configuration")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dsn := flag.String("db", "", "Store DSN (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dsn != "" {
		cfg.Store.DSN = *dsn
	}

	// Initialize store
	store, closeStore, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer closeStore()

	// Event publisher: Kafka when brokers are configured, no-op otherwise
	var publisher events.Publisher = events.Noop{}
	if len(cfg.Events.Brokers) > 0 {
		kp := kafka.NewPublisher(cfg.Events.Brokers, cfg.Events.Topic)
		defer kp.Close()
		publisher = kp
		log.Printf("Publishing events to %v topic %q", cfg.Events.Brokers, cfg.Events.Topic)
	}

	engine := invoice.NewEngine(store, publisher)
	handler := api.NewHandler(store, engine)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("🚀 Server starting on http://localhost:%d", cfg.Server.Port)
		log.Printf("📊 API available at http://localhost:%d/api", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

func openStore(cfg *config.Config) (invoice.Store, func(), error) {
	switch cfg.Store.Driver {
	case "postgres":
		s, err := postgres.New(cfg.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, closeQuietly(s), nil
	default:
		s, err := sqlite.New(cfg.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, closeQuietly(s), nil
	}
}

func closeQuietly(c io.Closer) func() {
	return func() {
		if err := c.Close(); err != nil {
			log.Printf("Failed to close store: %v", err)
		}
	}
}
