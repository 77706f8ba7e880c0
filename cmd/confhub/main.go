package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/lei/config-hub/pkg/confhub"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	// Load .env file (ignore error if file doesn't exist - env vars might be set externally)
	_ = godotenv.Load()

	// Determine config file path from environment or use default
	configFile := os.Getenv("CONFHUB_CONFIG")
	if configFile == "" {
		configFile = "configs/confhub.yaml"
	}

	app, err := confhub.NewFromFile(configFile)
	if err != nil {
		return err
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Run background workers (blocks until shutdown)
	return app.Start(ctx)
}
