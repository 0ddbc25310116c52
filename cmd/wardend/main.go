package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/viable-systems/warden/internal/infrastructure/config"
	"github.com/viable-systems/warden/internal/server"
)

func main() {
	cfg := config.LoadOrDefault()

	// Flags override environment
	port := flag.String("port", cfg.Server.Port, "Server port")
	engine := flag.String("engine", cfg.Sandbox.Engine, "Execution engine: wasm or none")
	profilesPath := flag.String("profiles", cfg.Sandbox.ProfilesPath, "Capability profiles YAML file")
	dev := flag.Bool("dev", cfg.Logging.Development, "Development mode (colored debug logs)")
	flag.Parse()

	cfg.Server.Port = *port
	cfg.Sandbox.Engine = *engine
	cfg.Sandbox.ProfilesPath = *profilesPath
	cfg.Logging.Development = *dev
	if *dev {
		cfg.Logging.Level = "debug"
	}

	srv, err := server.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := srv.Run(); err != nil {
			errChan <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case <-sigChan:
		if err := srv.Close(); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	case err := <-errChan:
		log.Fatalf("Server error: %v", err)
	}
}
