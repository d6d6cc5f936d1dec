package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/capsulehq/runtime/internal/infrastructure/config"
	"github.com/capsulehq/runtime/internal/server"
)

func main() {
	// Flags override environment variables.
	port := flag.String("port", "", "Server port")
	seeds := flag.String("seeds", "", "Artifact seeds directory")
	profile := flag.String("budgets", "", "Budget profile TOML file")
	dev := flag.Bool("dev", false, "Development mode (console logs, debug level)")
	demo := flag.Bool("demo", false, "Run seeded scripted bundles on the in-process sandbox")
	flag.Parse()

	cfg := config.LoadOrDefault()
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *seeds != "" {
		cfg.Artifacts.SeedsDir = *seeds
	}
	if *profile != "" {
		cfg.Budgets.ProfileFile = *profile
	}
	if *dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}
	if *demo {
		cfg.Sandbox.Demo = true
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Run(); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-sigChan:
		log.Println("Shutting down gracefully...")
		if err := srv.Close(); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	case err := <-errChan:
		log.Fatalf("Server error: %v", err)
	}
}
