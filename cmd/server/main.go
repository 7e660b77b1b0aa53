package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pwa-marketplace/backend/internal/infrastructure/config"
	"github.com/pwa-marketplace/backend/internal/server"
)

func main() {
	port := flag.String("port", "", "HTTP server port (overrides PORT)")
	bridgeAddr := flag.String("bridge", "", "MCP bridge listen address (overrides BRIDGE_ADDR)")
	policyFile := flag.String("policies", "", "YAML policy bundle (overrides POLICY_FILE)")
	dev := flag.Bool("dev", false, "Development mode (debug logging)")
	flag.Parse()

	cfg := config.LoadOrDefault()
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *bridgeAddr != "" {
		cfg.Bridge.Address = *bridgeAddr
	}
	if *policyFile != "" {
		cfg.Policy.File = *policyFile
	}
	if *dev {
		cfg.Logging.Development = true
	}

	srv, err := server.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

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
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	case err := <-errChan:
		log.Fatalf("Server error: %v", err)
	}
}
