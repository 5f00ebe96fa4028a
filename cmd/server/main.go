package main

// Command server runs the climate alert service: the detection REST API,
// the alert WebSocket feed, gRPC health and the archive scheduler.
//
// Configuration comes from the YAML file named by --config (or
// CLIMATE_CONFIG) with CLIMATE_* environment overrides.

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Cyoda-platform/uruguay-climate-change/internal/config"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/server"
)

func main() {
	configPath := flag.String("config", os.Getenv("CLIMATE_CONFIG"), "path to the YAML config file")
	flag.Parse()

	ctx := context.Background()
	mgr, err := config.NewConfigManager(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create config manager: %v\n", err)
		os.Exit(1)
	}
	if err := mgr.Load(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := mgr.Validate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := mgr.Get(ctx)

	srv, err := server.New(cfg, server.WithConfigManager(mgr))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create server: %v\n", err)
		os.Exit(1)
	}
	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start server: %v\n", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	fmt.Println("\nReceived shutdown signal...")

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Error stopping server: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Shutdown complete")
}
