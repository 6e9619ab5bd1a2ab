// Package main provides the rackpatch dashboard server.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/raphaelgruber/rackpatch/internal/app"
	"github.com/raphaelgruber/rackpatch/internal/config"
	"github.com/raphaelgruber/rackpatch/internal/server"
)

const version = "0.1.0"

func main() {
	port := flag.Int("port", 0, "listen port (overrides RACKPATCH_SERVER_PORT)")
	flag.Parse()

	// Load configuration
	cfg := config.Load()
	if *port > 0 {
		cfg.ServerPort = *port
	}

	// Setup logger (dual output: stderr text + file JSON)
	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer cleanup()

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger.Info("rackpatch-server starting",
		"version", version,
		"api", cfg.APIBaseURL,
		"side_store", cfg.SideStore,
		"port", cfg.ServerPort,
	)

	// Handle shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("failed to close side store", "error", err)
		}
	}()

	err = server.Serve(ctx, a.Engine, server.Options{
		Port:      cfg.ServerPort,
		Collector: a.Collector,
		Options:   a.Options,
	}, logger)
	if err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
