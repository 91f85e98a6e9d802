package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ilyaf835/lamb2-dev/internal/v1/extractor"
	"github.com/ilyaf835/lamb2-dev/internal/v1/logging"
	"github.com/ilyaf835/lamb2-dev/internal/v1/worker"
)

// The worker is always spawned by a balancer, which hands it the control
// and extractor endpoints through the environment.
func main() {
	controlAddr := os.Getenv("CONTROL_ADDR")
	if controlAddr == "" {
		slog.Error("CONTROL_ADDR is required")
		os.Exit(1)
	}
	if err := logging.Initialize(os.Getenv("DEVELOPMENT_MODE") == "true"); err != nil {
		slog.Error("Logger initialization failed", "error", err)
		os.Exit(1)
	}

	extractorAddr := os.Getenv("EXTRACTOR_ADDR")
	if extractorAddr == "" {
		slog.Error("EXTRACTOR_ADDR is required")
		os.Exit(1)
	}
	source, err := extractor.Dial(extractorAddr)
	if err != nil {
		slog.Error("Extractor connection failed", "addr", extractorAddr, "error", err)
		os.Exit(1)
	}
	defer source.Close()

	m, err := worker.Connect(controlAddr, os.Getenv("CHAT_URL"), source)
	if err != nil {
		slog.Error("Control connection failed", "addr", controlAddr, "error", err)
		os.Exit(1)
	}
	slog.Info("Worker connected", "control", controlAddr)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- m.Run(ctx) }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		slog.Info("Shutting down worker...")
	case err := <-runErr:
		if err != nil {
			slog.Error("Worker stopped", "error", err)
		}
	}
	cancel()
	m.Close()
	slog.Info("Worker exiting")
}
