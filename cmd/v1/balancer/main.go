package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ilyaf835/lamb2-dev/internal/v1/balancer"
	"github.com/ilyaf835/lamb2-dev/internal/v1/config"
	"github.com/ilyaf835/lamb2-dev/internal/v1/logging"
	"github.com/ilyaf835/lamb2-dev/internal/v1/postgres"
	"github.com/ilyaf835/lamb2-dev/internal/v1/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("No .env file found, relying on environment variables")
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}
	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("Logger initialization failed", "error", err)
		os.Exit(1)
	}

	st, err := store.New(cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		slog.Error("Redis connection failed", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	repo, err := postgres.Open(cfg.PostgresDSN())
	if err != nil {
		slog.Error("Postgres connection failed", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	extractor, err := spawnExtractor(cfg)
	if err != nil {
		slog.Error("Extractor startup failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = extractor.Process.Signal(syscall.SIGTERM)
		_ = extractor.Wait()
	}()

	ln, err := net.Listen("tcp", cfg.ControlAddr)
	if err != nil {
		slog.Error("Control listener failed", "addr", cfg.ControlAddr, "error", err)
		os.Exit(1)
	}
	defer ln.Close()

	capacity := cfg.WorkersCount * cfg.InstancesCount
	b, err := balancer.Connect(cfg.AmqpURL, st, repo, capacity, cfg.HeartbeatTTL)
	if err != nil {
		slog.Error("Broker connection failed", "error", err)
		os.Exit(1)
	}

	if err := b.StartWorkers(ln, cfg.WorkersCount, cfg.WorkerBin, cfg.ExtractorAddr); err != nil {
		slog.Error("Worker startup failed", "error", err)
		b.Shutdown(context.Background())
		os.Exit(1)
	}
	slog.Info("Balancer running",
		"queue", b.QueueName(),
		"workers", cfg.WorkersCount,
		"capacity", capacity,
	)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- b.Run(ctx) }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		slog.Info("Shutting down balancer...")
	case err := <-runErr:
		if err != nil {
			slog.Error("Balancer stopped", "error", err)
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	b.Shutdown(shutdownCtx)
	slog.Info("Balancer exiting")
}

// spawnExtractor launches the extractor subprocess and waits until its RPC
// endpoint accepts connections.
func spawnExtractor(cfg *config.Config) (*exec.Cmd, error) {
	cmd := exec.Command(cfg.ExtractorBin)
	cmd.Env = append(os.Environ(),
		"EXTRACTOR_ADDR="+cfg.ExtractorAddr,
		"YTDLP_BIN="+cfg.YtDlpBin,
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", cfg.ExtractorAddr, time.Second)
		if err == nil {
			conn.Close()
			return cmd, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	_ = cmd.Process.Kill()
	_ = cmd.Wait()
	return nil, fmt.Errorf("extractor did not accept connections on %s", cfg.ExtractorAddr)
}
