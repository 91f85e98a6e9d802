package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ilyaf835/lamb2-dev/internal/v1/config"
	"github.com/ilyaf835/lamb2-dev/internal/v1/frontend"
	"github.com/ilyaf835/lamb2-dev/internal/v1/health"
	"github.com/ilyaf835/lamb2-dev/internal/v1/logging"
	"github.com/ilyaf835/lamb2-dev/internal/v1/postgres"
	"github.com/ilyaf835/lamb2-dev/internal/v1/ratelimit"
	"github.com/ilyaf835/lamb2-dev/internal/v1/router"
	"github.com/ilyaf835/lamb2-dev/internal/v1/store"
)

func main() {
	// Load .env file for local development.
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}
	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
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
	{
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := repo.EnsureSchema(ctx); err != nil {
			cancel()
			slog.Error("Schema migration failed", "error", err)
			os.Exit(1)
		}
		cancel()
	}

	rt, err := router.Connect(cfg.AmqpURL, st)
	if err != nil {
		slog.Error("Broker connection failed", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	svc := frontend.NewService(st, repo, rt, cfg.ChatURL, cfg.SessionTTL)
	rl, err := ratelimit.New(cfg.RateLimitAPI, cfg.RateLimitWS, st.Client())
	if err != nil {
		slog.Error("Rate limiter initialization failed", "error", err)
		os.Exit(1)
	}
	handler := frontend.NewHandler(svc, cfg.Secret, cfg.AllowedOrigins, rl)
	engine := frontend.NewRouter(handler, health.NewHandler(st, repo, rt))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: engine,
	}
	go func() {
		slog.Info("Frontend starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to run server", "error", err)
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down frontend...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	slog.Info("Frontend exiting")
}
