package main

import (
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/ilyaf835/lamb2-dev/internal/v1/extractor"
	"github.com/ilyaf835/lamb2-dev/internal/v1/logging"
)

// The extractor is spawned by a balancer with its listen address in the
// environment; it can also run standalone for development.
func main() {
	addr := os.Getenv("EXTRACTOR_ADDR")
	if addr == "" {
		addr = "127.0.0.1:7900"
	}
	ytdlpBin := os.Getenv("YTDLP_BIN")
	if ytdlpBin == "" {
		ytdlpBin = "yt-dlp"
	}
	count := 1
	if raw := os.Getenv("EXTRACTORS_COUNT"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			slog.Error("EXTRACTORS_COUNT must be a positive integer", "value", raw)
			os.Exit(1)
		}
		count = n
	}
	if err := logging.Initialize(os.Getenv("DEVELOPMENT_MODE") == "true"); err != nil {
		slog.Error("Logger initialization failed", "error", err)
		os.Exit(1)
	}

	extractors := make([]extractor.Extractor, count)
	for i := range extractors {
		extractors[i] = extractor.NewYtDlp(ytdlpBin)
	}
	srv, err := extractor.NewServer(extractors)
	if err != nil {
		slog.Error("Server initialization failed", "error", err)
		os.Exit(1)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		slog.Error("Listener failed", "addr", addr, "error", err)
		os.Exit(1)
	}
	slog.Info("Extractor listening", "addr", ln.Addr().String(), "extractors", count)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		slog.Info("Shutting down extractor...")
	case err := <-serveErr:
		if err != nil {
			slog.Error("Extractor stopped", "error", err)
		}
	}
	srv.Shutdown()
	slog.Info("Extractor exiting")
}
